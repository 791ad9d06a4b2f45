// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package beam

import "math/rand/v2"

// workerfns.go is where SDK side DoFns of the composite transforms live.
// Note that they are implemented in the same manner as user DoFns.

// combineGroupFn combines all values of a group directly.
type combineGroupFn[K Keys, I, A, O Element] struct {
	comb Combiner[A, I, O]

	Output PCol[KV[K, O]]
}

func (fn *combineGroupFn[K, I, A, O]) ProcessBundle(dfc *DFC[KV[K, Iter[I]]]) error {
	return dfc.Process(func(ec ElmC, kv KV[K, Iter[I]]) error {
		acc, ok := fn.comb.addInputs(kv.Value.All())
		if !ok {
			return &EmptyGroupError{Key: kv.Key}
		}
		fn.Output.Emit(ec, KV[K, O]{Key: kv.Key, Value: fn.comb.extractOutput(acc)})
		return nil
	})
}

// shardedKey is a key, extended with the shard its value was assigned to.
type shardedKey[K Keys] struct {
	Key   K
	Shard int
}

// addShardFn assigns each value to a random shard of its key.
type addShardFn[K Keys, V Element] struct {
	fanout fanout[K]
	seed   uint64 // Used when no Seed option is set.

	Sharded CounterInt64 // Values of keys with a fanout above 1.

	OnBundleFinish
	Output PCol[KV[shardedKey[K], V]]
}

func (fn *addShardFn[K, V]) ProcessBundle(dfc *DFC[KV[K, V]]) error {
	// Each bundle draws from its own stream, picked by the bundle's position
	// in the stage rather than the order workers start bundles in.
	rng := rand.New(rand.NewPCG(dfc.seedOr(fn.seed), uint64(dfc.bundleIndex)))
	var sharded int64
	fn.OnBundleFinish.Do(dfc, func() error {
		fn.Sharded.Inc(dfc, sharded)
		return nil
	})
	return dfc.Process(func(ec ElmC, kv KV[K, V]) error {
		n, err := fn.fanout.of(kv.Key)
		if err != nil {
			return &ConfigError{Transform: dfc.Transform(), Err: err}
		}
		if n > 1 {
			sharded++
		}
		fn.Output.Emit(ec, KV[shardedKey[K], V]{
			Key:   shardedKey[K]{Key: kv.Key, Shard: rng.IntN(n)},
			Value: kv.Value,
		})
		return nil
	})
}

// partialCombineFn combines the values of a single shard of a key,
// emitting the accumulator under the original key.
type partialCombineFn[K Keys, I, A, O Element] struct {
	comb Combiner[A, I, O]

	Output PCol[KV[K, A]]
}

func (fn *partialCombineFn[K, I, A, O]) ProcessBundle(dfc *DFC[KV[shardedKey[K], Iter[I]]]) error {
	return dfc.Process(func(ec ElmC, kv KV[shardedKey[K], Iter[I]]) error {
		acc, ok := fn.comb.addInputs(kv.Value.All())
		if !ok {
			// Groups are never empty.
			return nil
		}
		fn.Output.Emit(ec, KV[K, A]{Key: kv.Key.Key, Value: acc})
		return nil
	})
}

// mergeCombineFn merges the partial accumulators of a key and extracts
// the output.
type mergeCombineFn[K Keys, I, A, O Element] struct {
	comb Combiner[A, I, O]

	Output PCol[KV[K, O]]
}

func (fn *mergeCombineFn[K, I, A, O]) ProcessBundle(dfc *DFC[KV[K, Iter[A]]]) error {
	return dfc.Process(func(ec ElmC, kv KV[K, Iter[A]]) error {
		acc, ok := fn.comb.mergeAccumulators(kv.Value.All())
		if !ok {
			return &EmptyGroupError{Key: kv.Key}
		}
		fn.Output.Emit(ec, KV[K, O]{Key: kv.Key, Value: fn.comb.extractOutput(acc)})
		return nil
	})
}
