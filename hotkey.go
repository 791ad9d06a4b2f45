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

import (
	"fmt"
	"math/rand/v2"

	"lostluck.dev/beamx/internal/beamopts"
)

// fanout decides how many shards the values of a key are spread over.
type fanout[K Keys] struct {
	fixed int
	fn    func(K) int
}

func (f fanout[K]) validate() error {
	if f.fn == nil && f.fixed < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidFanout, f.fixed)
	}
	return nil
}

func (f fanout[K]) of(k K) (int, error) {
	if f.fn == nil {
		return f.fixed, nil
	}
	n := f.fn(k)
	if n < 1 {
		return 0, fmt.Errorf("%w, got %d for key %v", ErrInvalidFanout, n, k)
	}
	return n, nil
}

// CombinePerKeyWithFanout combines the values of each key like
// [CombinePerKey], but in two stages, to avoid a single worker
// aggregating all the values of a hot key.
//
// The values of each key are first spread at random over n shards, and
// combined into partial accumulators per shard. The partial accumulators
// are then merged per key, and the output extracted. A fanout of 1 still
// runs both stages. The combiner must be associative and commutative for
// the result to match CombinePerKey's.
//
// A fanout below 1 fails the pipeline before it runs. Shard assignment
// is random, use the [Seed] option to make it repeatable.
func CombinePerKeyWithFanout[K Keys, I, A, O Element](s *Scope, input PCol[KV[K, I]], n int, comb Combiner[A, I, O], opts ...Options) PCol[KV[K, O]] {
	return combinePerKeyWithFanout(s, input, fanout[K]{fixed: n}, comb, opts)
}

// CombinePerKeyWithFanoutFunc is like [CombinePerKeyWithFanout], but the
// number of shards is chosen per key by fanoutFn, so only known hot keys
// need to be spread. If fanoutFn returns a value below 1 for a key, the
// pipeline fails with a ConfigError.
func CombinePerKeyWithFanoutFunc[K Keys, I, A, O Element](s *Scope, input PCol[KV[K, I]], fanoutFn func(K) int, comb Combiner[A, I, O], opts ...Options) PCol[KV[K, O]] {
	if fanoutFn == nil {
		// Caught by validate.
		return combinePerKeyWithFanout(s, input, fanout[K]{}, comb, opts)
	}
	return combinePerKeyWithFanout(s, input, fanout[K]{fn: fanoutFn}, comb, opts)
}

func combinePerKeyWithFanout[K Keys, I, A, O Element](s *Scope, input PCol[KV[K, I]], f fanout[K], comb Combiner[A, I, O], opts []Options) PCol[KV[K, O]] {
	var opt beamopts.Struct
	opt.Join(withDefaultName(opts, "CombinePerKeyWithFanout")...)
	s = s.Scope(opt.Name)
	if err := f.validate(); err != nil {
		s.g.fail(&ConfigError{Transform: s.path, Err: err})
	}
	if !comb.valid() {
		s.g.fail(&ConfigError{Transform: s.path, Err: errInvalidCombiner})
	}
	sharded := ParDo(s, input, &addShardFn[K, I]{fanout: f, seed: rand.Uint64()}, withName(opts, "AddShard")...)
	partial := ParDo(s, GBK(s, sharded.Output, Name("GroupByShard")), &partialCombineFn[K, I, A, O]{comb: comb}, withName(opts, "PartialCombine")...)
	merged := ParDo(s, GBK(s, partial.Output), &mergeCombineFn[K, I, A, O]{comb: comb}, withName(opts, "MergeCombine")...)
	return merged.Output
}
