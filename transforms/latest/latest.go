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

// Package latest keeps the value with the latest event time per key.
package latest

import (
	"time"

	"lostluck.dev/beamx"
)

// Timestamped is a value with the event time it had when reified.
type Timestamped[V beam.Element] struct {
	Value     V
	EventTime time.Time
}

type reifyFn[K beam.Keys, V beam.Element] struct {
	Output beam.PCol[beam.KV[K, Timestamped[V]]]
}

func (fn *reifyFn[K, V]) ProcessBundle(dfc *beam.DFC[beam.KV[K, V]]) error {
	return dfc.Process(func(ec beam.ElmC, kv beam.KV[K, V]) error {
		fn.Output.Emit(ec, beam.Pair(kv.Key, Timestamped[V]{Value: kv.Value, EventTime: ec.EventTime()}))
		return nil
	})
}

// Reify pairs each value with its event time, so it survives grouping.
func Reify[K beam.Keys, V beam.Element](s *beam.Scope, input beam.PCol[beam.KV[K, V]], opts ...beam.Options) beam.PCol[beam.KV[K, Timestamped[V]]] {
	return beam.ParDo(s, input, &reifyFn[K, V]{}, append([]beam.Options{beam.Name("Reify")}, opts...)...).Output
}

// Accum is the accumulator of [Combiner].
type Accum[V beam.Element] struct {
	Latest Timestamped[V]
	Set    bool
}

func add[V beam.Element](a Accum[V], v Timestamped[V]) Accum[V] {
	if !a.Set || v.EventTime.After(a.Latest.EventTime) {
		return Accum[V]{Latest: v, Set: true}
	}
	return a
}

func merge[V beam.Element](a, b Accum[V]) Accum[V] {
	if !b.Set {
		return a
	}
	return add(a, b.Latest)
}

// Combiner keeps the latest of the reified values of each group. Which
// value wins among those with equal event times is unspecified.
func Combiner[V beam.Element]() beam.Combiner[Accum[V], Timestamped[V], V] {
	return beam.CombineFns(
		nil,
		add[V],
		merge[V],
		func(a Accum[V]) V { return a.Latest.Value },
	)
}

// PerKey emits the value with the latest event time for each key and
// window, spreading the values of each key over fanout shards.
func PerKey[K beam.Keys, V beam.Element](s *beam.Scope, input beam.PCol[beam.KV[K, V]], fanout int, opts ...beam.Options) beam.PCol[beam.KV[K, V]] {
	s = s.Scope("LatestPerKey")
	return beam.CombinePerKeyWithFanout(s, Reify(s, input), fanout, Combiner[V](), opts...)
}
