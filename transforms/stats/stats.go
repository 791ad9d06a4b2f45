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

// Package stats provides numeric combiners, for use with
// [beam.CombinePerKey] and [beam.CombinePerKeyWithFanout].
package stats

import (
	"golang.org/x/exp/constraints"
	"lostluck.dev/beamx"
)

// Number is any integer or floating point type.
type Number interface {
	constraints.Integer | constraints.Float
}

type sumFn[N Number] struct{}

func (sumFn[N]) CreateAccumulator() N {
	return 0
}

func (sumFn[N]) MergeAccumulators(a, b N) N {
	return a + b
}

// Sum adds the values of each group. Integer sums may overflow.
func Sum[N Number]() beam.Combiner[N, N, N] {
	return beam.SimpleMerge[N](sumFn[N]{})
}

// Min keeps the smallest value of each group.
func Min[N constraints.Ordered]() beam.Combiner[N, N, N] {
	return beam.Reduce(func(a, b N) N { return min(a, b) })
}

// Max keeps the largest value of each group.
func Max[N constraints.Ordered]() beam.Combiner[N, N, N] {
	return beam.Reduce(func(a, b N) N { return max(a, b) })
}

type countFn[E beam.Element] struct{}

func (countFn[E]) CreateAccumulator() int64 {
	return 0
}

func (countFn[E]) AddInput(a int64, _ E) int64 {
	return a + 1
}

func (countFn[E]) MergeAccumulators(a, b int64) int64 {
	return a + b
}

// Count counts the values of each group.
func Count[E beam.Element]() beam.Combiner[int64, E, int64] {
	return beam.AddMerge[int64, E](countFn[E]{})
}

// MeanAccum is the accumulator of [Mean].
type MeanAccum[N Number] struct {
	Count int64
	Sum   N
}

type meanFn[N Number] struct{}

func (meanFn[N]) AddInput(a MeanAccum[N], v N) MeanAccum[N] {
	a.Count++
	a.Sum += v
	return a
}

func (meanFn[N]) MergeAccumulators(a, b MeanAccum[N]) MeanAccum[N] {
	return MeanAccum[N]{Count: a.Count + b.Count, Sum: a.Sum + b.Sum}
}

func (meanFn[N]) ExtractOutput(a MeanAccum[N]) float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.Count)
}

// Mean averages the values of each group, by summing the values and
// their count separately, and dividing at the end.
func Mean[N Number]() beam.Combiner[MeanAccum[N], N, float64] {
	return beam.FullCombine[MeanAccum[N], N, float64](meanFn[N]{})
}
