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

// Package top provides combiners that keep the best K values of a group.
package top

import (
	"cmp"
	"slices"

	"lostluck.dev/beamx"
)

// Of keeps the k best values of each group, where a is better than b if
// better(a, b). The output is ordered from best to worst.
//
// If k is below 1 the combiner is unset, and the pipeline fails to build.
func Of[E beam.Element](k int, better func(a, b E) bool) beam.Combiner[[]E, E, []E] {
	if k < 1 || better == nil {
		return beam.Combiner[[]E, E, []E]{}
	}
	order := func(a, b E) int {
		switch {
		case better(a, b):
			return -1
		case better(b, a):
			return 1
		}
		return 0
	}
	add := func(acc []E, v E) []E {
		i, _ := slices.BinarySearchFunc(acc, v, order)
		if i >= k {
			return acc
		}
		// Ties go after existing values, which are kept.
		for i < len(acc) && order(acc[i], v) == 0 {
			i++
		}
		if i >= k {
			return acc
		}
		acc = slices.Insert(acc, i, v)
		if len(acc) > k {
			acc = acc[:k]
		}
		return acc
	}
	merge := func(a, b []E) []E {
		out := make([]E, 0, min(k, len(a)+len(b)))
		for len(out) < k && (len(a) > 0 || len(b) > 0) {
			if len(b) == 0 || (len(a) > 0 && order(a[0], b[0]) <= 0) {
				out, a = append(out, a[0]), a[1:]
			} else {
				out, b = append(out, b[0]), b[1:]
			}
		}
		return out
	}
	return beam.CombineFns(
		func() []E { return nil },
		add,
		merge,
		func(acc []E) []E { return acc },
	)
}

// Largest keeps the k largest values of each group, largest first.
func Largest[E cmp.Ordered](k int) beam.Combiner[[]E, E, []E] {
	return Of(k, func(a, b E) bool { return cmp.Less(b, a) })
}

// Smallest keeps the k smallest values of each group, smallest first.
func Smallest[E cmp.Ordered](k int) beam.Combiner[[]E, E, []E] {
	return Of(k, cmp.Less[E])
}
