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

package top

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lostluck.dev/beamx"
)

func topPerKey[E beam.Element](t *testing.T, input []beam.KV[string, E], fanout int, comb beam.Combiner[[]E, E, []E]) (map[string][]E, error) {
	t.Helper()
	var got *beam.Materialized[beam.KV[string, []E]]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		in := beam.Create(s, input...)
		if fanout == 0 {
			got = beam.Materialize(s, beam.CombinePerKey(s, in, comb))
		} else {
			got = beam.Materialize(s, beam.CombinePerKeyWithFanout(s, in, fanout, comb))
		}
		return nil
	}, beam.Name(t.Name()), beam.BundleSize(3))
	if err != nil {
		return nil, err
	}
	out := map[string][]E{}
	for _, kv := range got.Values() {
		out[kv.Key] = kv.Value
	}
	return out, nil
}

func TestLargest(t *testing.T) {
	input := []beam.KV[string, int]{
		{Key: "a", Value: 1}, {Key: "a", Value: 2}, {Key: "a", Value: 3}, {Key: "a", Value: 4},
		{Key: "b", Value: 5}, {Key: "b", Value: 6}, {Key: "b", Value: 7}, {Key: "b", Value: 8},
	}
	want := map[string][]int{"a": {4, 3, 2}, "b": {8, 7, 6}}
	for _, fanout := range []int{0, 1, 2, 5} {
		t.Run(fmt.Sprint(fanout), func(t *testing.T) {
			got, err := topPerKey(t, input, fanout, Largest[int](3))
			if err != nil {
				t.Fatal(err)
			}
			if d := cmp.Diff(want, got); d != "" {
				t.Errorf("top 3 diff (-want,+got):\n%v", d)
			}
		})
	}
}

func TestSmallest_fewerThanK(t *testing.T) {
	input := []beam.KV[string, string]{{Key: "k", Value: "pear"}, {Key: "k", Value: "apple"}, {Key: "j", Value: "fig"}}
	got, err := topPerKey(t, input, 4, Smallest[string](5))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{"k": {"apple", "pear"}, "j": {"fig"}}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("smallest diff (-want,+got):\n%v", d)
	}
}

func TestOf_duplicates(t *testing.T) {
	var input []beam.KV[string, int]
	for i := range 40 {
		input = append(input, beam.Pair("k", i%7))
	}
	got, err := topPerKey(t, input, 6, Largest[int](8))
	if err != nil {
		t.Fatal(err)
	}
	// Each of 0..6 appears 5 or 6 times.
	want := map[string][]int{"k": {6, 6, 6, 6, 6, 5, 5, 5}}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("largest diff (-want,+got):\n%v", d)
	}
}

func TestOf_invalidK(t *testing.T) {
	_, err := topPerKey(t, []beam.KV[string, int]{{Key: "a", Value: 1}}, 2, Largest[int](0))
	var cerr *beam.ConfigError
	if !errors.As(err, &cerr) {
		t.Errorf("got %v, want a ConfigError", err)
	}
}

func TestOf_merge(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	comb := Of(3, less)
	// One element per bundle, so most values meet in merges.
	var input []beam.KV[int, int]
	for _, v := range []int{9, 3, 7, 1, 8, 2, 6} {
		input = append(input, beam.Pair(0, v))
	}
	var got *beam.Materialized[beam.KV[int, []int]]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		got = beam.Materialize(s, beam.CombinePerKeyWithFanout(s, beam.Create(s, input...), 7, comb))
		return nil
	}, beam.Name(t.Name()), beam.BundleSize(1))
	if err != nil {
		t.Fatal(err)
	}
	vals := got.Values()
	if len(vals) != 1 || !slices.Equal(vals[0].Value, []int{1, 2, 3}) {
		t.Errorf("got %v, want [(0, [1 2 3])]", vals)
	}
}
