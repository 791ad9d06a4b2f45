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

package beam_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"lostluck.dev/beamx"
)

func pipeName(t *testing.T) beam.Options {
	return beam.Name(t.Name())
}

type countFn[E comparable] struct {
	Countable []E

	Hit, Miss beam.CounterInt64
}

func (fn *countFn[E]) ProcessBundle(dfc *beam.DFC[E]) error {
	return dfc.Process(func(ec beam.ElmC, elm E) error {
		for _, countable := range fn.Countable {
			if elm == countable {
				fn.Hit.Inc(dfc, 1)
				return nil
			}
		}
		fn.Miss.Inc(dfc, 1)
		return nil
	})
}

func TestLightweight(t *testing.T) {
	p, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		imp := beam.Impulse(s)
		wantWord := "squeamish_ossiphrage"
		out1 := beam.Map(s, imp, func([]byte) string { return wantWord })
		beam.ParDo(s, out1, &countFn[string]{
			Countable: []string{wantWord},
		}, beam.Name("count"))
		return nil
	}, pipeName(t))
	if err != nil {
		t.Errorf("pipeline failed: %v", err)
	}
	if got, want := p.Counters["count.Hit"], int64(1); got != want {
		t.Errorf("Hit an unexpected amount, got %v, want %v", got, want)
	}
	if got, want := p.Counters["count.Miss"], int64(0); got != want {
		t.Errorf("Missed an unexpected amount, got %v, want %v", got, want)
	}
}

func TestFilterKeyBy(t *testing.T) {
	var got *beam.Materialized[beam.KV[bool, int]]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		nums := beam.Create(s, 1, 2, 3, 4, 5, 6, 7, 8, 9)
		small := beam.Filter(s, nums, func(v int) bool { return v < 7 })
		got = beam.Materialize(s, beam.KeyBy(s, small, func(v int) bool { return v%2 == 0 }))
		return nil
	}, pipeName(t), beam.BundleSize(4))
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	want := []beam.KV[bool, int]{
		{false, 1}, {true, 2}, {false, 3}, {true, 4}, {false, 5}, {true, 6},
	}
	less := func(a, b beam.KV[bool, int]) bool { return a.Value < b.Value }
	if d := cmp.Diff(want, got.Values(), cmpopts.SortSlices(less)); d != "" {
		t.Errorf("keyed diff (-want,+got):\n%v", d)
	}
}
