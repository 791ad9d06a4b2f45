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

package latest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"lostluck.dev/beamx"
)

type reading struct {
	Sensor string
	At     time.Duration
	Temp   float64
}

func TestPerKey(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	readings := []reading{
		{"s1", 5 * time.Second, 20.5},
		{"s1", 1 * time.Second, 18},
		{"s1", 9 * time.Second, 22}, // Latest for s1.
		{"s1", 3 * time.Second, 25},
		{"s2", 2 * time.Second, 10},
		{"s2", 8 * time.Second, 12}, // Latest for s2.
		{"s3", 0, 5},
	}
	for _, fanout := range []int{1, 3, 8} {
		t.Run(fmt.Sprint(fanout), func(t *testing.T) {
			var got *beam.Materialized[beam.KV[string, float64]]
			_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
				in := beam.WithTimestamps(s, beam.Create(s, readings...), func(r reading) time.Time { return base.Add(r.At) })
				kvs := beam.Map(s, in, func(r reading) beam.KV[string, float64] { return beam.Pair(r.Sensor, r.Temp) })
				got = beam.Materialize(s, PerKey(s, kvs, fanout))
				return nil
			}, beam.Name(t.Name()), beam.BundleSize(2))
			if err != nil {
				t.Fatal(err)
			}
			out := map[string]float64{}
			for _, kv := range got.Values() {
				out[kv.Key] = kv.Value
			}
			want := map[string]float64{"s1": 22, "s2": 12, "s3": 5}
			if d := cmp.Diff(want, out); d != "" {
				t.Errorf("latest diff (-want,+got):\n%v", d)
			}
		})
	}
}

func TestCombiner_minTimestamp(t *testing.T) {
	// Created elements are at the minimum timestamp, earlier than the zero time.
	var got *beam.Materialized[beam.KV[string, string]]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		got = beam.Materialize(s, PerKey(s, beam.Create(s, beam.Pair("k", "only")), 2))
		return nil
	}, beam.Name(t.Name()))
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]beam.KV[string, string]{{Key: "k", Value: "only"}}, got.Values()); d != "" {
		t.Errorf("latest diff (-want,+got):\n%v", d)
	}
}

func TestMerge(t *testing.T) {
	at := func(sec int64, v string) Accum[string] {
		return Accum[string]{Latest: Timestamped[string]{Value: v, EventTime: time.Unix(sec, 0)}, Set: true}
	}
	tests := []struct {
		a, b Accum[string]
		want string
	}{
		{at(1, "a"), at(2, "b"), "b"},
		{at(3, "a"), at(2, "b"), "a"},
		{at(3, "a"), Accum[string]{}, "a"},
		{Accum[string]{}, at(-5, "b"), "b"},
	}
	for _, test := range tests {
		if got := merge(test.a, test.b).Latest.Value; got != test.want {
			t.Errorf("merge(%+v, %+v) = %q, want %q", test.a, test.b, got, test.want)
		}
	}
}
