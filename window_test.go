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
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFixedWindows_assign(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		size      time.Duration
		at        time.Time
		wantStart time.Time
	}{
		{time.Minute, base, base},
		{time.Minute, base.Add(59 * time.Second), base},
		{time.Minute, base.Add(time.Minute), base.Add(time.Minute)},
		{time.Hour, base.Add(90 * time.Minute), base.Add(time.Hour)},
		{time.Second, time.UnixMilli(-1500).UTC(), time.UnixMilli(-2000).UTC()},
	}
	for _, test := range tests {
		ws := FixedWindows(test.size).assignWindows(test.at)
		if len(ws) != 1 {
			t.Fatalf("assignWindows(%v) = %v, want one window", test.at, ws)
		}
		iw := ws[0].(IntervalWindow)
		if !iw.Start.Equal(test.wantStart) || !iw.End.Equal(test.wantStart.Add(test.size)) {
			t.Errorf("FixedWindows(%v).assignWindows(%v) = %v, want start %v", test.size, test.at, iw, test.wantStart)
		}
		if got, want := iw.MaxTimestamp(), iw.End.Add(-time.Millisecond); !got.Equal(want) {
			t.Errorf("%v.MaxTimestamp() = %v, want %v", iw, got, want)
		}
	}
}

func TestFixedWindows_validate(t *testing.T) {
	for _, size := range []time.Duration{0, -time.Second, time.Microsecond, 1500 * time.Microsecond} {
		if err := FixedWindows(size).validate(); err == nil {
			t.Errorf("FixedWindows(%v).validate() succeeded, want error", size)
		}
	}
	if err := FixedWindows(time.Second).validate(); err != nil {
		t.Errorf("FixedWindows(1s).validate() = %v", err)
	}
}

func TestGlobalWindow(t *testing.T) {
	if got := (GlobalWindow{}).MaxTimestamp(); !got.Before(MaxTimestamp) {
		t.Errorf("global window ends at %v, want before %v", got, MaxTimestamp)
	}
	if got, want := GlobalWindows().assignWindows(time.Now()), []Window{GlobalWindow{}}; !cmp.Equal(got, want) {
		t.Errorf("GlobalWindows().assignWindows() = %v, want %v", got, want)
	}
}

func TestGBK_metadata(t *testing.T) {
	var sources *Materialized[int]
	var grouped *Materialized[KV[int, Iter[int]]]
	_, err := LaunchAndWait(context.TODO(), func(s *Scope) error {
		src := ParDo(s, Impulse(s), &SourceFn{Count: 10})
		sources = Materialize(s, src.Output)
		keyed := ParDo(s, src.Output, &KeyMod[int]{Mod: 3})
		grouped = Materialize(s, GBK(s, keyed.Output))
		return nil
	}, pipeName(t), BundleSize(4))
	if err != nil {
		t.Fatal(err)
	}
	for _, wv := range sources.Windowed() {
		if !wv.EventTime.Equal(MinTimestamp) || wv.Window != (GlobalWindow{}) || wv.Pane != noFiringPane {
			t.Errorf("source element %v has metadata %v %v %+v", wv.Elm, wv.EventTime, wv.Window, wv.Pane)
		}
	}
	sizes := map[int]int{}
	for _, wv := range grouped.Windowed() {
		sizes[wv.Elm.Key] = wv.Elm.Value.Len()
		if !wv.EventTime.Equal(endOfGlobalWindow) || wv.Pane != onTimePane {
			t.Errorf("group %v has metadata %v %+v", wv.Elm.Key, wv.EventTime, wv.Pane)
		}
	}
	if d := cmp.Diff(map[int]int{0: 4, 1: 3, 2: 3}, sizes); d != "" {
		t.Errorf("group sizes diff (-want,+got):\n%v", d)
	}
}
