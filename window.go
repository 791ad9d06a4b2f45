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
	"time"

	"lostluck.dev/beamx/internal/beamopts"
)

var (
	// MinTimestamp is the earliest representable event time.
	MinTimestamp = time.UnixMilli(-9223372036854775).UTC()
	// MaxTimestamp is the latest representable event time.
	MaxTimestamp = time.UnixMilli(9223372036854775).UTC()

	endOfGlobalWindow = MaxTimestamp.Add(-24 * time.Hour)
)

// Window is the event time scope of an element. Windows must be comparable,
// as elements are grouped per key and window.
type Window interface {
	// MaxTimestamp is the last event time that belongs to the window.
	MaxTimestamp() time.Time
	fmt.Stringer
}

// GlobalWindow is the single window covering all of event time.
type GlobalWindow struct{}

func (GlobalWindow) MaxTimestamp() time.Time {
	return endOfGlobalWindow
}

func (GlobalWindow) String() string {
	return "[*]"
}

// IntervalWindow covers the event times in [Start, End).
type IntervalWindow struct {
	Start, End time.Time
}

func (w IntervalWindow) MaxTimestamp() time.Time {
	return w.End.Add(-time.Millisecond)
}

func (w IntervalWindow) String() string {
	return fmt.Sprintf("[%v, %v)", w.Start.Format(time.RFC3339Nano), w.End.Format(time.RFC3339Nano))
}

// PaneTiming describes when a pane was produced relative to the watermark.
type PaneTiming int

const (
	PaneUnknown PaneTiming = iota
	PaneEarly
	PaneOnTime
	PaneLate
)

func (t PaneTiming) String() string {
	switch t {
	case PaneEarly:
		return "early"
	case PaneOnTime:
		return "on_time"
	case PaneLate:
		return "late"
	default:
		return "unknown"
	}
}

// Pane describes which firing of a window produced an element.
type Pane struct {
	Timing          PaneTiming
	IsFirst, IsLast bool
	Index           int64
}

var (
	noFiringPane = Pane{Timing: PaneUnknown, IsFirst: true, IsLast: true}
	onTimePane   = Pane{Timing: PaneOnTime, IsFirst: true, IsLast: true}
)

// elmContext is the per element metadata carried with every element.
type elmContext struct {
	eventTime time.Time
	windows   []Window
	pane      Pane
}

// ElmC is the per element context for the element being processed.
// Emitting with the ElmC of an input element carries its event time,
// windows and pane to the output.
type ElmC struct {
	elmContext

	pcollections []*bundleBuffer
}

// EventTime returns the event time of the element.
func (ec ElmC) EventTime() time.Time {
	return ec.eventTime
}

func (ec ElmC) withEventTime(t time.Time) ElmC {
	ec.eventTime = t
	return ec
}

func (ec ElmC) withWindows(ws []Window) ElmC {
	ec.windows = ws
	return ec
}

// WindowFn assigns windows to elements based on their event time.
type WindowFn interface {
	assignWindows(t time.Time) []Window
	validate() error
}

type globalWindows struct{}

func (globalWindows) assignWindows(time.Time) []Window {
	return []Window{GlobalWindow{}}
}

func (globalWindows) validate() error { return nil }

// GlobalWindows places all elements into the global window.
func GlobalWindows() WindowFn {
	return globalWindows{}
}

type fixedWindows struct {
	size time.Duration
}

func (f fixedWindows) assignWindows(t time.Time) []Window {
	ms, size := t.UnixMilli(), f.size.Milliseconds()
	offset := ms % size
	if offset < 0 {
		offset += size
	}
	start := time.UnixMilli(ms - offset).UTC()
	return []Window{IntervalWindow{Start: start, End: start.Add(f.size)}}
}

func (f fixedWindows) validate() error {
	if f.size < time.Millisecond || f.size%time.Millisecond != 0 {
		return fmt.Errorf("fixed window size must be a positive whole number of milliseconds, got %v", f.size)
	}
	return nil
}

// FixedWindows partitions event time into consecutive windows of
// the given size, aligned to the Unix epoch.
func FixedWindows(size time.Duration) WindowFn {
	return fixedWindows{size: size}
}

type timestamper[E Element] struct {
	fn func(E) time.Time

	Output PCol[E]
}

func (fn *timestamper[E]) ProcessBundle(dfc *DFC[E]) error {
	return dfc.Process(func(ec ElmC, elm E) error {
		fn.Output.Emit(ec.withEventTime(fn.fn(elm)), elm)
		return nil
	})
}

// WithTimestamps sets the event time of each element to the result of fn.
func WithTimestamps[E Element](s *Scope, input PCol[E], fn func(E) time.Time, opts ...Options) PCol[E] {
	return ParDo(s, input, &timestamper[E]{fn: fn}, withDefaultName(opts, "WithTimestamps")...).Output
}

type windowAssigner[E Element] struct {
	wfn WindowFn

	Output PCol[E]
}

func (fn *windowAssigner[E]) ProcessBundle(dfc *DFC[E]) error {
	return dfc.Process(func(ec ElmC, elm E) error {
		fn.Output.Emit(ec.withWindows(fn.wfn.assignWindows(ec.eventTime)), elm)
		return nil
	})
}

// WindowInto reassigns each element to windows chosen by wfn from the
// element's event time. Subsequent groupings are per key and window.
func WindowInto[E Element](s *Scope, input PCol[E], wfn WindowFn, opts ...Options) PCol[E] {
	opts = withDefaultName(opts, "WindowInto")
	if err := wfn.validate(); err != nil {
		var opt beamopts.Struct
		opt.Join(opts...)
		s.g.fail(&ConfigError{Transform: s.qualify(opt.Name), Err: err})
	}
	return ParDo(s, input, &windowAssigner[E]{wfn: wfn}, opts...).Output
}
