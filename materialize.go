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
	"slices"
	"sync"
	"time"
)

// Materialized holds the elements of a PCollection once the pipeline
// has run. Elements are in no particular order.
type Materialized[E Element] struct {
	mu   sync.Mutex
	elms []WindowedValue[E]
}

// WindowedValue is an element together with its metadata.
type WindowedValue[E Element] struct {
	Elm       E
	EventTime time.Time
	Window    Window
	Pane      Pane
}

// Values returns the materialized elements.
func (m *Materialized[E]) Values() []E {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]E, len(m.elms))
	for i, wv := range m.elms {
		out[i] = wv.Elm
	}
	return out
}

// Windowed returns the materialized elements with their metadata.
func (m *Materialized[E]) Windowed() []WindowedValue[E] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.elms)
}

func (m *Materialized[E]) add(wvs []WindowedValue[E]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elms = append(m.elms, wvs...)
}

type materializeFn[E Element] struct {
	m *Materialized[E]

	ObserveWindow
	OnBundleFinish
}

func (fn *materializeFn[E]) ProcessBundle(dfc *DFC[E]) error {
	var pending []WindowedValue[E]
	fn.OnBundleFinish.Do(dfc, func() error {
		fn.m.add(pending)
		return nil
	})
	return dfc.Process(func(ec ElmC, elm E) error {
		for _, w := range ec.windows {
			pending = append(pending, WindowedValue[E]{Elm: elm, EventTime: ec.EventTime(), Window: w, Pane: fn.PaneOf(ec)})
		}
		return nil
	})
}

// Materialize collects the elements of input, so they can be read after
// LaunchAndWait returns. Elements appear once per window.
func Materialize[E Element](s *Scope, input PCol[E], opts ...Options) *Materialized[E] {
	m := &Materialized[E]{}
	ParDo(s, input, &materializeFn[E]{m: m}, withDefaultName(opts, "Materialize")...)
	return m
}
