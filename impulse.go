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

	"lostluck.dev/beamx/internal/beamopts"
)

// Impulse adds an impulse transform to the graph, which emits single element
// to downstream transforms, allowing processing to begin.
//
// The element is a single byte slice in the global window, with an event timestamp
// at the start of the global window.
func Impulse(s *Scope) PCol[[]byte] {
	return addSource[[]byte](s, "Impulse", []any{[]byte{}})
}

// Create produces a PCollection of the given values, in the global window,
// with event timestamps at the start of the global window.
func Create[E Element](s *Scope, values ...E) PCol[E] {
	elms := make([]any, len(values))
	for i, v := range values {
		elms[i] = v
	}
	return addSource[E](s, "Create", elms)
}

func addSource[E Element](s *Scope, name string, elms []any, opts ...Options) PCol[E] {
	var opt beamopts.Struct
	opt.Join(withDefaultName(opts, name)...)

	edgeID := s.g.curEdgeIndex()
	out := newOutput[E](s.g, edgeID)
	s.g.edges = append(s.g.edges, &edgeSource{index: edgeID, transform: s.qualify(opt.Name), elms: elms, output: out.globalIndex})
	return out
}

// edgeSource represents an Impulse or Create transform.
type edgeSource struct {
	index     edgeIndex
	transform string

	elms   []any
	output nodeIndex
}

func (e *edgeSource) edgeID() edgeIndex {
	return e.index
}

func (e *edgeSource) name() string {
	return e.transform
}

// inputs for sources are nil.
func (e *edgeSource) inputs() map[string]nodeIndex {
	return nil
}

// outputs for sources are one.
func (e *edgeSource) outputs() map[string]nodeIndex {
	return map[string]nodeIndex{"o0": e.output}
}

func (e *edgeSource) execute(ctx context.Context, ex *execution) error {
	buf := &bundleBuffer{elms: make([]windowed, len(e.elms))}
	ec := elmContext{
		eventTime: MinTimestamp,
		windows:   []Window{GlobalWindow{}},
		pane:      noFiringPane,
	}
	for i, elm := range e.elms {
		buf.elms[i] = windowed{elmContext: ec, elm: elm}
	}
	ex.commit([]nodeIndex{e.output}, []*bundleBuffer{buf}, nil)
	return ctx.Err()
}
