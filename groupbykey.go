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
	"math/rand/v2"
	"slices"

	"lostluck.dev/beamx/internal/beamopts"
)

// Keys is an [Element] that is also [comparable]. Elements are grouped by
// key equality.
type Keys interface {
	comparable
	Element
}

// GBK produces an output PCollection of values grouped by key and window.
//
// Each group is emitted at the end of its window, in an on time pane.
func GBK[K Keys, V Element](s *Scope, input PCol[KV[K, V]], opts ...Options) PCol[KV[K, Iter[V]]] {
	var opt beamopts.Struct
	opt.Join(withDefaultName(opts, "GroupByKey")...)
	name := s.qualify(opt.Name)
	s.g.checkInput(name, input.valid, input.globalIndex)

	edgeID := s.g.curEdgeIndex()
	s.g.addConsumer(input.globalIndex, edgeID)
	out := newOutput[KV[K, Iter[V]]](s.g, edgeID)
	s.g.edges = append(s.g.edges, &edgeGBK[K, V]{index: edgeID, transform: name, input: input.globalIndex, output: out.globalIndex})
	return out
}

// edgeGBK represents a Group By Key transform.
type edgeGBK[K Keys, V Element] struct {
	index     edgeIndex
	transform string

	input, output nodeIndex
}

func (e *edgeGBK[K, V]) edgeID() edgeIndex {
	return e.index
}

func (e *edgeGBK[K, V]) name() string {
	return e.transform
}

// inputs for GBKs are one.
func (e *edgeGBK[K, V]) inputs() map[string]nodeIndex {
	return map[string]nodeIndex{"i0": e.input}
}

// outputs for GBKs are one.
func (e *edgeGBK[K, V]) outputs() map[string]nodeIndex {
	return map[string]nodeIndex{"o0": e.output}
}

func (e *edgeGBK[K, V]) execute(ctx context.Context, ex *execution) error {
	type groupKey struct {
		key K
		win Window
	}
	groups := map[groupKey][]V{}
	var order []groupKey
	for _, wv := range ex.read(e.input) {
		kv, _ := wv.elm.(KV[K, V])
		for _, w := range wv.windows {
			gk := groupKey{key: kv.Key, win: w}
			if _, ok := groups[gk]; !ok {
				order = append(order, gk)
			}
			groups[gk] = append(groups[gk], kv.Value)
		}
	}
	out := &bundleBuffer{elms: make([]windowed, 0, len(order))}
	for _, gk := range order {
		out.elms = append(out.elms, windowed{
			elmContext: elmContext{
				eventTime: gk.win.MaxTimestamp(),
				windows:   []Window{gk.win},
				pane:      onTimePane,
			},
			elm: KV[K, Iter[V]]{Key: gk.key, Value: Iter[V]{vals: groups[gk]}},
		})
	}
	ex.commit([]nodeIndex{e.output}, []*bundleBuffer{out}, nil)
	return ctx.Err()
}

// Reshuffle redistributes elements in a random order, breaking any
// correlation between the producing bundles and the consuming ones.
// With the [Seed] option, the order is repeatable.
func Reshuffle[E Element](s *Scope, input PCol[E], opts ...Options) PCol[E] {
	var opt beamopts.Struct
	opt.Join(withDefaultName(opts, "Reshuffle")...)
	name := s.qualify(opt.Name)
	s.g.checkInput(name, input.valid, input.globalIndex)

	edgeID := s.g.curEdgeIndex()
	s.g.addConsumer(input.globalIndex, edgeID)
	out := newOutput[E](s.g, edgeID)
	s.g.edges = append(s.g.edges, &edgeReshuffle[E]{index: edgeID, transform: name, input: input.globalIndex, output: out.globalIndex, opts: opt})
	return out
}

// edgeReshuffle represents a Reshuffle transform.
type edgeReshuffle[E Element] struct {
	index     edgeIndex
	transform string

	input, output nodeIndex

	opts beamopts.Struct
}

func (e *edgeReshuffle[E]) edgeID() edgeIndex {
	return e.index
}

func (e *edgeReshuffle[E]) name() string {
	return e.transform
}

// inputs for Reshuffles are one.
func (e *edgeReshuffle[E]) inputs() map[string]nodeIndex {
	return map[string]nodeIndex{"i0": e.input}
}

// outputs for Reshuffles are one.
func (e *edgeReshuffle[E]) outputs() map[string]nodeIndex {
	return map[string]nodeIndex{"o0": e.output}
}

func (e *edgeReshuffle[E]) execute(ctx context.Context, ex *execution) error {
	elms := slices.Clone(ex.read(e.input))
	shuffle := rand.Shuffle
	if opts := ex.stageOptions(e.opts); opts.HasSeed {
		shuffle = rand.New(rand.NewPCG(opts.Seed, uint64(e.index))).Shuffle
	}
	shuffle(len(elms), func(i, j int) {
		elms[i], elms[j] = elms[j], elms[i]
	})
	ex.commit([]nodeIndex{e.output}, []*bundleBuffer{{elms: elms}}, nil)
	return ctx.Err()
}
