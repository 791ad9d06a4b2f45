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

// dofns.go is about the different mix-ins and addons that can be added.

// beamMixin is added to all DoFn beam field types to mark them as
// managed by beam, rather than user configuration.
type beamMixin struct{}

func (beamMixin) beamBypass() {}

type bypassInterface interface {
	beamBypass()
}

// PCol or PCollection represents an a logical collection of elements produced,
// or consumed by of a DoFn.
//
// At pipeline execution time, they are used in a ProcessBundle method to emit
// elements and pass along per element context, such as the EventTime and Window.
//
// Used as an Exported value field of a DoFn struct, they represent the outputs
// from the DoFn. After the DoFn is added to the graph, the processed DoFn's
// PCol fields are initialized and can be passed around by value, to further
// build the pipeline graph.
type PCol[E Element] struct {
	beamMixin

	valid                bool
	globalIndex          nodeIndex
	localDownstreamIndex int
}

type emitIface interface {
	bypassInterface
	setPColKey(global nodeIndex, id int)
	newNode(global nodeIndex, parent edgeIndex) node
}

var _ emitIface = (*PCol[any])(nil)

func (emt *PCol[E]) setPColKey(global nodeIndex, id int) {
	emt.valid = true
	emt.globalIndex = global
	emt.localDownstreamIndex = id
}

func (emt *PCol[E]) newNode(global nodeIndex, parent edgeIndex) node {
	return &typedNode[E]{index: global, parentEdge: parent}
}

// bundleBuffer holds the elements emitted to one output during a bundle,
// until the bundle is committed.
type bundleBuffer struct {
	elms []windowed
}

// windowed is an element with its metadata.
type windowed struct {
	elmContext
	elm any
}

// Emit the element within the current element's context.
//
// The ElmC value is sourced from the [DFC.Process] method. Emit must
// be called on the bundle's goroutine.
func (emt *PCol[E]) Emit(ec ElmC, elm E) {
	if !emt.valid {
		panic("beam: Emit called on a PCol that isn't an output of a DoFn in the pipeline")
	}
	if emt.localDownstreamIndex >= len(ec.pcollections) {
		panic("beam: Emit called with an ElmC that wasn't provided by DFC.Process")
	}
	buf := ec.pcollections[emt.localDownstreamIndex]
	buf.elms = append(buf.elms, windowed{elmContext: ec.elmContext, elm: elm})
}

// OnBundleFinish allows a DoFn to register a function that runs just before
// a bundle finishes. Elements may be emitted downstream, using an ElmC
// retained from processing an element in the bundle.
type OnBundleFinish struct{}

type bundleFinisher interface {
	regBundleFinisher(finishBundle func() error)
}

// Do registers a callback to execute after all bundle elements have been processed.
// Any resources that a DoFn needs explicitly cleaned up explicitly rather than implicitly
// via garbage collection, should be called here.
//
// Only a single callback may be registered, and it will be the last one passed to Do.
func (*OnBundleFinish) Do(dfc bundleFinisher, finishBundle func() error) {
	dfc.regBundleFinisher(finishBundle)
}

// OnTeardown allows a DoFn to register a function that runs when the worker
// processing its bundles shuts down, whether the stage succeeded or failed.
// Resources that outlive a single bundle should be released here.
type OnTeardown struct{}

type teardowner interface {
	regTeardown(teardown func() error)
}

// Do registers a callback to execute when the current worker shuts down.
//
// Only a single callback is kept per transform and worker, the last one passed to Do.
func (*OnTeardown) Do(dfc teardowner, teardown func() error) {
	dfc.regTeardown(teardown)
}

// ObserveWindow indicates this DoFn needs to be aware of windows explicitly.
// Required to use as a field, but may be embedded for legibility.
type ObserveWindow struct{}

// Of returns the window for this element.
func (*ObserveWindow) Of(ec ElmC) Window {
	// Windows are assigned one per element.
	return ec.windows[0]
}

// PaneOf returns the pane for this element.
func (*ObserveWindow) PaneOf(ec ElmC) Pane {
	return ec.pane
}

// CounterInt64 is a user metric. As a field of a DoFn, it's reported in the
// PipelineResult as "<transform name>.<field name>".
//
// Only increments from successfully committed bundles are reported.
type CounterInt64 struct {
	beamMixin

	name string
}

type counterIface interface {
	bypassInterface
	setCounterName(name string)
}

var _ counterIface = (*CounterInt64)(nil)

func (c *CounterInt64) setCounterName(name string) {
	c.name = name
}

type counterSink interface {
	incCounter(name string, diff int64)
}

// Inc increments the counter by diff for the current bundle.
func (c *CounterInt64) Inc(dfc counterSink, diff int64) {
	dfc.incCounter(c.name, diff)
}
