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
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"lostluck.dev/beamx/internal/beamopts"
	"lostluck.dev/beamx/internal/harness"
)

// ParDo takes the users's DoFn and returns the same type for downstream pipeline construction.
//
// The returned DoFn's PCol fields can then be used as inputs into other DoFns.
// If the DoFn has a Validate() error method, it's called, and an error fails
// the pipeline before it runs.
func ParDo[E Element, DF Transform[E]](s *Scope, input PCol[E], dofn DF, opts ...Options) DF {
	var opt beamopts.Struct
	opt.Join(opts...)
	if opt.Name == "" {
		opt.Name = transformTypeName(dofn)
	}
	name := s.qualify(opt.Name)

	s.g.checkInput(name, input.valid, input.globalIndex)
	edgeID := s.g.curEdgeIndex()
	outs, err := s.g.deferDoFn(dofn, input.globalIndex, edgeID)
	if err != nil {
		s.g.fail(&ConfigError{Transform: name, Err: err})
	}
	if v, ok := any(dofn).(validator); ok {
		if err := v.Validate(); err != nil {
			s.g.fail(&ConfigError{Transform: name, Err: err})
		}
	}

	s.g.edges = append(s.g.edges, &edgeDoFn[E]{index: edgeID, transform: name, dofn: dofn, outs: outs, parallelIn: input.globalIndex, opts: opt})

	return dofn
}

type validator interface {
	Validate() error
}

type namedOutput struct {
	name  string
	index nodeIndex
}

// deferDoFn initializes the beam managed fields of the DoFn, returning the
// DoFn's outputs in local index order.
func (g *graph) deferDoFn(dofn any, input nodeIndex, global edgeIndex) ([]namedOutput, error) {
	g.addConsumer(input, global)

	rv := reflect.ValueOf(dofn)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("DoFn %T must be a pointer to a struct", dofn)
	}
	rv = rv.Elem()
	var outs []namedOutput
	efaceRT := reflect.TypeOf((*emitIface)(nil)).Elem()
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		fv := rv.Field(i)
		sf := rt.Field(i)
		if !fv.CanAddr() || !sf.IsExported() {
			continue
		}
		switch sf.Type.Kind() {
		case reflect.Array, reflect.Slice:
			ptrEt := reflect.PointerTo(sf.Type.Elem())
			if !ptrEt.Implements(efaceRT) {
				continue
			}
			for j := 0; j < fv.Len(); j++ {
				fvj := fv.Index(j).Addr()
				outs = g.initEmitter(fvj.Interface().(emitIface), global, fmt.Sprintf("%s%%%d", sf.Name, j), outs)
			}
		case reflect.Struct:
			switch feature := fv.Addr().Interface().(type) {
			case emitIface:
				outs = g.initEmitter(feature, global, sf.Name, outs)
			case counterIface:
				feature.setCounterName(sf.Name)
			}
		case reflect.Chan:
			return nil, fmt.Errorf("DoFn %v field %v is a channel, use a PCol to produce output", rt, sf.Name)
		default:
			// Don't do anything with pointers, or other types.
		}
	}
	return outs, nil
}

func (g *graph) initEmitter(emt emitIface, global edgeIndex, name string, outs []namedOutput) []namedOutput {
	globalIndex := g.curNodeIndex()
	emt.setPColKey(globalIndex, len(outs))
	g.nodes = append(g.nodes, emt.newNode(globalIndex, global))
	return append(outs, namedOutput{name: name, index: globalIndex})
}

type edgeDoFn[E Element] struct {
	index     edgeIndex
	transform string

	dofn       Transform[E]
	outs       []namedOutput // In local emitter order.
	parallelIn nodeIndex

	opts beamopts.Struct
}

func (e *edgeDoFn[E]) edgeID() edgeIndex {
	return e.index
}

func (e *edgeDoFn[E]) name() string {
	return e.transform
}

func (e *edgeDoFn[E]) inputs() map[string]nodeIndex {
	return map[string]nodeIndex{"parallel": e.parallelIn}
}

func (e *edgeDoFn[E]) outputs() map[string]nodeIndex {
	m := make(map[string]nodeIndex, len(e.outs))
	for _, o := range e.outs {
		m[o.name] = o.index
	}
	return m
}

func (e *edgeDoFn[E]) outputIndices() []nodeIndex {
	idxs := make([]nodeIndex, len(e.outs))
	for i, o := range e.outs {
		idxs[i] = o.index
	}
	return idxs
}

// execute splits the input into bundles, and processes them on a pool
// of workers. The first bundle failure stops the stage.
//
// Outputs are committed in bundle order once the stage is done, so a
// stage's output order doesn't depend on worker scheduling.
func (e *edgeDoFn[E]) execute(ctx context.Context, ex *execution) error {
	input := ex.read(e.parallelIn)
	if len(input) == 0 {
		return nil
	}
	opts := ex.stageOptions(e.opts)
	bundles := splitBundles(input, opts.BundleSize)
	outputs := make([][]*bundleBuffer, len(bundles))

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan int)
	g.Go(func() error {
		defer close(work)
		for i := range bundles {
			select {
			case work <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range min(opts.Parallelism, len(bundles)) {
		g.Go(func() error {
			return e.runWorker(gctx, ex, opts, work, bundles, outputs)
		})
	}
	err := g.Wait()
	for _, bufs := range outputs {
		if bufs != nil {
			ex.commit(e.outputIndices(), bufs, nil)
		}
	}
	return err
}

func splitBundles(input []windowed, size int) [][]windowed {
	var bundles [][]windowed
	for start := 0; start < len(input); start += size {
		bundles = append(bundles, input[start:min(start+size, len(input))])
	}
	return bundles
}

// runWorker processes bundles until there are no more, or one fails.
// Teardown callbacks run on the way out, and their errors are joined
// after any processing error.
func (e *edgeDoFn[E]) runWorker(ctx context.Context, ex *execution, opts beamopts.Struct, work <-chan int, bundles [][]windowed, outputs [][]*bundleBuffer) (err error) {
	wk := &worker{id: uuid.NewString()}
	defer func() {
		terr := wk.teardown()
		if terr == nil {
			return
		}
		if err != nil {
			ex.logger.Warn("worker teardown failed after bundle failure", "transform", e.transform, "worker", wk.id, "error", terr)
			err = errors.Join(err, terr)
			return
		}
		err = terr
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case i, ok := <-work:
			if !ok {
				return nil
			}
			bufs, err := e.processBundle(ctx, ex, opts, wk, i, bundles[i])
			if err != nil {
				return err
			}
			outputs[i] = bufs
		}
	}
}

// processBundle runs the DoFn over the ith bundle of the stage. Counters
// are committed on success, and the outputs returned for the stage to
// commit in bundle order.
func (e *edgeDoFn[E]) processBundle(ctx context.Context, ex *execution, opts beamopts.Struct, wk *worker, index int, bundle []windowed) (_ []*bundleBuffer, err error) {
	bundleID := uuid.NewString()
	dfc := &DFC[E]{
		ctx:         ctx,
		transform:   e.transform,
		logger:      harness.LoggerForTransform(ex.logs.Logger(bundleID), e.transform),
		worker:      wk,
		bundleID:    bundleID,
		bundleIndex: index,
		counters:    map[string]int64{},
		seed:        opts.Seed,
		hasSeed:     opts.HasSeed,
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("doFn %v panicked in bundle %v: %v", e.transform, bundleID, p)
		}
	}()

	if err := e.dofn.ProcessBundle(dfc); err != nil {
		return nil, fmt.Errorf("doFn %v failed to start bundle: %w", e.transform, err)
	}
	bufs := make([]*bundleBuffer, len(e.outs))
	for i := range bufs {
		bufs[i] = &bundleBuffer{}
	}
	if dfc.perElm != nil {
		for _, wv := range bundle {
			elm, _ := wv.elm.(E)
			if err := dfc.perElm(ElmC{elmContext: wv.elmContext, pcollections: bufs}, elm); err != nil {
				return nil, fmt.Errorf("doFn %v failed: %w", e.transform, err)
			}
		}
	}
	if dfc.finishBundle != nil {
		if err := dfc.finishBundle(); err != nil {
			return nil, fmt.Errorf("doFn %v failed to finish bundle: %w", e.transform, err)
		}
	}
	ex.commit(nil, nil, dfc.counters)
	return bufs, nil
}
