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
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"lostluck.dev/beamx/internal/beamopts"
	"lostluck.dev/beamx/internal/harness"
)

const (
	defaultBundleSize = 100
	logBufferSize     = 1024
)

// PipelineResult is the result of executing a pipeline.
type PipelineResult struct {
	JobID    string
	Counters map[string]int64
}

// LaunchAndWait builds the pipeline with expand, and executes it,
// blocking until it completes.
//
// Errors found while building the pipeline are returned before anything
// executes. If execution fails, the counters committed before the failure
// are returned along with the error.
func LaunchAndWait(ctx context.Context, expand func(*Scope) error, opts ...Options) (PipelineResult, error) {
	var opt beamopts.Struct
	opt.Join(opts...)

	g := &graph{}
	if err := expand(&Scope{g: g}); err != nil {
		return PipelineResult{}, fmt.Errorf("pipeline construction failed: %w", err)
	}
	if err := g.err(); err != nil {
		return PipelineResult{}, err
	}

	ex := newExecution(g, opt)
	defer ex.logs.Close()

	start := time.Now()
	ex.logger.Debug("pipeline started", "transforms", len(g.edges))
	for _, e := range g.edges {
		if err := ctx.Err(); err != nil {
			return ex.result(), fmt.Errorf("pipeline %v cancelled: %w", ex.jobName(), err)
		}
		if err := e.execute(ctx, ex); err != nil {
			ex.logger.Error("pipeline failed", "transform", e.name(), "error", err)
			return ex.result(), fmt.Errorf("pipeline %v failed: %w", ex.jobName(), err)
		}
		ex.consumed(e)
	}
	ex.logger.Debug("pipeline finished", "elapsed", time.Since(start))
	return ex.result(), nil
}

// execution holds the state of a single run of a pipeline.
type execution struct {
	jobID  string
	opts   beamopts.Struct
	logger *slog.Logger
	logs   *harness.LogSink

	// remaining counts consumers that haven't yet read each node.
	remaining map[nodeIndex]int

	mu       sync.Mutex
	data     map[nodeIndex][]windowed
	counters map[string]int64
}

func newExecution(g *graph, opt beamopts.Struct) *execution {
	if opt.Parallelism <= 0 {
		opt.Parallelism = runtime.GOMAXPROCS(0)
	}
	if opt.BundleSize <= 0 {
		opt.BundleSize = defaultBundleSize
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ex := &execution{
		jobID:     uuid.NewString(),
		opts:      opt,
		remaining: map[nodeIndex]int{},
		data:      map[nodeIndex][]windowed{},
		counters:  map[string]int64{},
	}
	ex.logger = logger.With(slog.String("job", ex.jobName()), slog.String("job_id", ex.jobID))
	ex.logs = harness.NewLogSink(ex.logger, logBufferSize)
	for n, es := range g.consumers {
		ex.remaining[n] = len(es)
	}
	return ex
}

func (ex *execution) jobName() string {
	if ex.opts.Name == "" {
		return "pipeline"
	}
	return ex.opts.Name
}

// stageOptions overrides the pipeline options with those of a transform.
func (ex *execution) stageOptions(transform beamopts.Struct) beamopts.Struct {
	opts := ex.opts
	opts.Join(&transform)
	return opts
}

func (ex *execution) read(n nodeIndex) []windowed {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.data[n]
}

// commit makes a bundle's outputs and counters visible.
func (ex *execution) commit(outs []nodeIndex, bufs []*bundleBuffer, counters map[string]int64) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for i, n := range outs {
		ex.data[n] = append(ex.data[n], bufs[i].elms...)
	}
	for k, v := range counters {
		ex.counters[k] += v
	}
}

// consumed drops the data of inputs that have no remaining consumers.
func (ex *execution) consumed(e multiEdge) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, n := range e.inputs() {
		ex.remaining[n]--
		if ex.remaining[n] <= 0 {
			delete(ex.data, n)
		}
	}
}

func (ex *execution) result() PipelineResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return PipelineResult{
		JobID:    ex.jobID,
		Counters: maps.Clone(ex.counters),
	}
}

// worker processes bundles of a stage sequentially.
type worker struct {
	id string

	teardowns []namedTeardown
}

type namedTeardown struct {
	transform string
	fn        func() error
}

func (w *worker) setTeardown(transform string, fn func() error) {
	i := slices.IndexFunc(w.teardowns, func(t namedTeardown) bool { return t.transform == transform })
	if i >= 0 {
		w.teardowns[i].fn = fn
		return
	}
	w.teardowns = append(w.teardowns, namedTeardown{transform: transform, fn: fn})
}

// teardown runs all registered callbacks, even if some fail.
func (w *worker) teardown() error {
	var errs []error
	for _, t := range w.teardowns {
		if err := safeCall(t.fn); err != nil {
			errs = append(errs, fmt.Errorf("teardown of %v on worker %v: %w", t.transform, w.id, err))
		}
	}
	w.teardowns = nil
	return errors.Join(errs...)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
