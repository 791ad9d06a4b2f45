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

// Package async processes elements with asynchronous requests, keeping a
// bounded number of them outstanding per bundle.
//
// Each element is turned into a request, whose Future may complete on any
// goroutine and in any order. Successful results are emitted with the
// event time, windows and pane of the element that produced them. A
// bundle finishes only once all of its requests have resolved, and fails
// with a [BundleError] listing every failed request.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"lostluck.dev/beamx"
	"lostluck.dev/beamx/internal"
)

// DefaultMaxPending is the number of outstanding requests per bundle,
// unless configured with MaxPending.
const DefaultMaxPending = 1000

type options struct {
	maxPending int
	poolSize   int
}

func (*options) BeamOptions(internal.NotForPublicUse) {}

// MaxPending bounds the outstanding requests of a bundle. Processing an
// element waits for a free slot once n requests are outstanding.
func MaxPending(n int) beam.Options {
	return &options{maxPending: n}
}

// PoolSize sets the size of each handle's Executor.
func PoolSize(n int) beam.Options {
	return &options{poolSize: n}
}

func joinOptions(opts []beam.Options) options {
	o := options{maxPending: DefaultMaxPending, poolSize: DefaultPoolSize}
	for _, opt := range opts {
		if ao, ok := opt.(*options); ok {
			if ao.maxPending > 0 {
				o.maxPending = ao.maxPending
			}
			if ao.poolSize > 0 {
				o.poolSize = ao.poolSize
			}
		}
	}
	return o
}

// processFn is the DoFn behind Process and Map.
type processFn[R, I, O any] struct {
	id      string
	factory func(context.Context) (R, error)
	rtype   ResourceType
	request func(context.Context, *Handle[R], I) Future[O]
	opts    options

	Succeeded beam.CounterInt64 // Failures are reported by the BundleError.

	beam.OnBundleFinish
	beam.OnTeardown
	Output beam.PCol[O]
}

// Validate checks the processor's configuration when it's added to a pipeline.
func (fn *processFn[R, I, O]) Validate() error {
	switch {
	case fn.factory == nil:
		return errors.New("async: nil resource factory")
	case fn.request == nil:
		return errors.New("async: nil request function")
	case !fn.rtype.valid():
		return fmt.Errorf("async: unknown resource type %v", fn.rtype)
	}
	return nil
}

// resourceKey is the scope key of the handle for the current bundle.
func (fn *processFn[R, I, O]) resourceKey(workerID, bundleID string) string {
	switch fn.rtype {
	case PerClass:
		return "class:" + fn.id
	case PerBundle:
		return "bundle:" + bundleID + "/" + fn.id
	default:
		return "instance:" + workerID + "/" + fn.id
	}
}

func (fn *processFn[R, I, O]) handle(ctx context.Context, owner, key string) (*Handle[R], *lease, error) {
	l, err := resources.acquire(owner, key, func() (any, func() error, error) {
		r, err := fn.factory(ctx)
		if err != nil {
			return nil, nil, &ResourceError{Op: OpCreate, Key: key, Err: pkgerrors.Wrapf(err, "creating %v resource", fn.rtype)}
		}
		h := &Handle[R]{Resource: r, Executor: NewExecutor(fn.opts.poolSize)}
		return h, func() error {
			if err := h.close(); err != nil {
				return &ResourceError{Op: OpClose, Key: key, Err: pkgerrors.WithStack(err)}
			}
			return nil
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return l.entry.value.(*Handle[R]), l, nil
}

func (fn *processFn[R, I, O]) ProcessBundle(dfc *beam.DFC[I]) error {
	owner := dfc.WorkerID() + "/" + fn.id
	fn.OnTeardown.Do(dfc, func() error {
		return resources.releaseOwner(owner)
	})

	ctx := dfc.Context()
	key := fn.resourceKey(dfc.WorkerID(), dfc.BundleID())
	h, l, err := fn.handle(ctx, owner, key)
	if err != nil {
		return err
	}
	dfc.Logger().Debug("async handle acquired", "resource_type", fn.rtype, "key", key)

	b := newBundle[O](fn.opts.maxPending)
	flush := func() {
		done := b.takeCompleted()
		for _, c := range done {
			fn.Output.Emit(c.ec, c.out)
		}
		fn.Succeeded.Inc(dfc, int64(len(done)))
	}

	fn.OnBundleFinish.Do(dfc, func() error {
		werr := b.wait(ctx)
		flush()
		var primary error
		if werr != nil {
			primary = fmt.Errorf("waiting for %d pending requests: %w", b.outstanding(), werr)
		} else if errs := b.failures(); len(errs) > 0 {
			primary = &BundleError{Errs: errs}
		}
		if fn.rtype != PerBundle {
			return primary
		}
		if rerr := l.release(); rerr != nil {
			if primary == nil {
				return rerr
			}
			dfc.Logger().Warn("releasing bundle resource failed", "key", key, "error", rerr)
			return errors.Join(primary, rerr)
		}
		return primary
	})

	return dfc.Process(func(ec beam.ElmC, elm I) error {
		flush()
		id, err := b.submit(ctx, ec)
		if err != nil {
			return err
		}
		f, err := safeRequest(func() Future[O] { return fn.request(ctx, h, elm) })
		if err != nil {
			b.complete(id, *new(O), err)
			return nil
		}
		f.OnComplete(
			func(o O) { b.complete(id, o, nil) },
			func(err error) { b.complete(id, *new(O), err) },
		)
		return nil
	})
}

func safeRequest[O any](req func() Future[O]) (f Future[O], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request panicked: %v", r)
		}
	}()
	f = req()
	if f == nil {
		return nil, errors.New("request returned a nil Future")
	}
	return f, nil
}

type pendingRequest struct {
	submitted time.Time
	ec        beam.ElmC
}

type completed[O any] struct {
	ec  beam.ElmC
	out O
}

// bundle tracks the requests of a single bundle.
type bundle[O any] struct {
	slots   *semaphore.Weighted
	pending sync.WaitGroup

	mu     sync.Mutex
	nextID uint64
	open   map[uint64]pendingRequest
	done   []completed[O]
	errs   []error
}

func newBundle[O any](maxPending int) *bundle[O] {
	return &bundle[O]{
		slots: semaphore.NewWeighted(int64(maxPending)),
		open:  map[uint64]pendingRequest{},
	}
}

// submit waits for a free slot, and records a new pending request.
func (b *bundle[O]) submit(ctx context.Context, ec beam.ElmC) (uint64, error) {
	if err := b.slots.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.open[b.nextID] = pendingRequest{submitted: time.Now(), ec: ec}
	b.pending.Add(1)
	return b.nextID, nil
}

// complete resolves a pending request. Only the first resolution of a
// request counts.
func (b *bundle[O]) complete(id uint64, out O, err error) {
	b.mu.Lock()
	req, ok := b.open[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.open, id)
	if err != nil {
		b.errs = append(b.errs, &RequestError{ID: id, Submitted: req.submitted, Err: err})
	} else {
		b.done = append(b.done, completed[O]{ec: req.ec, out: out})
	}
	b.mu.Unlock()
	b.slots.Release(1)
	b.pending.Done()
}

func (b *bundle[O]) takeCompleted() []completed[O] {
	b.mu.Lock()
	defer b.mu.Unlock()
	done := b.done
	b.done = nil
	return done
}

func (b *bundle[O]) failures() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errs
}

func (b *bundle[O]) outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// wait blocks until all pending requests resolve, or ctx is done.
//
// In flight requests are never cancelled. If ctx is done first, the
// goroutine waiting on them lives until the last one resolves, so it
// leaks if one never does.
func (b *bundle[O]) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newProcessFn[R, I, O any](factory func(context.Context) (R, error), rt ResourceType, request func(context.Context, *Handle[R], I) Future[O], opts []beam.Options) *processFn[R, I, O] {
	return &processFn[R, I, O]{
		id:      uuid.NewString(),
		factory: factory,
		rtype:   rt,
		request: request,
		opts:    joinOptions(opts),
	}
}

// Process makes one asynchronous request per element with request, and
// emits the result of each successful one.
//
// Requests are made with a [Handle] created by factory, once per scope of
// the ResourceType. At most [MaxPending] requests are outstanding per
// bundle. Outputs are emitted in completion order.
func Process[R, I, O any](s *beam.Scope, input beam.PCol[I], factory func(context.Context) (R, error), rt ResourceType, request func(context.Context, *Handle[R], I) Future[O], opts ...beam.Options) beam.PCol[O] {
	fn := newProcessFn(factory, rt, request, opts)
	return beam.ParDo(s, input, fn, withDefaultName(opts, "AsyncProcess")...).Output
}

// Map is Process for a synchronous fn, which is run on the handle's
// Executor. At most [PoolSize] calls run at once per handle.
func Map[R, I, O any](s *beam.Scope, input beam.PCol[I], factory func(context.Context) (R, error), rt ResourceType, fn func(context.Context, R, I) (O, error), opts ...beam.Options) beam.PCol[O] {
	var request func(context.Context, *Handle[R], I) Future[O]
	if fn != nil {
		request = func(ctx context.Context, h *Handle[R], in I) Future[O] {
			return Go(h.Executor, ctx, func(ctx context.Context) (O, error) {
				return fn(ctx, h.Resource, in)
			})
		}
	}
	pfn := newProcessFn(factory, rt, request, opts)
	return beam.ParDo(s, input, pfn, withDefaultName(opts, "AsyncMap")...).Output
}

func withDefaultName(opts []beam.Options, name string) []beam.Options {
	return append([]beam.Options{beam.Name(name)}, opts...)
}
