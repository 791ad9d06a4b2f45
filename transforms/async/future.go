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

package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoResult is the failure of a Future whose channel closed without
// delivering a result.
var ErrNoResult = errors.New("async: channel closed without a result")

// Result holds the outcome of a single asynchronous request.
type Result[O any] struct {
	Value O
	Err   error
}

// Future is a result that completes asynchronously. It's the one capability
// the processor needs from a request: a way to be told of its completion.
//
// OnComplete registers callbacks, of which exactly one is called once the
// Future resolves, on an arbitrary goroutine. If the Future has already
// resolved, the callback may run before OnComplete returns.
type Future[O any] interface {
	OnComplete(onSuccess func(O), onFailure func(error))
}

// Promise is a Future that's resolved explicitly. The first resolution
// wins, and later ones are ignored.
type Promise[O any] struct {
	mu        sync.Mutex
	done      chan struct{}
	res       *Result[O]
	callbacks []func(Result[O])
}

// NewPromise returns an unresolved Promise.
func NewPromise[O any]() *Promise[O] {
	return &Promise[O]{done: make(chan struct{})}
}

// Succeed resolves the promise with v. It reports whether this call
// resolved the promise.
func (p *Promise[O]) Succeed(v O) bool {
	return p.Resolve(v, nil)
}

// Fail resolves the promise with err.
func (p *Promise[O]) Fail(err error) bool {
	var zero O
	return p.Resolve(zero, err)
}

// Resolve resolves the promise with v if err is nil, otherwise with err.
func (p *Promise[O]) Resolve(v O, err error) bool {
	p.mu.Lock()
	if p.res != nil {
		p.mu.Unlock()
		return false
	}
	res := Result[O]{Value: v, Err: err}
	p.res = &res
	cbs := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	for _, cb := range cbs {
		cb(res)
	}
	return true
}

func (p *Promise[O]) OnComplete(onSuccess func(O), onFailure func(error)) {
	cb := func(r Result[O]) {
		if r.Err != nil {
			onFailure(r.Err)
			return
		}
		onSuccess(r.Value)
	}
	p.mu.Lock()
	if p.res == nil {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	res := *p.res
	p.mu.Unlock()
	cb(res)
}

// Await blocks until the promise resolves or ctx is done.
func (p *Promise[O]) Await(ctx context.Context) (O, error) {
	select {
	case <-p.done:
		return p.res.Value, p.res.Err
	case <-ctx.Done():
		var zero O
		return zero, ctx.Err()
	}
}

// Succeeded returns a Future already resolved with v.
func Succeeded[O any](v O) Future[O] {
	p := NewPromise[O]()
	p.Succeed(v)
	return p
}

// Failed returns a Future already resolved with err.
func Failed[O any](err error) Future[O] {
	p := NewPromise[O]()
	p.Fail(err)
	return p
}

// FromCallback adapts APIs that report completion through a callback.
// Register is called once with the callback to pass to the API.
func FromCallback[O any](register func(done func(O, error))) Future[O] {
	p := NewPromise[O]()
	register(func(v O, err error) { p.Resolve(v, err) })
	return p
}

// FromChan adapts a channel that delivers a single Result. The Future
// fails with ErrNoResult if the channel is closed first.
func FromChan[O any](ch <-chan Result[O]) Future[O] {
	p := NewPromise[O]()
	go func() {
		r, ok := <-ch
		if !ok {
			p.Fail(ErrNoResult)
			return
		}
		p.Resolve(r.Value, r.Err)
	}()
	return p
}

// Awaitable is a blocking handle to an asynchronous result.
type Awaitable[O any] interface {
	Await() (O, error)
}

// FromAwaitable adapts a blocking handle, waiting on it from a new goroutine.
func FromAwaitable[O any](a Awaitable[O]) Future[O] {
	p := NewPromise[O]()
	go func() {
		p.Resolve(a.Await())
	}()
	return p
}

// Go runs fn on the executor, and returns a Future of its result. If the
// executor is closed the Future fails with ErrExecutorClosed. A panic in
// fn fails the Future.
func Go[O any](ex *Executor, ctx context.Context, fn func(context.Context) (O, error)) Future[O] {
	p := NewPromise[O]()
	err := ex.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.Fail(fmt.Errorf("async: task panicked: %v", r))
			}
		}()
		p.Resolve(fn(ctx))
	})
	if err != nil {
		p.Fail(err)
	}
	return p
}
