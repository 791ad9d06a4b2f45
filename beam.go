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
	"fmt"
	"iter"
	"log/slog"
)

// Element represents any user type. Beam processes arbitrary user types, but
// requires them to be encodable in a distributed setting. The in-process
// runner passes elements by value.
type Element any

// KV is a key value pair, the unit of all per key processing.
type KV[K, V Element] struct {
	Key   K
	Value V
}

// Pair is a convenience function to build a KV with inferred types.
func Pair[K, V Element](k K, v V) KV[K, V] {
	return KV[K, V]{Key: k, Value: v}
}

func (kv KV[K, V]) String() string {
	return fmt.Sprintf("(%v, %v)", kv.Key, kv.Value)
}

// Iter is the group of values for a single key and window, as
// produced by a GBK.
type Iter[V Element] struct {
	vals []V
}

// All iterates over the values in the group.
func (it Iter[V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range it.vals {
			if !yield(v) {
				return
			}
		}
	}
}

// Len returns the number of values in the group.
func (it Iter[V]) Len() int {
	return len(it.vals)
}

// Transform is the only interface that needs to be implemented by most DoFns.
type Transform[E Element] interface {
	ProcessBundle(dfc *DFC[E]) error
}

// DFC or DoFn Context, is the per bundle handle a DoFn uses to register
// its per element function, and bundle lifecycle callbacks.
//
// A DFC is only valid for the duration of the ProcessBundle call and the
// bundle it started, and must only be used from the bundle's goroutine.
type DFC[E Element] struct {
	ctx       context.Context
	transform string
	logger    *slog.Logger
	worker    *worker
	bundleID  string
	counters  map[string]int64

	// bundleIndex is the position of the bundle within its stage's input.
	bundleIndex int

	seed    uint64 // From the Seed option, if hasSeed.
	hasSeed bool

	perElm       func(ec ElmC, elm E) error
	finishBundle func() error
}

// Process is where the DoFn registers its per element function.
// Process must be called once per ProcessBundle call.
func (c *DFC[E]) Process(perElm func(ec ElmC, elm E) error) error {
	c.perElm = perElm
	return nil
}

// Context returns the context of the executing pipeline. It's cancelled
// when the pipeline fails or is cancelled.
func (c *DFC[E]) Context() context.Context {
	return c.ctx
}

// Logger returns a logger attributed to this transform and bundle.
func (c *DFC[E]) Logger() *slog.Logger {
	return c.logger
}

// Transform returns the fully qualified name of the executing transform.
func (c *DFC[E]) Transform() string {
	return c.transform
}

// WorkerID identifies the worker processing this bundle. A worker processes
// bundles sequentially, and runs teardown callbacks when it shuts down.
func (c *DFC[E]) WorkerID() string {
	return c.worker.id
}

// BundleID uniquely identifies this bundle.
func (c *DFC[E]) BundleID() string {
	return c.bundleID
}

// seedOr returns the seed configured for the pipeline or transform, or
// def if there is none.
func (c *DFC[E]) seedOr(def uint64) uint64 {
	if c.hasSeed {
		return c.seed
	}
	return def
}

func (c *DFC[E]) regBundleFinisher(finishBundle func() error) {
	c.finishBundle = finishBundle
}

func (c *DFC[E]) regTeardown(teardown func() error) {
	c.worker.setTeardown(c.transform, teardown)
}

func (c *DFC[E]) incCounter(name string, diff int64) {
	c.counters[c.transform+"."+name] += diff
}
