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
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is the number of tasks an Executor runs at once, unless
// configured with PoolSize.
const DefaultPoolSize = 8

// ErrExecutorClosed is returned when submitting to a closed Executor.
var ErrExecutorClosed = errors.New("async: executor is closed")

// Executor runs tasks on goroutines, at most Size at a time. Submission
// never blocks, tasks beyond the limit wait for a free slot.
type Executor struct {
	size  int
	slots *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

// NewExecutor returns an Executor running at most size tasks at once.
// Sizes below 1 use DefaultPoolSize.
func NewExecutor(size int) *Executor {
	if size < 1 {
		size = DefaultPoolSize
	}
	return &Executor{size: size, slots: semaphore.NewWeighted(int64(size))}
}

// Size is the maximum number of concurrently running tasks.
func (e *Executor) Size() int {
	return e.size
}

// Submit schedules task to run once a slot is free.
func (e *Executor) Submit(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		// Never fails with a background context.
		_ = e.slots.Acquire(context.Background(), 1)
		defer e.slots.Release(1)
		task()
	}()
	return nil
}

// Close rejects further tasks, and waits for submitted ones to finish.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.tasks.Wait()
	return nil
}
