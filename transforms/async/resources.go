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
	"errors"
	"fmt"
	"io"
	"sync"
)

// ResourceType is the scope a processor's resource is shared in.
type ResourceType int

const (
	// PerInstance resources are created once per worker, and closed when
	// the worker shuts down.
	PerInstance ResourceType = iota
	// PerClass resources are shared by all workers of a transform. They're
	// reference counted, and closed when the last worker using them shuts
	// down. Other transforms never share them, even with the same types.
	PerClass
	// PerBundle resources are created for each bundle, and closed when the
	// bundle finishes.
	PerBundle
)

func (t ResourceType) String() string {
	switch t {
	case PerInstance:
		return "PerInstance"
	case PerClass:
		return "PerClass"
	case PerBundle:
		return "PerBundle"
	default:
		return fmt.Sprintf("ResourceType(%d)", int(t))
	}
}

func (t ResourceType) valid() bool {
	return t >= PerInstance && t <= PerBundle
}

// Handle is what requests are made with: the user resource, and the
// executor that requests may run on.
//
// PerClass handles are used concurrently by several workers, so their
// Resource must be safe for concurrent use. PerInstance and PerBundle
// handles are only used from one worker's bundles, but requests may still
// run concurrently on the Executor.
type Handle[R any] struct {
	Resource R
	Executor *Executor
}

// close shuts down the executor, then closes the resource if it's an io.Closer.
func (h *Handle[R]) close() error {
	err := h.Executor.Close()
	if c, ok := any(h.Resource).(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// resourceCache holds the live handles of all processors, by scope key.
type resourceCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	owners  map[string][]*lease
}

type cacheEntry struct {
	ready chan struct{}
	value any
	close func() error
	err   error

	refs int
}

// lease is one reference to a cache entry. Releasing it more than once
// has no further effect.
type lease struct {
	cache *resourceCache
	key   string
	entry *cacheEntry
	once  sync.Once
	err   error
}

var resources = &resourceCache{}

// acquire returns a lease on the value for key, creating it with create
// if it isn't live. The lease is owned by owner, and released by
// releaseOwner, if not before.
//
// Concurrent acquires of a missing key wait for a single creation.
func (c *resourceCache) acquire(owner, key string, create func() (any, func() error, error)) (*lease, error) {
	for {
		c.mu.Lock()
		if c.entries == nil {
			c.entries = map[string]*cacheEntry{}
			c.owners = map[string][]*lease{}
		}
		if l := c.ownedLocked(owner, key); l != nil {
			c.mu.Unlock()
			return l, nil
		}
		e, ok := c.entries[key]
		if !ok {
			e = &cacheEntry{ready: make(chan struct{})}
			c.entries[key] = e
			c.mu.Unlock()

			e.value, e.close, e.err = create()
			close(e.ready)
			if e.err != nil {
				c.mu.Lock()
				delete(c.entries, key)
				c.mu.Unlock()
				return nil, e.err
			}
		} else {
			c.mu.Unlock()
			<-e.ready
			if e.err != nil {
				return nil, e.err
			}
		}

		c.mu.Lock()
		if c.entries[key] != e {
			// Released while we waited, start over.
			c.mu.Unlock()
			continue
		}
		e.refs++
		l := &lease{cache: c, key: key, entry: e}
		c.owners[owner] = append(c.owners[owner], l)
		c.mu.Unlock()
		return l, nil
	}
}

func (c *resourceCache) ownedLocked(owner, key string) *lease {
	for _, l := range c.owners[owner] {
		if l.key == key {
			return l
		}
	}
	return nil
}

// release drops the lease's reference, closing the value if it was the
// last. It returns the close error, if any.
func (l *lease) release() error {
	l.once.Do(func() {
		c := l.cache
		c.mu.Lock()
		for owner, ls := range c.owners {
			for i, o := range ls {
				if o == l {
					c.owners[owner] = append(ls[:i:i], ls[i+1:]...)
					if len(c.owners[owner]) == 0 {
						delete(c.owners, owner)
					}
					break
				}
			}
		}
		l.entry.refs--
		last := l.entry.refs == 0
		if last {
			delete(c.entries, l.key)
		}
		c.mu.Unlock()
		if last && l.entry.close != nil {
			l.err = l.entry.close()
		}
	})
	return l.err
}

// releaseOwner releases all leases held by owner.
func (c *resourceCache) releaseOwner(owner string) error {
	c.mu.Lock()
	ls := append([]*lease(nil), c.owners[owner]...)
	c.mu.Unlock()
	var errs []error
	for _, l := range ls {
		if err := l.release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// live reports the number of live entries.
func (c *resourceCache) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
