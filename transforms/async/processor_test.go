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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"lostluck.dev/beamx"
)

// tracker counts the lifecycle of conns.
type tracker struct {
	creates, closes, doubleCloses atomic.Int32
	closeErr                      error
}

type conn struct {
	tr     *tracker
	closed atomic.Int32
}

func (c *conn) Close() error {
	if c.closed.Add(1) > 1 {
		c.tr.doubleCloses.Add(1)
	}
	c.tr.closes.Add(1)
	return c.tr.closeErr
}

func (tr *tracker) factory(context.Context) (*conn, error) {
	tr.creates.Add(1)
	return &conn{tr: tr}, nil
}

func (tr *tracker) check(t *testing.T) {
	t.Helper()
	if c, d := tr.creates.Load(), tr.closes.Load(); c == 0 || c != d {
		t.Errorf("created %v resources, closed %v", c, d)
	}
	if d := tr.doubleCloses.Load(); d != 0 {
		t.Errorf("%v resources closed more than once", d)
	}
	if n := resources.live(); n != 0 {
		t.Errorf("%v resources still live", n)
	}
}

// later completes with v after delay, on another goroutine.
func later[O any](delay time.Duration, v O, err error) Future[O] {
	ch := make(chan Result[O], 1)
	go func() {
		time.Sleep(delay)
		ch <- Result[O]{Value: v, Err: err}
	}()
	return FromChan(ch)
}

func TestMap(t *testing.T) {
	for _, rt := range []ResourceType{PerInstance, PerClass, PerBundle} {
		t.Run(rt.String(), func(t *testing.T) {
			tr := &tracker{}
			var out *beam.Materialized[string]
			pr, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
				in := beam.Create(s, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
				out = beam.Materialize(s, Map(s, in, tr.factory, rt, func(ctx context.Context, c *conn, v int) (string, error) {
					if c == nil {
						return "", errors.New("no resource")
					}
					return fmt.Sprint(v * v), nil
				}, beam.Name("square")))
				return nil
			}, beam.Name(t.Name()), beam.BundleSize(3), beam.Parallelism(2))
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"1", "4", "9", "16", "25", "36", "49", "64", "81", "100"}
			if d := cmp.Diff(want, out.Values(), cmpopts.SortSlices(func(a, b string) bool { return a < b })); d != "" {
				t.Errorf("outputs diff (-want,+got):\n%v", d)
			}
			if got := pr.Counters["square.Succeeded"]; got != 10 {
				t.Errorf("square.Succeeded = %v, want 10", got)
			}
			if rt == PerBundle {
				if got := tr.creates.Load(); got != 4 {
					t.Errorf("PerBundle creates = %v, want one per bundle (4)", got)
				}
			}
			tr.check(t)
		})
	}
}

func TestProcess_failuresAggregated(t *testing.T) {
	tr := &tracker{}
	var out *beam.Materialized[int]
	pr, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		in := beam.Create(s, 1, 2, -1, -2)
		out = beam.Materialize(s, Process(s, in, tr.factory, PerInstance, func(ctx context.Context, h *Handle[*conn], v int) Future[int] {
			if v < 0 {
				return later(time.Millisecond, 0, fmt.Errorf("negative input %d", v))
			}
			return later(time.Millisecond, v*10, nil)
		}, beam.Name("tens")))
		return nil
	}, beam.Name(t.Name()), beam.Parallelism(1))

	var berr *BundleError
	if !errors.As(err, &berr) {
		t.Fatalf("LaunchAndWait() = %v, want a BundleError", err)
	}
	if got := len(berr.Errs); got != 2 {
		t.Errorf("BundleError has %v failures, want 2: %v", got, berr)
	}
	for _, e := range berr.Errs {
		var rerr *RequestError
		if !errors.As(e, &rerr) {
			t.Errorf("failure %v isn't a RequestError", e)
			continue
		}
		if rerr.Submitted.IsZero() || rerr.ID == 0 {
			t.Errorf("RequestError missing request details: %+v", rerr)
		}
	}
	msg := err.Error()
	for _, want := range []string{"Failed to process futures", "negative input -1", "negative input -2"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q doesn't contain %q", msg, want)
		}
	}
	if vs := out.Values(); len(vs) != 0 {
		t.Errorf("failed bundle emitted %v", vs)
	}
	if len(pr.Counters) != 0 {
		t.Errorf("failed bundle committed counters %v", pr.Counters)
	}
	tr.check(t)
}

func TestProcess_metadataPreserved(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var out *beam.Materialized[beam.KV[int, int]]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		var nums []int
		for i := range 30 {
			nums = append(nums, i)
		}
		timed := beam.WithTimestamps(s, beam.Create(s, nums...), func(v int) time.Time { return base.Add(time.Duration(v) * time.Second) })
		windowed := beam.WindowInto(s, timed, beam.FixedWindows(10*time.Second))
		out = beam.Materialize(s, Process(s, windowed, (&tracker{}).factory, PerBundle, func(ctx context.Context, h *Handle[*conn], v int) Future[beam.KV[int, int]] {
			// Later inputs complete first.
			return later(time.Duration(30-v)*100*time.Microsecond, beam.Pair(v, -v), nil)
		}))
		return nil
	}, beam.Name(t.Name()), beam.BundleSize(10))
	if err != nil {
		t.Fatal(err)
	}
	got := out.Windowed()
	if len(got) != 30 {
		t.Fatalf("got %v outputs, want 30", len(got))
	}
	for _, wv := range got {
		v := wv.Elm.Key
		wantTime := base.Add(time.Duration(v) * time.Second)
		if !wv.EventTime.Equal(wantTime) {
			t.Errorf("output for %v has event time %v, want %v", v, wv.EventTime, wantTime)
		}
		iw, ok := wv.Window.(beam.IntervalWindow)
		wantStart := base.Add(time.Duration(v/10) * 10 * time.Second)
		if !ok || !iw.Start.Equal(wantStart) {
			t.Errorf("output for %v in window %v, want start %v", v, wv.Window, wantStart)
		}
	}
}

func TestProcess_maxPending(t *testing.T) {
	var outstanding, peak atomic.Int32
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		in := beam.Create(s, make([]int, 40)...)
		Process(s, in, (&tracker{}).factory, PerInstance, func(ctx context.Context, h *Handle[*conn], v int) Future[int] {
			n := outstanding.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			p := NewPromise[int]()
			go func() {
				time.Sleep(time.Millisecond)
				outstanding.Add(-1)
				p.Succeed(v)
			}()
			return p
		}, MaxPending(3))
		return nil
	}, beam.Name(t.Name()), beam.Parallelism(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := peak.Load(); got > 3 || got < 1 {
		t.Errorf("peak outstanding requests = %v, want between 1 and 3", got)
	}
}

func TestMap_poolSize(t *testing.T) {
	var running, peak atomic.Int32
	var mu sync.Mutex
	seen := map[int]bool{}
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		in := beam.Create(s, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)
		Map(s, in, (&tracker{}).factory, PerInstance, func(ctx context.Context, c *conn, v int) (int, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
			return v, nil
		}, PoolSize(2))
		return nil
	}, beam.Name(t.Name()), beam.Parallelism(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak running calls = %v, want at most 2", got)
	}
	if len(seen) != 12 {
		t.Errorf("ran %v calls, want 12", len(seen))
	}
}

func TestProcess_releaseOnFailure(t *testing.T) {
	for _, rt := range []ResourceType{PerInstance, PerClass, PerBundle} {
		t.Run(rt.String(), func(t *testing.T) {
			tr := &tracker{}
			_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
				in := beam.Create(s, 1, 2, 3, 4, 5, 6)
				Map(s, in, tr.factory, rt, func(ctx context.Context, c *conn, v int) (int, error) {
					if v == 4 {
						return 0, errors.New("four")
					}
					return v, nil
				})
				return nil
			}, beam.Name(t.Name()), beam.BundleSize(2), beam.Parallelism(2))
			if err == nil {
				t.Fatal("LaunchAndWait() succeeded, want failure")
			}
			tr.check(t)
		})
	}
}

func TestProcess_resourceErrors(t *testing.T) {
	errFactory := errors.New("can't connect")
	t.Run("create", func(t *testing.T) {
		_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
			Map(s, beam.Create(s, 1), func(context.Context) (*conn, error) { return nil, errFactory }, PerInstance,
				func(ctx context.Context, c *conn, v int) (int, error) { return v, nil })
			return nil
		}, beam.Name(t.Name()))
		var rerr *ResourceError
		if !errors.As(err, &rerr) || rerr.Op != OpCreate {
			t.Fatalf("LaunchAndWait() = %v, want a create ResourceError", err)
		}
		if !errors.Is(err, errFactory) {
			t.Errorf("LaunchAndWait() = %v, want %v", err, errFactory)
		}
		if n := resources.live(); n != 0 {
			t.Errorf("%v resources still live", n)
		}
	})
	t.Run("close", func(t *testing.T) {
		errClose := errors.New("close failed")
		tr := &tracker{closeErr: errClose}
		_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
			Map(s, beam.Create(s, 1, 2), tr.factory, PerInstance,
				func(ctx context.Context, c *conn, v int) (int, error) { return v, nil })
			return nil
		}, beam.Name(t.Name()), beam.Parallelism(1))
		var rerr *ResourceError
		if !errors.As(err, &rerr) || rerr.Op != OpClose {
			t.Fatalf("LaunchAndWait() = %v, want a close ResourceError", err)
		}
		if !errors.Is(err, errClose) {
			t.Errorf("LaunchAndWait() = %v, want %v", err, errClose)
		}
		tr.check(t)
	})
}

func TestProcess_invalid(t *testing.T) {
	tr := &tracker{}
	tests := []struct {
		name   string
		expand func(s *beam.Scope)
	}{
		{"nilFactory", func(s *beam.Scope) {
			Map(s, beam.Create(s, 1), nil, PerInstance, func(ctx context.Context, c *conn, v int) (int, error) { return v, nil })
		}},
		{"nilFn", func(s *beam.Scope) {
			Map[*conn, int, int](s, beam.Create(s, 1), tr.factory, PerInstance, nil)
		}},
		{"badResourceType", func(s *beam.Scope) {
			Map(s, beam.Create(s, 1), tr.factory, ResourceType(7), func(ctx context.Context, c *conn, v int) (int, error) { return v, nil })
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
				test.expand(s)
				return nil
			}, beam.Name(t.Name()))
			var cerr *beam.ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("LaunchAndWait() = %v, want a ConfigError", err)
			}
		})
	}
	if got := tr.creates.Load(); got != 0 {
		t.Errorf("created %v resources for invalid pipelines", got)
	}
}

func TestProcess_nilFuture(t *testing.T) {
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		Process(s, beam.Create(s, 1), (&tracker{}).factory, PerBundle, func(ctx context.Context, h *Handle[*conn], v int) Future[int] {
			return nil
		})
		return nil
	}, beam.Name(t.Name()))
	var berr *BundleError
	if !errors.As(err, &berr) || !strings.Contains(err.Error(), "nil Future") {
		t.Errorf("LaunchAndWait() = %v, want a BundleError for the nil Future", err)
	}
}

// labelled runs a PerClass Map whose resource is label, and returns the
// resources the requests saw.
func labelled(t *testing.T, label string, creates *atomic.Int32) []string {
	var out *beam.Materialized[string]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		factory := func(context.Context) (string, error) {
			creates.Add(1)
			return label, nil
		}
		in := beam.Create(s, 1, 2, 3, 4, 5, 6)
		out = beam.Materialize(s, Map(s, in, factory, PerClass, func(ctx context.Context, r string, _ int) (string, error) {
			time.Sleep(time.Millisecond)
			return r, nil
		}))
		return nil
	}, beam.Name(t.Name()+"/"+label), beam.BundleSize(2), beam.Parallelism(3))
	if err != nil {
		t.Errorf("pipeline %v: %v", label, err)
	}
	if out == nil {
		return nil
	}
	return out.Values()
}

func TestMap_perClassIsPerTransform(t *testing.T) {
	var wg sync.WaitGroup
	labels := []string{"clientA", "clientB"}
	seen := make([][]string, len(labels))
	creates := make([]atomic.Int32, len(labels))
	for i, label := range labels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen[i] = labelled(t, label, &creates[i])
		}()
	}
	wg.Wait()
	for i, label := range labels {
		want := []string{label, label, label, label, label, label}
		if d := cmp.Diff(want, seen[i]); d != "" {
			t.Errorf("pipeline %v saw other resources (-want,+got):\n%v", label, d)
		}
		// Workers share the handle while any holds it, so there's at most one
		// per worker.
		if got := creates[i].Load(); got < 1 || got > 3 {
			t.Errorf("pipeline %v created %v resources, want 1 to 3", label, got)
		}
	}
	if n := resources.live(); n != 0 {
		t.Errorf("%v resources still live", n)
	}
}

func TestMap_perClassSameTypesInOnePipeline(t *testing.T) {
	var first, second *beam.Materialized[string]
	_, err := beam.LaunchAndWait(context.TODO(), func(s *beam.Scope) error {
		in := beam.Create(s, 1, 2, 3)
		use := func(r string) func(context.Context) (string, error) {
			return func(context.Context) (string, error) { return r, nil }
		}
		echo := func(_ context.Context, r string, _ int) (string, error) { return r, nil }
		first = beam.Materialize(s, Map(s, in, use("first"), PerClass, echo, beam.Name("first")))
		second = beam.Materialize(s, Map(s, in, use("second"), PerClass, echo, beam.Name("second")))
		return nil
	}, beam.Name(t.Name()))
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]string{"first", "first", "first"}, first.Values()); d != "" {
		t.Errorf("first transform diff (-want,+got):\n%v", d)
	}
	if d := cmp.Diff([]string{"second", "second", "second"}, second.Values()); d != "" {
		t.Errorf("second transform diff (-want,+got):\n%v", d)
	}
}

func TestBundle_waitCancelled(t *testing.T) {
	b := newBundle[int](2)
	id, err := b.submit(context.Background(), beam.ElmC{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait() = %v, want %v", err, context.DeadlineExceeded)
	}
	if got := b.outstanding(); got != 1 {
		t.Errorf("outstanding() = %v, want 1, the request isn't cancelled", got)
	}

	// The request resolving later still releases the waiter.
	b.complete(id, 7, nil)
	if err := b.wait(context.Background()); err != nil {
		t.Errorf("wait() after completion = %v, want nil", err)
	}
	if got := b.takeCompleted(); len(got) != 1 || got[0].out != 7 {
		t.Errorf("takeCompleted() = %v, want the late result", got)
	}
}
