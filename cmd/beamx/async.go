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

package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"lostluck.dev/beamx"
	"lostluck.dev/beamx/transforms/async"
	"lostluck.dev/beamx/transforms/stats"
)

func buildAsyncCommand() *cobra.Command {
	cmd := pipelineCommand("async", "Enrich elements through a simulated slow service", runAsync)
	cmd.Long = `Looks up every element in a simulated service with a fixed latency,
through async.Map, so many lookups are in flight at once.

Arguments:
  --records=N       elements to enrich (10000)
  --latency=D       latency of each lookup (5ms)
  --pool=N          concurrent lookups per client (8)
  --max_pending=N   outstanding lookups per bundle (1000)
  --resource=SCOPE  client scope: instance, class or bundle (instance)
  --groups=N        enriched elements are counted in N groups (10)
  --fail_every=N    fail every Nth lookup, 0 for none (0)`
	return cmd
}

var resourceTypes = map[string]async.ResourceType{
	"instance": async.PerInstance,
	"class":    async.PerClass,
	"bundle":   async.PerBundle,
}

// lookupClient simulates a remote service.
type lookupClient struct {
	latency   time.Duration
	failEvery int
	groups    int

	calls *atomic.Int64
}

type enriched struct {
	ID    int
	Group string
}

func (c *lookupClient) Lookup(ctx context.Context, id int) (enriched, error) {
	c.calls.Add(1)
	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return enriched{}, ctx.Err()
	case <-t.C:
	}
	if c.failEvery > 0 && id%c.failEvery == c.failEvery-1 {
		return enriched{}, fmt.Errorf("lookup of %d failed", id)
	}
	return enriched{ID: id, Group: fmt.Sprintf("group%d", id%c.groups)}, nil
}

type asyncReport struct {
	Job       string           `json:"job" yaml:"job"`
	JobID     string           `json:"job_id" yaml:"job_id"`
	Elapsed   string           `json:"elapsed" yaml:"elapsed"`
	Resource  string           `json:"resource" yaml:"resource"`
	Clients   int64            `json:"clients" yaml:"clients"`
	Lookups   int64            `json:"lookups" yaml:"lookups"`
	Enriched  int64            `json:"enriched" yaml:"enriched"`
	PerSecond float64          `json:"per_second" yaml:"per_second"`
	Groups    map[string]int64 `json:"groups" yaml:"groups"`
	Counters  map[string]int64 `json:"counters" yaml:"counters"`
}

func runAsync(cmd *cobra.Command, env *runEnv) error {
	a := env.args
	records, err := a.IntOr("records", 10000)
	if err != nil {
		return err
	}
	latency, err := a.DurationOr("latency", 5*time.Millisecond)
	if err != nil {
		return err
	}
	pool, err := a.IntOr("pool", 8)
	if err != nil {
		return err
	}
	maxPending, err := a.IntOr("max_pending", async.DefaultMaxPending)
	if err != nil {
		return err
	}
	groups, err := a.IntOr("groups", 10)
	if err != nil {
		return err
	}
	if groups < 1 {
		return fmt.Errorf("groups must be positive, got %d", groups)
	}
	failEvery, err := a.IntOr("fail_every", 0)
	if err != nil {
		return err
	}
	scope, err := a.GetOrElse("resource", "instance")
	if err != nil {
		return err
	}
	rt, ok := resourceTypes[scope]
	if !ok {
		return fmt.Errorf("unknown resource %q, want instance, class or bundle", scope)
	}

	var clients, calls atomic.Int64
	factory := func(context.Context) (*lookupClient, error) {
		clients.Add(1)
		return &lookupClient{latency: latency, failEvery: failEvery, groups: groups, calls: &calls}, nil
	}
	ids := make([]int, records)
	for i := range ids {
		ids[i] = i
	}

	var counts *beam.Materialized[beam.KV[string, int64]]
	pr, elapsed, err := env.launch(cmd.Context(), func(s *beam.Scope) error {
		out := async.Map(s, beam.Create(s, ids...), factory, rt,
			func(ctx context.Context, c *lookupClient, id int) (enriched, error) { return c.Lookup(ctx, id) },
			beam.Name("Lookup"), async.PoolSize(pool), async.MaxPending(maxPending))
		keyed := beam.KeyBy(s, out, func(e enriched) string { return e.Group })
		counts = beam.Materialize(s, beam.CombinePerKey(s, keyed, stats.Count[enriched]()))
		return nil
	})
	if err != nil {
		return env.failed(cmd, err)
	}

	report := asyncReport{
		Job:      env.job,
		JobID:    pr.JobID,
		Elapsed:  elapsed.String(),
		Resource: rt.String(),
		Clients:  clients.Load(),
		Lookups:  calls.Load(),
		Groups:   map[string]int64{},
		Counters: pr.Counters,
	}
	for _, kv := range counts.Values() {
		report.Groups[kv.Key] = kv.Value
		report.Enriched += kv.Value
	}
	if secs := elapsed.Seconds(); secs > 0 {
		report.PerSecond = float64(report.Enriched) / secs
	}
	return env.finish(cmd, report)
}
