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
	"cmp"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"lostluck.dev/beamx"
	"lostluck.dev/beamx/transforms/io/synthetic"
	"lostluck.dev/beamx/transforms/stats"
	"lostluck.dev/beamx/transforms/top"
)

func buildHotKeysCommand() *cobra.Command {
	cmd := pipelineCommand("hotkeys", "Aggregate a skewed synthetic source with fanned out combines", runHotKeys)
	cmd.Long = `Generates keyed records whose key frequencies follow a Zipf distribution,
and computes the count, sum, mean and largest values of each key with
CombinePerKeyWithFanout.

Arguments:
  --records=N       records to generate (100000)
  --keys=N          distinct keys (1000)
  --skew=S          Zipf exponent above 1, or 0 for uniform keys (1.5)
  --max_value=N     values are in [0, N) (100)
  --splits=N        parallel generators (8)
  --fanout=N        shards per key (16)
  --hot_keys=K,...  only spread these keys, others use a fanout of 1
  --top=N           largest values kept per key (3)
  --report_keys=N   keys in the report, by descending count (10)
  --verify          check the sums against an unsharded CombinePerKey`
	return cmd
}

type hotKeysReport struct {
	Job      string           `json:"job" yaml:"job"`
	JobID    string           `json:"job_id" yaml:"job_id"`
	Elapsed  string           `json:"elapsed" yaml:"elapsed"`
	Records  int64            `json:"records" yaml:"records"`
	Keys     int              `json:"keys" yaml:"keys"`
	Verified bool             `json:"verified" yaml:"verified"`
	Counters map[string]int64 `json:"counters" yaml:"counters"`
	Hottest  []keyStats       `json:"hottest" yaml:"hottest"`
}

type keyStats struct {
	Key   string  `json:"key" yaml:"key"`
	Count int64   `json:"count" yaml:"count"`
	Sum   int     `json:"sum" yaml:"sum"`
	Mean  float64 `json:"mean" yaml:"mean"`
	Top   []int   `json:"top" yaml:"top"`
}

// fanoutConf is either a fixed fanout for every key, or a fanout for a
// set of hot keys only.
type fanoutConf struct {
	n   int
	hot map[string]bool
}

func (f fanoutConf) of(k string) int {
	if f.hot[k] {
		return f.n
	}
	return 1
}

func perKey[A, O beam.Element](s *beam.Scope, in beam.PCol[beam.KV[string, int]], f fanoutConf, comb beam.Combiner[A, int, O], name string) beam.PCol[beam.KV[string, O]] {
	if f.hot != nil {
		return beam.CombinePerKeyWithFanoutFunc(s, in, f.of, comb, beam.Name(name))
	}
	return beam.CombinePerKeyWithFanout(s, in, f.n, comb, beam.Name(name))
}

func runHotKeys(cmd *cobra.Command, env *runEnv) error {
	a := env.args
	var (
		cfg synthetic.SourceConfig
		f   fanoutConf
		err error
	)
	intArgs := []struct {
		key string
		dst *int
		def int
	}{
		{"records", &cfg.NumRecords, 100000},
		{"keys", &cfg.NumKeys, 1000},
		{"max_value", &cfg.MaxValue, 100},
		{"splits", &cfg.Splits, 8},
		{"fanout", &f.n, 16},
	}
	for _, ia := range intArgs {
		if *ia.dst, err = a.IntOr(ia.key, ia.def); err != nil {
			return err
		}
	}
	if cfg.Skew, err = a.Float64Or("skew", 1.5); err != nil {
		return err
	}
	cfg.Seed = env.pipe.Seed
	topK, err := a.IntOr("top", 3)
	if err != nil {
		return err
	}
	reportKeys, err := a.IntOr("report_keys", 10)
	if err != nil {
		return err
	}
	verify, err := a.BoolOr("verify", false)
	if err != nil {
		return err
	}
	if a.Has("hot_keys") {
		hot, err := a.List("hot_keys")
		if err != nil {
			return err
		}
		f.hot = map[string]bool{}
		for _, k := range hot {
			f.hot[k] = true
		}
	}

	var (
		counts *beam.Materialized[beam.KV[string, int64]]
		sums   *beam.Materialized[beam.KV[string, int]]
		means  *beam.Materialized[beam.KV[string, float64]]
		tops   *beam.Materialized[beam.KV[string, []int]]
		direct *beam.Materialized[beam.KV[string, int]]
	)
	pr, elapsed, err := env.launch(cmd.Context(), func(s *beam.Scope) error {
		src := synthetic.Source(s, cfg)
		counts = beam.Materialize(s, perKey(s, src, f, stats.Count[int](), "Counts"))
		sums = beam.Materialize(s, perKey(s, src, f, stats.Sum[int](), "Sums"))
		means = beam.Materialize(s, perKey(s, src, f, stats.Mean[int](), "Means"))
		tops = beam.Materialize(s, perKey(s, src, f, top.Largest[int](topK), "Top"))
		if verify {
			direct = beam.Materialize(s, beam.CombinePerKey(s, src, stats.Sum[int](), beam.Name("DirectSums")))
		}
		return nil
	})
	if err != nil {
		return env.failed(cmd, err)
	}

	byKey := map[string]*keyStats{}
	stat := func(k string) *keyStats {
		ks, ok := byKey[k]
		if !ok {
			ks = &keyStats{Key: k}
			byKey[k] = ks
		}
		return ks
	}
	report := hotKeysReport{
		Job:      env.job,
		JobID:    pr.JobID,
		Elapsed:  elapsed.String(),
		Counters: pr.Counters,
	}
	for _, kv := range counts.Values() {
		stat(kv.Key).Count = kv.Value
		report.Records += kv.Value
	}
	for _, kv := range sums.Values() {
		stat(kv.Key).Sum = kv.Value
	}
	for _, kv := range means.Values() {
		stat(kv.Key).Mean = kv.Value
	}
	for _, kv := range tops.Values() {
		stat(kv.Key).Top = kv.Value
	}
	if verify {
		if err := verifySums(byKey, direct.Values()); err != nil {
			return env.failed(cmd, err)
		}
		report.Verified = true
	}

	all := make([]keyStats, 0, len(byKey))
	for _, ks := range byKey {
		all = append(all, *ks)
	}
	slices.SortFunc(all, func(a, b keyStats) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	report.Keys = len(all)
	report.Hottest = all[:min(max(reportKeys, 0), len(all))]
	return env.finish(cmd, report)
}

// verifySums checks the fanned out sums against the unsharded ones.
func verifySums(got map[string]*keyStats, want []beam.KV[string, int]) error {
	if len(got) != len(want) {
		return fmt.Errorf("fanout produced %d keys, unsharded combine produced %d", len(got), len(want))
	}
	for _, kv := range want {
		ks, ok := got[kv.Key]
		if !ok || ks.Sum != kv.Value {
			return fmt.Errorf("sum of key %v: fanout %v, unsharded %v", kv.Key, ks, kv.Value)
		}
	}
	return nil
}
