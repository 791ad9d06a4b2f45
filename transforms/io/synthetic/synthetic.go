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

// Package synthetic produces elements and load.
// Typically used for load testing, and scale testing.
package synthetic

import (
	"fmt"
	"math/rand/v2"
	"time"

	"lostluck.dev/beamx"
)

// SourceConfig configures a skewed keyed source.
type SourceConfig struct {
	NumRecords int // Total records produced.
	NumKeys    int // Keys are "key0" through "key<NumKeys-1>".
	// Skew is the Zipf exponent, above 1. Larger values concentrate more
	// records on the first keys. Zero means uniform keys.
	Skew float64
	// MaxValue bounds the values, which are uniform in [0, MaxValue).
	MaxValue int
	// Splits is the number of independent generators, so the source
	// can produce in parallel.
	Splits int
	Seed   uint64
}

func (cfg SourceConfig) validate() error {
	switch {
	case cfg.NumRecords < 0:
		return fmt.Errorf("NumRecords must not be negative, got %d", cfg.NumRecords)
	case cfg.NumKeys < 1:
		return fmt.Errorf("NumKeys must be positive, got %d", cfg.NumKeys)
	case cfg.Skew != 0 && cfg.Skew <= 1:
		return fmt.Errorf("Skew must be above 1, or 0 for uniform keys, got %v", cfg.Skew)
	case cfg.MaxValue < 1:
		return fmt.Errorf("MaxValue must be positive, got %d", cfg.MaxValue)
	}
	return nil
}

// Key returns the ith key of the source.
func Key(i int) string {
	return fmt.Sprintf("key%d", i)
}

type splitFn struct {
	cfg SourceConfig

	Output beam.PCol[int]
}

func (fn *splitFn) ProcessBundle(dfc *beam.DFC[[]byte]) error {
	return dfc.Process(func(ec beam.ElmC, _ []byte) error {
		for i := range max(1, fn.cfg.Splits) {
			fn.Output.Emit(ec, i)
		}
		return nil
	})
}

// generateFn produces the records of a split. Splits draw from
// independent streams, so the output only depends on the config.
type generateFn struct {
	cfg SourceConfig

	Generated beam.CounterInt64

	Output beam.PCol[beam.KV[string, int]]
}

func (fn *generateFn) Validate() error {
	return fn.cfg.validate()
}

func (fn *generateFn) ProcessBundle(dfc *beam.DFC[int]) error {
	splits := max(1, fn.cfg.Splits)
	return dfc.Process(func(ec beam.ElmC, split int) error {
		rng := rand.New(rand.NewPCG(fn.cfg.Seed, uint64(split)))
		var zipf *rand.Zipf
		if fn.cfg.Skew > 1 {
			zipf = rand.NewZipf(rng, fn.cfg.Skew, 1, uint64(fn.cfg.NumKeys-1))
		}
		n := fn.cfg.NumRecords / splits
		if split < fn.cfg.NumRecords%splits {
			n++
		}
		for range n {
			k := 0
			if zipf != nil {
				k = int(zipf.Uint64())
			} else {
				k = rng.IntN(fn.cfg.NumKeys)
			}
			fn.Output.Emit(ec, beam.Pair(Key(k), rng.IntN(fn.cfg.MaxValue)))
		}
		fn.Generated.Inc(dfc, int64(n))
		return nil
	})
}

// Source produces cfg.NumRecords keyed records, with key frequencies
// following a Zipf distribution, to exercise hot key handling.
func Source(s *beam.Scope, cfg SourceConfig) beam.PCol[beam.KV[string, int]] {
	s = s.Scope("SyntheticSource")
	splits := beam.ParDo(s, beam.Impulse(s), &splitFn{cfg: cfg})
	return beam.ParDo(s, splits.Output, &generateFn{cfg: cfg}, beam.Name("Generate"), beam.BundleSize(1)).Output
}

// StepConfig controls the cost and selectivity of a Step.
type StepConfig struct {
	PerElementDelay, PerBundleDelay time.Duration
	OutputRecordsPerInputRecord     uint // Zero is treated as one.
	OutputFilterRatio               float64
	Seed                            uint64
}

// syntheticStep is a DoFn which can be controlled with prespecified parameters.
type syntheticStep[E beam.Element] struct {
	StepConfig

	Filtered beam.CounterInt64

	beam.OnBundleFinish
	Output beam.PCol[E]
}

func (fn *syntheticStep[E]) ProcessBundle(dfc *beam.DFC[E]) error {
	startTime := time.Now()
	rng := rand.New(rand.NewPCG(fn.Seed, uint64(startTime.UnixNano())))
	var filtered int64

	fn.OnBundleFinish.Do(dfc, func() error {
		fn.Filtered.Inc(dfc, filtered)
		// The target is for the enclosing stage to take as close to as possible
		// the given number of seconds, so we only sleep enough to make up for
		// overheads not incurred elsewhere.
		toSleep := fn.PerBundleDelay - (time.Since(startTime))
		time.Sleep(toSleep)
		return nil
	})

	return dfc.Process(func(ec beam.ElmC, e E) error {
		time.Sleep(fn.PerElementDelay)
		if fn.OutputFilterRatio > 0 && rng.Float64() < fn.OutputFilterRatio {
			filtered++
			return nil
		}
		for range max(1, fn.OutputRecordsPerInputRecord) {
			fn.Output.Emit(ec, e)
		}
		return nil
	})
}

// Step passes its input through with configured delays, filtering and
// duplication.
func Step[E beam.Element](s *beam.Scope, input beam.PCol[E], cfg StepConfig, opts ...beam.Options) beam.PCol[E] {
	return beam.ParDo(s, input, &syntheticStep[E]{StepConfig: cfg}, append([]beam.Options{beam.Name("SyntheticStep")}, opts...)...).Output
}
