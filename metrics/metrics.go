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

// Package metrics exports the results of pipeline runs to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"lostluck.dev/beamx"
)

// Exporter records pipeline results as Prometheus metrics.
type Exporter struct {
	reg *prometheus.Registry

	userCounters *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewExporter registers the pipeline metrics with reg, or with a new
// registry if reg is nil.
func NewExporter(reg *prometheus.Registry) *Exporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e := &Exporter{
		reg: reg,
		userCounters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beam_user_counter",
			Help: "Value of a DoFn counter in the latest run of the job",
		}, []string{"job", "counter"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beam_pipeline_runs_total",
			Help: "Pipeline runs by final status",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beam_pipeline_duration_seconds",
			Help:    "Wall time of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
	}
	reg.MustRegister(e.userCounters, e.runs, e.duration)
	return e
}

// Record exports the result of a run of job. Counters are exported even
// when the run failed, as they hold the work that was committed.
func (e *Exporter) Record(job string, pr beam.PipelineResult, err error, elapsed time.Duration) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	e.runs.WithLabelValues(job, status).Inc()
	e.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	for name, v := range pr.Counters {
		e.userCounters.WithLabelValues(job, name).Set(float64(v))
	}
}

// Registry returns the registry the metrics are registered with.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{Registry: e.reg})
}
