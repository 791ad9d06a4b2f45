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

// beamx runs example pipelines on the in-process runner.
//
// The hotkeys command aggregates a synthetic, heavily skewed keyed source
// with fanned out combines. The async command enriches elements through a
// simulated high latency service, with bounded concurrency.
//
// Arguments other than the pipeline flags (--job_name, --parallelism,
// --bundle_size, --seed and --config) are passed to the command as
// --key=value pairs. Every command accepts:
//
//	--format=json|yaml      how the report is printed, defaults to json
//	--log_level=LEVEL       slog level of the pipeline logs, defaults to info
//	--metrics_addr=ADDR     serve Prometheus metrics of the run on ADDR, until interrupted,
//	                        whether the run succeeded or failed
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
	"lostluck.dev/beamx"
	"lostluck.dev/beamx/args"
	"lostluck.dev/beamx/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := buildCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "beamx",
		Short:         "Run example pipelines on the in-process runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildHotKeysCommand())
	root.AddCommand(buildAsyncCommand())
	return root
}

// pipelineCommand builds a command whose arguments are parsed by the args
// package rather than cobra.
func pipelineCommand(use, short string, run func(cmd *cobra.Command, env *runEnv) error) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, argv []string) error {
			if slices.ContainsFunc(argv, func(a string) bool { return a == "--help" || a == "-h" }) {
				return cmd.Help()
			}
			env, err := setup(cmd, argv, use)
			if err != nil {
				return err
			}
			return run(cmd, env)
		},
	}
}

// runEnv is what a command needs to launch its pipeline and report on it.
type runEnv struct {
	pipe   args.Pipeline
	args   *args.Args
	job    string
	format string
	logger *slog.Logger

	metricsAddr string
	exporter    *metrics.Exporter
}

func setup(cmd *cobra.Command, argv []string, job string) (*runEnv, error) {
	pipe, a, err := args.ContextAndArgs(argv)
	if err != nil {
		return nil, err
	}
	env := &runEnv{pipe: pipe, args: a, job: job}
	if pipe.JobName != "" {
		env.job = pipe.JobName
	}
	if env.format, err = a.GetOrElse("format", "json"); err != nil {
		return nil, err
	}
	if env.format != "json" && env.format != "yaml" {
		return nil, fmt.Errorf("unknown report format %q, want json or yaml", env.format)
	}
	lvl, err := a.GetOrElse("log_level", "info")
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(lvl)); err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	env.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if env.metricsAddr, _, err = a.Optional("metrics_addr"); err != nil {
		return nil, err
	}
	if env.metricsAddr != "" {
		env.exporter = metrics.NewExporter(nil)
	}
	return env, nil
}

// launch runs the pipeline built by expand, recording the run if metrics
// are exported.
func (env *runEnv) launch(ctx context.Context, expand func(*beam.Scope) error) (beam.PipelineResult, time.Duration, error) {
	opts := append([]beam.Options{beam.Name(env.job), beam.Logger(env.logger)}, env.pipe.Options()...)
	start := time.Now()
	pr, err := beam.LaunchAndWait(ctx, expand, opts...)
	elapsed := time.Since(start)
	if env.exporter != nil {
		env.exporter.Record(env.job, pr, err, elapsed)
	}
	return pr, elapsed, err
}

// finish prints the report, then serves the metrics until the command's
// context is done, if requested.
func (env *runEnv) finish(cmd *cobra.Command, report any) error {
	if err := writeReport(cmd.OutOrStdout(), env.format, report); err != nil {
		return err
	}
	return env.serve(cmd)
}

// failed serves the metrics of a failed run, if requested, before
// returning its error.
func (env *runEnv) failed(cmd *cobra.Command, err error) error {
	if env.exporter == nil {
		return err
	}
	env.logger.Error("pipeline failed", "error", err)
	if serr := env.serve(cmd); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func (env *runEnv) serve(cmd *cobra.Command) error {
	if env.exporter == nil {
		return nil
	}
	ln, err := net.Listen("tcp", env.metricsAddr)
	if err != nil {
		return fmt.Errorf("listening for metrics: %w", err)
	}
	env.logger.Info("serving metrics", "addr", ln.Addr().String())
	return serveMetrics(cmd.Context(), ln, env.exporter.Handler())
}

func writeReport(w io.Writer, format string, report any) error {
	var (
		b   []byte
		err error
	)
	switch format {
	case "json":
		b, err = json.Marshal(report, json.Deterministic(true), jsontext.WithIndent("  "))
		b = append(b, '\n')
	case "yaml":
		b, err = yaml.Marshal(report)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// serveMetrics serves h under /metrics on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
