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

// Package args parses the command line of a pipeline program.
//
// Recognized pipeline flags configure the pipeline itself, and everything
// else is a free form user argument, of the form --key=value, --key value,
// or a bare --flag, which is "true". Keys may repeat to give several
// values. An optional YAML file, named by --config, provides defaults that
// flags and arguments override.
//
// Dots in keys separate groups of properties, so --output.path=x sets the
// path property of the output group, like a nested YAML mapping would. A
// group has no value of its own: Required("output") fails, Keys lists
// "output.path", and giving both --output and --output.path is an error.
package args

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"lostluck.dev/beamx"
)

// Pipeline holds the values of the pipeline flags.
type Pipeline struct {
	JobName     string
	Parallelism int
	BundleSize  int
	Seed        uint64
	HasSeed     bool   // Whether a seed was set.
	Config      string // Path of the YAML config file, if any.
}

// Options converts the pipeline flags into options for LaunchAndWait.
func (p Pipeline) Options() []beam.Options {
	var opts []beam.Options
	if p.JobName != "" {
		opts = append(opts, beam.Name(p.JobName))
	}
	if p.Parallelism > 0 {
		opts = append(opts, beam.Parallelism(p.Parallelism))
	}
	if p.BundleSize > 0 {
		opts = append(opts, beam.BundleSize(p.BundleSize))
	}
	if p.HasSeed {
		opts = append(opts, beam.Seed(p.Seed))
	}
	return opts
}

func pipelineFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("pipeline", pflag.ContinueOnError)
	f.String("job_name", "", "name of the pipeline, used in logs and metrics")
	f.Int("parallelism", 0, "number of workers per stage, defaults to GOMAXPROCS")
	f.Int("bundle_size", 0, "maximum number of elements per bundle")
	f.Uint64("seed", 0, "seed for transforms that make random choices")
	f.String("config", "", "path to a YAML file of default arguments")
	return f
}

// MissingError is returned when a required property has no value.
type MissingError struct {
	Key string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("Missing value for property '%s'", e.Key)
}

// MultipleValuesError is returned when a property expected to have a
// single value has several.
type MultipleValuesError struct {
	Key    string
	Values []string
}

func (e *MultipleValuesError) Error() string {
	return fmt.Sprintf("Multiple values for property '%s': %s", e.Key, strings.Join(e.Values, ", "))
}

// Args are the user arguments of a pipeline program.
type Args struct {
	ko *koanf.Koanf
}

// ContextAndArgs splits argv, the program arguments without the program
// name, into the pipeline flags and the user arguments.
func ContextAndArgs(argv []string) (Pipeline, *Args, error) {
	f := pipelineFlags()
	pipe, user, err := split(f, argv)
	if err != nil {
		return Pipeline{}, nil, err
	}
	if err := f.Parse(pipe); err != nil {
		return Pipeline{}, nil, fmt.Errorf("parsing pipeline flags: %w", err)
	}

	ko := koanf.New(".")
	cfg, _ := f.GetString("config")
	if cfg != "" {
		if err := ko.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			return Pipeline{}, nil, fmt.Errorf("loading config %v: %w", cfg, err)
		}
	}
	fileSeed := ko.Exists("seed")
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return Pipeline{}, nil, fmt.Errorf("loading pipeline flags: %w", err)
	}
	vals, err := parseUser(user)
	if err != nil {
		return Pipeline{}, nil, err
	}
	if err := ko.Load(confmap.Provider(vals, "."), nil); err != nil {
		return Pipeline{}, nil, fmt.Errorf("loading arguments: %w", err)
	}

	p := Pipeline{
		JobName:     ko.String("job_name"),
		Parallelism: ko.Int("parallelism"),
		BundleSize:  ko.Int("bundle_size"),
		Config:      cfg,
	}
	switch {
	case f.Changed("seed"):
		p.Seed, _ = f.GetUint64("seed")
		p.HasSeed = true
	case fileSeed:
		p.Seed = uint64(ko.Int64("seed"))
		p.HasSeed = true
	}
	return p, &Args{ko: ko}, nil
}

// Parse parses argv as user arguments only.
func Parse(argv []string) (*Args, error) {
	vals, err := parseUser(argv)
	if err != nil {
		return nil, err
	}
	ko := koanf.New(".")
	if err := ko.Load(confmap.Provider(vals, "."), nil); err != nil {
		return nil, fmt.Errorf("loading arguments: %w", err)
	}
	return &Args{ko: ko}, nil
}

// split separates the pipeline flags known to f from the rest of argv.
func split(f *pflag.FlagSet, argv []string) (pipe, user []string, err error) {
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		name, _, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !strings.HasPrefix(arg, "--") || f.Lookup(name) == nil {
			user = append(user, arg)
			continue
		}
		pipe = append(pipe, arg)
		if !hasValue {
			if i+1 == len(argv) {
				return nil, nil, fmt.Errorf("pipeline flag --%v needs a value", name)
			}
			i++
			pipe = append(pipe, argv[i])
		}
	}
	return pipe, user, nil
}

// parseUser collects the values of each key in argv.
func parseUser(argv []string) (map[string]any, error) {
	vals := map[string][]string{}
	var order []string
	add := func(k, v string) {
		if _, ok := vals[k]; !ok {
			order = append(order, k)
		}
		vals[k] = append(vals[k], v)
	}
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			return nil, fmt.Errorf("argument %q isn't of the form --key=value", arg)
		}
		key, value, hasValue := strings.Cut(arg[2:], "=")
		if key == "" {
			return nil, fmt.Errorf("argument %q has an empty key", arg)
		}
		switch {
		case hasValue:
			add(key, value)
		case i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "--"):
			i++
			add(key, argv[i])
		default:
			add(key, "true")
		}
	}
	m := make(map[string]any, len(vals))
	for _, k := range order {
		for group := k; ; {
			i := strings.LastIndex(group, ".")
			if i < 0 {
				break
			}
			group = group[:i]
			if _, ok := vals[group]; ok {
				return nil, fmt.Errorf("argument --%s conflicts with --%s: %s is a group of properties", group, k, group)
			}
		}
		m[k] = vals[k]
	}
	return m, nil
}

// values returns all values of key, normalized to strings.
func (a *Args) values(key string) ([]string, error) {
	switch v := a.ko.Get(key).(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = fmt.Sprint(e)
		}
		return out, nil
	case map[string]any:
		return nil, fmt.Errorf("property '%s' is a group of properties, not a value", key)
	default:
		return []string{fmt.Sprint(v)}, nil
	}
}

// Has reports whether key has any value.
func (a *Args) Has(key string) bool {
	return a.ko.Exists(key)
}

// Optional returns the single value of key, if it has one.
func (a *Args) Optional(key string) (string, bool, error) {
	vs, err := a.values(key)
	switch {
	case err != nil:
		return "", false, err
	case len(vs) == 0:
		return "", false, nil
	case len(vs) > 1:
		return "", false, &MultipleValuesError{Key: key, Values: vs}
	}
	return vs[0], true, nil
}

// Required returns the single value of key.
func (a *Args) Required(key string) (string, error) {
	v, ok, err := a.Optional(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &MissingError{Key: key}
	}
	return v, nil
}

// GetOrElse returns the single value of key, or def if it has none.
func (a *Args) GetOrElse(key, def string) (string, error) {
	v, ok, err := a.Optional(key)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// List returns all values of key, splitting comma separated values.
func (a *Args) List(key string) ([]string, error) {
	vs, err := a.values(key)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range vs {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Keys returns the keys with values, in sorted order, excluding the
// pipeline flags.
func (a *Args) Keys() []string {
	f := pipelineFlags()
	var keys []string
	for _, k := range a.ko.Keys() {
		if f.Lookup(k) == nil {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (a *Args) String() string {
	var parts []string
	for _, k := range a.Keys() {
		vs, _ := a.values(k)
		for _, v := range vs {
			parts = append(parts, "--"+k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

func get[T any](a *Args, key string, parse func(string) (T, error)) (T, bool, error) {
	var zero T
	s, ok, err := a.Optional(key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := parse(s)
	if err != nil {
		return zero, false, fmt.Errorf("invalid value %q for property '%s': %w", s, key, err)
	}
	return v, true, nil
}

func required[T any](a *Args, key string, parse func(string) (T, error)) (T, error) {
	v, ok, err := get(a, key, parse)
	if err == nil && !ok {
		err = &MissingError{Key: key}
	}
	return v, err
}

func orElse[T any](a *Args, key string, def T, parse func(string) (T, error)) (T, error) {
	v, ok, err := get(a, key, parse)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// Int returns the single value of key as an int.
func (a *Args) Int(key string) (int, error) {
	return required(a, key, parseInt)
}

// IntOr returns the single value of key as an int, or def if it has none.
func (a *Args) IntOr(key string, def int) (int, error) {
	return orElse(a, key, def, parseInt)
}

// Float64 returns the single value of key as a float64.
func (a *Args) Float64(key string) (float64, error) {
	return required(a, key, parseFloat)
}

// Float64Or returns the single value of key as a float64, or def if it has none.
func (a *Args) Float64Or(key string, def float64) (float64, error) {
	return orElse(a, key, def, parseFloat)
}

// Bool returns the single value of key as a bool. A bare --key is true.
func (a *Args) Bool(key string) (bool, error) {
	return required(a, key, strconv.ParseBool)
}

// BoolOr returns the single value of key as a bool, or def if it has none.
func (a *Args) BoolOr(key string, def bool) (bool, error) {
	return orElse(a, key, def, strconv.ParseBool)
}

// Duration returns the single value of key as a time.Duration.
func (a *Args) Duration(key string) (time.Duration, error) {
	return required(a, key, time.ParseDuration)
}

// DurationOr returns the single value of key as a time.Duration, or def
// if it has none.
func (a *Args) DurationOr(key string, def time.Duration) (time.Duration, error) {
	return orElse(a, key, def, time.ParseDuration)
}
