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
	"log/slog"

	"lostluck.dev/beamx/internal/beamopts"
)

// Options configure Run, ParDo, and Combine with specific features.
// Each function takes a variadic list of options, where properties
// set in later options override the value of previously set properties.
type Options = beamopts.Options

// Name sets the name of the pipeline or transform in question, typically
// to make it easier to refer to.
func Name(name string) Options {
	return &beamopts.Struct{
		Name: name,
	}
}

// Parallelism sets the number of workers that process bundles of a stage
// concurrently. Set on the pipeline it's the default for all stages, and
// set on a transform it overrides the default for that transform's stage.
//
// Defaults to GOMAXPROCS.
func Parallelism(n int) Options {
	return &beamopts.Struct{
		Parallelism: n,
	}
}

// BundleSize sets the maximum number of elements in a bundle. Like
// Parallelism, it may be set on the pipeline or on a transform.
//
// Defaults to 100.
func BundleSize(n int) Options {
	return &beamopts.Struct{
		BundleSize: n,
	}
}

// Seed fixes the seed of transforms that make random choices, such as hot
// key shard assignment, so that they're repeatable. Choices depend only on
// the seed and the order of the transform's input, which is the same from
// run to run for the same pipeline and input, whatever the Parallelism.
func Seed(seed uint64) Options {
	return &beamopts.Struct{
		Seed:    seed,
		HasSeed: true,
	}
}

// Logger sets the logger that receives the pipeline's log output, including
// logs from DoFns. Defaults to slog.Default().
func Logger(l *slog.Logger) Options {
	return &beamopts.Struct{
		Logger: l,
	}
}

// withDefaultName prepends a name, so the name is used only if the user
// hasn't provided one.
func withDefaultName(opts []Options, name string) []Options {
	return append([]Options{Name(name)}, opts...)
}

// withName appends a name, overriding any in opts while keeping the rest.
func withName(opts []Options, name string) []Options {
	return append(append(make([]Options, 0, len(opts)+1), opts...), Name(name))
}
