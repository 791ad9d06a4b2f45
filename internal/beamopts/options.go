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

package beamopts

import (
	"log/slog"

	"lostluck.dev/beamx/internal"
)

// Options is the common options type shared across beam packages.
type Options interface {
	// BeamOptions is exported so related beam packages can implement Options.
	BeamOptions(internal.NotForPublicUse)
}

// Struct is the combination of all options in struct form.
// This is efficient to pass down the call stack and to query.
type Struct struct {
	Name        string // The configured name of the options target. Otherwise it's autogenerated.
	Parallelism int    // Number of workers processing bundles of a stage.
	BundleSize  int    // Maximum number of elements in a bundle.

	Seed    uint64 // Seed for transforms that draw random numbers. Only valid if HasSeed.
	HasSeed bool

	Logger *slog.Logger
}

func (dst *Struct) BeamOptions(internal.NotForPublicUse) {}

// Join overwrites the set fields of dst with those set in srcs, in order.
func (dst *Struct) Join(srcs ...Options) {
	for _, src := range srcs {
		switch src := src.(type) {
		case *Struct:
			if src.Name != "" {
				dst.Name = src.Name
			}
			if src.Parallelism > 0 {
				dst.Parallelism = src.Parallelism
			}
			if src.BundleSize > 0 {
				dst.BundleSize = src.BundleSize
			}
			if src.HasSeed {
				dst.Seed = src.Seed
				dst.HasSeed = true
			}
			if src.Logger != nil {
				dst.Logger = src.Logger
			}
		}
	}
}
