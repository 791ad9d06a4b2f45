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
	"errors"
	"fmt"
)

var (
	// ErrInvalidFanout is wrapped by errors reporting a hot key fanout below 1.
	ErrInvalidFanout = errors.New("hot key fanout must be at least 1")

	errInvalidPCol     = errors.New("input PCol wasn't produced by a transform in this pipeline")
	errInvalidCombiner = errors.New("combiner is unset, build one with SimpleMerge, FullCombine or similar")
)

// ConfigError reports a transform that was configured incorrectly.
//
// ConfigErrors found while the pipeline is constructed are returned
// by LaunchAndWait before any data is processed.
type ConfigError struct {
	Transform string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %v", e.Transform, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// EmptyGroupError is returned when accumulators must be merged for a group
// with no values, and the combiner has no identity value to return instead.
type EmptyGroupError struct {
	Key any
}

func (e *EmptyGroupError) Error() string {
	return fmt.Sprintf("no accumulators to merge for key %v and the combiner has no identity", e.Key)
}
