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

// Package beam is a generics first pipeline DSL in the style of Apache Beam,
// with a small in-process runner for executing pipelines.
//
// Pipelines are built inside the function passed to [LaunchAndWait], by
// connecting DoFns with [ParDo] and the provided composite transforms.
// Go's type checker validates the pipeline: every [PCol] carries its element
// type, and a DoFn's ProcessBundle method declares the type it consumes.
//
// On top of the core model, the package provides aggregations that stay
// balanced under key skew. [CombinePerKeyWithFanout] spreads the values of
// each key across several intermediate shards, combines each shard
// separately, and merges the partial results per key.
//
// The runner executes stages in construction order. Each stage's input is
// split into bundles which are processed in parallel by a pool of workers.
// A bundle's outputs and counters are committed only if the whole bundle
// succeeds.
package beam
