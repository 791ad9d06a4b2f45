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

package async

import (
	"fmt"
	"strings"
	"time"
)

// RequestError is the failure of a single request.
type RequestError struct {
	ID        uint64 // Sequence number of the request in its bundle.
	Submitted time.Time
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d submitted at %v: %v", e.ID, e.Submitted.Format(time.RFC3339Nano), e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// BundleError fails a bundle in which any request failed. It holds the
// failures of all of the bundle's requests, not just the first.
type BundleError struct {
	Errs []error
}

func (e *BundleError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed to process futures: %d failed", len(e.Errs))
	for _, err := range e.Errs {
		b.WriteString("\n\t")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *BundleError) Unwrap() []error {
	return e.Errs
}

// ResourceOp is the lifecycle operation that failed.
type ResourceOp string

const (
	OpCreate ResourceOp = "create"
	OpClose  ResourceOp = "close"
)

// ResourceError is a failure to create or close a resource.
type ResourceError struct {
	Op  ResourceOp
	Key string // The scope the resource was shared in.
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("async: %v resource %v: %v", e.Op, e.Key, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
