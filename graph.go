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
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

// Scope is the handle used to add transforms to a pipeline. Sub scopes
// group the transforms of a composite under a common name prefix.
type Scope struct {
	g    *graph
	path string
}

// Scope returns a sub scope. Transforms added through it are named
// with this scope's name as a prefix.
func (s *Scope) Scope(name string) *Scope {
	return &Scope{g: s.g, path: s.qualify(name)}
}

func (s *Scope) qualify(name string) string {
	if s.path == "" {
		return name
	}
	return s.path + "/" + name
}

func (s *Scope) String() string {
	if s.path == "" {
		return "<root>"
	}
	return s.path
}

type nodeIndex int

func (i nodeIndex) String() string {
	return fmt.Sprintf("n%d", int(i))
}

type edgeIndex int

func (i edgeIndex) String() string {
	return fmt.Sprintf("e%d", int(i))
}

type node interface {
	parent() edgeIndex
}

// typedNode is a PCollection in the graph.
type typedNode[E Element] struct {
	index      nodeIndex
	parentEdge edgeIndex
}

func (n *typedNode[E]) parent() edgeIndex {
	return n.parentEdge
}

// multiEdge is a transform in the graph.
type multiEdge interface {
	edgeID() edgeIndex
	name() string
	inputs() map[string]nodeIndex
	outputs() map[string]nodeIndex

	execute(ctx context.Context, ex *execution) error
}

type graph struct {
	nodes []node
	edges []multiEdge

	consumers map[nodeIndex][]edgeIndex
	errs      []error
}

func (g *graph) curNodeIndex() nodeIndex {
	return nodeIndex(len(g.nodes))
}

func (g *graph) curEdgeIndex() edgeIndex {
	return edgeIndex(len(g.edges))
}

func (g *graph) addConsumer(input nodeIndex, edge edgeIndex) {
	if g.consumers == nil {
		g.consumers = map[nodeIndex][]edgeIndex{}
	}
	g.consumers[input] = append(g.consumers[input], edge)
}

// newOutput adds a node produced by the given edge.
func newOutput[E Element](g *graph, parent edgeIndex) PCol[E] {
	idx := g.curNodeIndex()
	g.nodes = append(g.nodes, &typedNode[E]{index: idx, parentEdge: parent})
	return PCol[E]{valid: true, globalIndex: idx}
}

// fail records a construction error. The pipeline won't execute.
func (g *graph) fail(err error) {
	g.errs = append(g.errs, err)
}

// checkInput records an error if the input wasn't produced by this graph.
func (g *graph) checkInput(transform string, valid bool, input nodeIndex) {
	if !valid || int(input) >= len(g.nodes) {
		g.fail(&ConfigError{Transform: transform, Err: errInvalidPCol})
	}
}

func (g *graph) err() error {
	if len(g.errs) == 0 {
		return nil
	}
	return fmt.Errorf("pipeline construction failed: %w", errors.Join(g.errs...))
}

// pkgPathRE matches the import path portion of qualified type names.
var pkgPathRE = regexp.MustCompile(`[\w.\-]*/`)

// transformTypeName returns a short name for the type of a DoFn, without
// import paths.
func transformTypeName(dofn any) string {
	rt := reflect.TypeOf(dofn)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	name := rt.Name()
	if name == "" {
		name = rt.String()
	}
	return pkgPathRE.ReplaceAllString(name, "")
}
