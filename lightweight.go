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

// lightweight.go holds transforms that wrap plain functions as DoFns.

type mapper[I, O Element] struct {
	fn func(I) O

	Output PCol[O]
}

func (fn *mapper[I, O]) ProcessBundle(dfc *DFC[I]) error {
	return dfc.Process(func(ec ElmC, in I) error {
		fn.Output.Emit(ec, fn.fn(in))
		return nil
	})
}

// Map applies lambda to each element, emitting the result.
func Map[I, O Element](s *Scope, input PCol[I], lambda func(I) O, opts ...Options) PCol[O] {
	return ParDo(s, input, &mapper[I, O]{fn: lambda}, withDefaultName(opts, "Map")...).Output
}

type filterer[E Element] struct {
	fn func(E) bool

	Output PCol[E]
}

func (fn *filterer[E]) ProcessBundle(dfc *DFC[E]) error {
	return dfc.Process(func(ec ElmC, in E) error {
		if fn.fn(in) {
			fn.Output.Emit(ec, in)
		}
		return nil
	})
}

// Filter emits only the elements for which keep returns true.
func Filter[E Element](s *Scope, input PCol[E], keep func(E) bool, opts ...Options) PCol[E] {
	return ParDo(s, input, &filterer[E]{fn: keep}, withDefaultName(opts, "Filter")...).Output
}

// KeyBy pairs each element with the key computed by keyFn.
func KeyBy[K Keys, V Element](s *Scope, input PCol[V], keyFn func(V) K, opts ...Options) PCol[KV[K, V]] {
	return Map(s, input, func(v V) KV[K, V] {
		return KV[K, V]{Key: keyFn(v), Value: v}
	}, withDefaultName(opts, "KeyBy")...)
}
