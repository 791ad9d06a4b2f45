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
	"testing"
)

func pipeName(t *testing.T) Options {
	return Name(t.Name())
}

// SourceFn emits the integers [0, Count) for each input element.
type SourceFn struct {
	Count int

	Output PCol[int]
}

func (fn *SourceFn) ProcessBundle(dfc *DFC[[]byte]) error {
	return dfc.Process(func(ec ElmC, _ []byte) error {
		for i := range fn.Count {
			fn.Output.Emit(ec, i)
		}
		return nil
	})
}

// DiscardFn counts and drops its input.
type DiscardFn[E Element] struct {
	Processed CounterInt64
}

func (fn *DiscardFn[E]) ProcessBundle(dfc *DFC[E]) error {
	return dfc.Process(func(ec ElmC, elm E) error {
		fn.Processed.Inc(dfc, 1)
		return nil
	})
}

// convenience function to allow the discard type to be inferred.
func namedDiscard[E Element](s *Scope, input PCol[E], name string) {
	ParDo(s, input, &DiscardFn[E]{}, Name(name))
}

// KeyMod keys integers by their remainder modulo Mod.
type KeyMod[V interface{ ~int | ~int64 }] struct {
	Mod V

	Output PCol[KV[V, V]]
}

func (fn *KeyMod[V]) ProcessBundle(dfc *DFC[V]) error {
	return dfc.Process(func(ec ElmC, v V) error {
		fn.Output.Emit(ec, KV[V, V]{Key: v % fn.Mod, Value: v})
		return nil
	})
}

// kvMap converts materialized key value pairs to a map, failing on duplicate keys.
func kvMap[K Keys, V Element](t *testing.T, m *Materialized[KV[K, V]]) map[K]V {
	t.Helper()
	out := map[K]V{}
	for _, kv := range m.Values() {
		if _, ok := out[kv.Key]; ok {
			t.Errorf("duplicate output for key %v", kv.Key)
		}
		out[kv.Key] = kv.Value
	}
	return out
}
