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
	"iter"

	"lostluck.dev/beamx/internal/beamopts"
)

// Combiner aggregates inputs of type I into an output of type O, through
// accumulators of type A.
//
// Inputs may be added to several accumulators independently, and the
// accumulators merged in any order, so the merge must be associative and
// commutative for results to be well defined.
//
// Combiners are built from combine function types with [SimpleMerge],
// [AddMerge] and [FullCombine], or from plain functions with [Fold],
// [Aggregate], [FoldMonoid], [Reduce] and [CombineFns].
type Combiner[A, I, O Element] struct {
	seed    func(I) A // Starts an accumulator from its first input.
	add     func(A, I) A
	merge   func(A, A) A
	extract func(A) O
	zero    func() A // The identity accumulator, if there is one.
}

func (c Combiner[A, I, O]) valid() bool {
	return c.seed != nil && c.add != nil && c.merge != nil && c.extract != nil
}

// addInputs accumulates all vals, reporting false if there were none.
func (c Combiner[A, I, O]) addInputs(vals iter.Seq[I]) (A, bool) {
	var acc A
	started := false
	for v := range vals {
		if !started {
			acc, started = c.seed(v), true
			continue
		}
		acc = c.add(acc, v)
	}
	return acc, started
}

// mergeAccumulators merges all accs into one. With no accumulators, it
// returns the identity, or false if there is none.
func (c Combiner[A, I, O]) mergeAccumulators(accs iter.Seq[A]) (A, bool) {
	var acc A
	started := false
	for a := range accs {
		if !started {
			acc, started = a, true
			continue
		}
		acc = c.merge(acc, a)
	}
	if !started && c.zero != nil {
		return c.zero(), true
	}
	return acc, started
}

func (c Combiner[A, I, O]) extractOutput(a A) O {
	return c.extract(a)
}

// AccumulatorMerger merges two accumulators into one.
type AccumulatorMerger[A Element] interface {
	MergeAccumulators(a, b A) A
}

// AccumulatorCreator produces the identity accumulator.
type AccumulatorCreator[A Element] interface {
	CreateAccumulator() A
}

// InputAdder adds an input to an accumulator.
type InputAdder[A, I Element] interface {
	AddInput(a A, i I) A
}

// OutputExtractor produces the final output from an accumulator.
type OutputExtractor[A, O Element] interface {
	ExtractOutput(a A) O
}

// AddMerger is a combine function that adds inputs and merges accumulators.
type AddMerger[A, I Element] interface {
	AccumulatorMerger[A]
	InputAdder[A, I]
}

// FullCombiner is a combine function that adds inputs, merges accumulators
// and extracts outputs.
type FullCombiner[A, I, O Element] interface {
	AccumulatorMerger[A]
	InputAdder[A, I]
	OutputExtractor[A, O]
}

// zeroOf returns comb's CreateAccumulator method, if it has one.
func zeroOf[A Element](comb any) func() A {
	if c, ok := comb.(AccumulatorCreator[A]); ok {
		return c.CreateAccumulator
	}
	return nil
}

// seedFrom starts accumulators at the identity, or the zero value of A
// when there isn't one.
func seedFrom[A, I Element](zero func() A, add func(A, I) A) func(I) A {
	return func(i I) A {
		var a A
		if zero != nil {
			a = zero()
		}
		return add(a, i)
	}
}

// SimpleMerge builds a Combiner whose inputs, accumulators and outputs
// are all the same type, from a function that merges two values.
func SimpleMerge[A Element](comb AccumulatorMerger[A]) Combiner[A, A, A] {
	return Combiner[A, A, A]{
		seed:    func(i A) A { return i },
		add:     comb.MergeAccumulators,
		merge:   comb.MergeAccumulators,
		extract: func(a A) A { return a },
		zero:    zeroOf[A](comb),
	}
}

// AddMerge builds a Combiner whose accumulator is also its output.
//
// If comb has a CreateAccumulator method, each accumulator starts from it,
// otherwise from the zero value of A.
func AddMerge[A, I Element](comb AddMerger[A, I]) Combiner[A, I, A] {
	zero := zeroOf[A](comb)
	return Combiner[A, I, A]{
		seed:    seedFrom(zero, comb.AddInput),
		add:     comb.AddInput,
		merge:   comb.MergeAccumulators,
		extract: func(a A) A { return a },
		zero:    zero,
	}
}

// FullCombine builds a Combiner from a combine function with all methods.
//
// If comb has a CreateAccumulator method, each accumulator starts from it,
// otherwise from the zero value of A.
func FullCombine[A, I, O Element](comb FullCombiner[A, I, O]) Combiner[A, I, O] {
	zero := zeroOf[A](comb)
	return Combiner[A, I, O]{
		seed:    seedFrom(zero, comb.AddInput),
		add:     comb.AddInput,
		merge:   comb.MergeAccumulators,
		extract: comb.ExtractOutput,
		zero:    zero,
	}
}

// Fold combines values with op, starting from zero(). Zero must return an
// identity of op, since it's folded into every partial result. It's called
// for every accumulator, so it may return fresh mutable values.
func Fold[A Element](zero func() A, op func(A, A) A) Combiner[A, A, A] {
	return Aggregate(zero, op, op)
}

// Aggregate combines inputs into an accumulator starting from zero() with
// seqOp, and merges accumulators with combOp. Zero must return an identity
// of combOp. It's called for every accumulator, so seqOp and combOp may
// mutate their first argument, as when zero returns a new map or slice.
func Aggregate[A, I Element](zero func() A, seqOp func(A, I) A, combOp func(A, A) A) Combiner[A, I, A] {
	return Combiner[A, I, A]{
		seed:    seedFrom(zero, seqOp),
		add:     seqOp,
		merge:   combOp,
		extract: func(a A) A { return a },
		zero:    zero,
	}
}

// Monoid is an associative binary operation with an identity.
type Monoid[A Element] interface {
	Zero() A
	Plus(a, b A) A
}

// FoldMonoid combines values with the monoid's Plus. Zero is called for
// each identity needed, so it may return fresh mutable values.
func FoldMonoid[A Element](m Monoid[A]) Combiner[A, A, A] {
	return Combiner[A, A, A]{
		seed:    func(i A) A { return m.Plus(m.Zero(), i) },
		add:     m.Plus,
		merge:   m.Plus,
		extract: func(a A) A { return a },
		zero:    m.Zero,
	}
}

// Reduce combines values with op. There's no identity, so merging an
// empty group fails with an EmptyGroupError.
func Reduce[V Element](op func(V, V) V) Combiner[V, V, V] {
	return Combiner[V, V, V]{
		seed:    func(v V) V { return v },
		add:     op,
		merge:   op,
		extract: func(v V) V { return v },
	}
}

// CombineFns builds a Combiner from its component functions. Create may
// be nil, in which case accumulators start from the zero value of A and
// there's no identity.
func CombineFns[A, I, O Element](create func() A, add func(A, I) A, merge func(A, A) A, extract func(A) O) Combiner[A, I, O] {
	return Combiner[A, I, O]{
		seed:    seedFrom(create, add),
		add:     add,
		merge:   merge,
		extract: extract,
		zero:    create,
	}
}

// CombinePerKey groups the input by key and window, and combines each
// group's values into a single output.
func CombinePerKey[K Keys, I, A, O Element](s *Scope, input PCol[KV[K, I]], comb Combiner[A, I, O], opts ...Options) PCol[KV[K, O]] {
	var opt beamopts.Struct
	opt.Join(withDefaultName(opts, "CombinePerKey")...)
	s = s.Scope(opt.Name)
	if !comb.valid() {
		s.g.fail(&ConfigError{Transform: s.path, Err: errInvalidCombiner})
	}
	grouped := GBK(s, input)
	return ParDo(s, grouped, &combineGroupFn[K, I, A, O]{comb: comb}, withName(opts, "Combine")...).Output
}
