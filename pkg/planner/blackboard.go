package planner

import "reflect"

// Blackboard is the typed fact memory of one planning session. Facts are
// stored by value in insertion order; duplicates of the same type are allowed
// (validation failures need that). A blackboard belongs to exactly one
// session and is only touched by the planner goroutine, so it carries no
// locking.
type Blackboard struct {
	facts []any
}

func NewBlackboard() *Blackboard {
	return &Blackboard{}
}

// Add appends a fact.
func (b *Blackboard) Add(fact any) {
	b.facts = append(b.facts, fact)
}

// Len reports the number of facts currently held.
func (b *Blackboard) Len() int {
	return len(b.facts)
}

// HasType reports whether at least one fact of the given type is present.
func (b *Blackboard) HasType(t reflect.Type) bool {
	for _, fact := range b.facts {
		if reflect.TypeOf(fact) == t {
			return true
		}
	}
	return false
}

// FirstOf returns the oldest fact of type T.
func FirstOf[T any](b *Blackboard) (T, bool) {
	for _, fact := range b.facts {
		if v, ok := fact.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// LastOf returns the newest fact of type T.
func LastOf[T any](b *Blackboard) (T, bool) {
	for i := len(b.facts) - 1; i >= 0; i-- {
		if v, ok := b.facts[i].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// AllOf returns every fact of type T in insertion order.
func AllOf[T any](b *Blackboard) []T {
	var out []T
	for _, fact := range b.facts {
		if v, ok := fact.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// RemoveAllOf drops every fact of type T.
func RemoveAllOf[T any](b *Blackboard) {
	kept := b.facts[:0]
	for _, fact := range b.facts {
		if _, ok := fact.(T); !ok {
			kept = append(kept, fact)
		}
	}
	b.facts = kept
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
