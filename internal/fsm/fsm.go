// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm provides a strict, table-driven state transition check.
package fsm

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when no edge exists for (state, event).
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

// Table is an immutable transition index. Unknown transitions are errors.
// Table holds no current state; callers keep state in their own records and
// ask the table for the next one under their own lock.
type Table[S ~string, E ~string] struct {
	index map[string]Transition[S, E]
}

// New builds a table from the given edges. Duplicate (From, Event) pairs are rejected.
func New[S ~string, E ~string](transitions []Transition[S, E]) (*Table[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Table[S, E]{index: idx}, nil
}

// MustNew is New for package-level tables.
func MustNew[S ~string, E ~string](transitions []Transition[S, E]) *Table[S, E] {
	t, err := New(transitions)
	if err != nil {
		panic(err)
	}
	return t
}

// Next returns the target state for event fired in state from.
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	tr, ok := t.index[key(from, event)]
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	return tr.To, nil
}

// Terminal reports whether no edge leaves state s.
func (t *Table[S, E]) Terminal(s S) bool {
	for _, tr := range t.index {
		if tr.From == s {
			return false
		}
	}
	return true
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
