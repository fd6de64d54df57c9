// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

func TestTable_Next(t *testing.T) {
	tbl, err := New([]Transition[state, event]{
		{From: "idle", Event: "go", To: "busy"},
		{From: "busy", Event: "done", To: "finished"},
	})
	require.NoError(t, err)

	next, err := tbl.Next("idle", "go")
	require.NoError(t, err)
	assert.Equal(t, state("busy"), next)

	next, err = tbl.Next("finished", "go")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, state("finished"), next)
}

func TestTable_DuplicateRejected(t *testing.T) {
	_, err := New([]Transition[state, event]{
		{From: "idle", Event: "go", To: "busy"},
		{From: "idle", Event: "go", To: "other"},
	})
	require.Error(t, err)
	assert.Panics(t, func() {
		MustNew([]Transition[state, event]{
			{From: "a", Event: "x", To: "b"},
			{From: "a", Event: "x", To: "c"},
		})
	})
}

func TestTable_Terminal(t *testing.T) {
	tbl := MustNew([]Transition[state, event]{
		{From: "idle", Event: "go", To: "busy"},
	})
	assert.False(t, tbl.Terminal("idle"))
	assert.True(t, tbl.Terminal("busy"))
}
