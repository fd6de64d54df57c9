// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/chartgw/internal/events"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r := NewRegistry(opts)
	t.Cleanup(r.CloseAll)
	return r
}

func TestRegister_SendsConnectionEventSynchronously(t *testing.T) {
	r := newTestRegistry(t, Options{})
	st := newFakeStream()

	s := r.Register("c1", st, 0)
	require.NotNil(t, s)

	got := st.events()
	require.Len(t, got, 1)
	assert.Equal(t, events.KindConnection, got[0].Type)
	assert.Equal(t, events.SystemRequestID, got[0].RequestID)
	assert.Equal(t, "c1", got[0].Data["clientId"])
	assert.Equal(t, 1, r.Count())
}

func TestRegister_ReplacesPriorSession(t *testing.T) {
	r := newTestRegistry(t, Options{})
	first := newFakeStream()
	second := newFakeStream()

	r.Register("c1", first, 0)
	r.Register("c1", second, 0)

	assert.Equal(t, 1, r.Count())
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	// The replaced stream's close must not take down the new session.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.Count())
	assert.True(t, r.WriteToSession("c1", events.Event{Type: events.KindProgress, RequestID: "r1"}))
	assert.Len(t, second.events(), 2)
	assert.Len(t, first.events(), 1)
}

func TestDeregister_Idempotent(t *testing.T) {
	r := newTestRegistry(t, Options{})
	st := newFakeStream()
	r.Register("c1", st, 0)
	r.Register("c2", newFakeStream(), 0)

	r.Deregister("c1")
	assert.Equal(t, 1, r.Count())
	assert.True(t, st.isClosed())

	r.Deregister("c1")
	r.Deregister("unknown")
	assert.Equal(t, 1, r.Count())
}

func TestUnknownClientOperationsAreNoops(t *testing.T) {
	r := newTestRegistry(t, Options{})

	assert.False(t, r.WriteToSession("ghost", events.Event{Type: events.KindProgress}))
	assert.Equal(t, 0, r.Broadcast(events.Event{Type: events.KindProgress}))
	assert.Empty(t, r.ClientIDs())
	assert.Equal(t, 0, r.Count())
}

func TestStreamClose_DeregistersAutomatically(t *testing.T) {
	r := newTestRegistry(t, Options{})
	st := newFakeStream()
	r.Register("c1", st, 0)

	st.hangUp()

	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWriteFailure_Deregisters(t *testing.T) {
	r := newTestRegistry(t, Options{})
	bad := newFakeStream()
	good := newFakeStream()
	r.Register("bad", bad, 0)
	r.Register("good", good, 0)

	bad.setSendErr(errors.New("broken pipe"))

	n := r.Broadcast(events.Event{Type: events.KindProgress, RequestID: "r1"})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"good"}, r.ClientIDs())
	assert.True(t, bad.isClosed())
	assert.Len(t, good.events(), 2)
}

func TestRegister_InitialWriteFailureDropsSession(t *testing.T) {
	r := newTestRegistry(t, Options{})
	st := newFakeStream()
	st.setSendErr(errors.New("reset"))

	s := r.Register("c1", st, 0)
	require.NotNil(t, s)
	assert.Equal(t, 0, r.Count())
	assert.True(t, st.isClosed())
}

func TestHeartbeat_WritesWhileRegistered(t *testing.T) {
	r := newTestRegistry(t, Options{HeartbeatInterval: 10 * time.Millisecond})
	st := newFakeStream()
	r.Register("c1", st, 0)

	require.Eventually(t, func() bool { return st.beats() >= 2 }, time.Second, 5*time.Millisecond)

	r.Deregister("c1")
	after := st.beats()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, st.beats())
}

func TestHeartbeatFailure_Deregisters(t *testing.T) {
	r := newTestRegistry(t, Options{HeartbeatInterval: 5 * time.Millisecond})
	st := newFakeStream()
	r.Register("c1", st, 0)

	st.mu.Lock()
	st.beatErr = errors.New("timeout")
	st.mu.Unlock()

	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegister_ReplaysAfterLastEventID(t *testing.T) {
	seq := &events.Sequence{}
	store := events.NewStore(events.StoreOptions{})
	for _, target := range []string{"", "c1", "c2"} {
		ev := events.New(seq, events.KindProgress, "r1", "step", nil)
		ev.Target = target
		require.NoError(t, store.Append(ev))
	}

	r := newTestRegistry(t, Options{Sequence: seq, Replay: store})
	st := newFakeStream()
	r.Register("c1", st, 1)

	got := st.events()
	require.Len(t, got, 2)
	assert.Equal(t, events.KindConnection, got[0].Type)
	assert.Equal(t, uint64(2), got[1].Sequence)
	assert.Greater(t, got[0].Sequence, uint64(3))
}

func TestSession_SkipsEventsAlreadyReplayed(t *testing.T) {
	seq := &events.Sequence{}
	store := events.NewStore(events.StoreOptions{})
	var stored []events.Event
	for i := 0; i < 3; i++ {
		ev := events.New(seq, events.KindProgress, "r1", "step", nil)
		require.NoError(t, store.Append(ev))
		stored = append(stored, ev)
	}

	r := newTestRegistry(t, Options{Sequence: seq, Replay: store})
	st := newFakeStream()
	r.Register("c1", st, stored[0].Sequence)
	require.Len(t, st.events(), 3)

	assert.True(t, r.WriteToSession("c1", stored[2]))
	assert.Len(t, st.events(), 3)

	next := events.New(seq, events.KindSuccess, "r1", "done", nil)
	assert.True(t, r.WriteToSession("c1", next))
	got := st.events()
	require.Len(t, got, 4)
	assert.Equal(t, next.Sequence, got[3].Sequence)
}

func TestSession_StaleLastEventIDDoesNotSuppressLiveEvents(t *testing.T) {
	seq := &events.Sequence{}
	store := events.NewStore(events.StoreOptions{})
	r := newTestRegistry(t, Options{Sequence: seq, Replay: store})
	st := newFakeStream()
	r.Register("c1", st, 500)

	ev := events.New(seq, events.KindRequest, "r1", "started", nil)
	require.True(t, r.WriteToSession("c1", ev))
	assert.Equal(t, []events.Kind{events.KindConnection, events.KindRequest}, kinds(st.events()))
}

func TestCloseAll_NoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(Options{HeartbeatInterval: time.Millisecond})
	streams := []*fakeStream{newFakeStream(), newFakeStream(), newFakeStream()}
	for i, st := range streams {
		r.Register(string(rune('a'+i)), st, 0)
	}
	require.Equal(t, 3, r.Count())

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	for _, st := range streams {
		assert.True(t, st.isClosed())
	}
}
