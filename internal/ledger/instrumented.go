// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"time"

	"github.com/ManuGH/chartgw/internal/metrics"
)

// instrumentedStore wraps any Store to capture metrics.
type instrumentedStore struct {
	inner Store
}

// NewInstrumentedStore wraps inner with operation counters and latency histograms.
func NewInstrumentedStore(inner Store) Store {
	return &instrumentedStore{inner: inner}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	res := "success"
	if err != nil {
		res = "error"
	}
	metrics.RecordLedgerOp(op, res, time.Since(start))
}

func (i *instrumentedStore) Create(ctx context.Context, req *Request) (err error) {
	start := time.Now()
	defer func() { i.observe("create", start, err) }()
	return i.inner.Create(ctx, req)
}

func (i *instrumentedStore) Get(ctx context.Context, id string) (rec *Request, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, id)
}

func (i *instrumentedStore) Transition(ctx context.Context, id string, event Event, mutate func(*Request)) (rec *Request, err error) {
	start := time.Now()
	defer func() { i.observe("transition_"+string(event), start, err) }()
	return i.inner.Transition(ctx, id, event, mutate)
}

func (i *instrumentedStore) ListRecent(ctx context.Context, limit int) (list []*Request, err error) {
	start := time.Now()
	defer func() { i.observe("list_recent", start, err) }()
	return i.inner.ListRecent(ctx, limit)
}

func (i *instrumentedStore) Len() int {
	return i.inner.Len()
}
