// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ledger records every chart generation request and its lifecycle state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/fsm"
)

var (
	ErrNotFound          = errors.New("chart request not found")
	ErrExists            = errors.New("chart request already exists")
	ErrInvalidTransition = fsm.ErrInvalidTransition
	ErrInconsistent      = errors.New("inconsistent terminal record")
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is valid.
func (s Status) Terminal() bool {
	return s != "" && Lifecycle.Terminal(s)
}

// Event drives a lifecycle transition.
type Event string

const (
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// Lifecycle is the only set of valid edges:
// pending -start-> processing -complete-> completed, processing -fail-> failed.
var Lifecycle = fsm.MustNew([]fsm.Transition[Status, Event]{
	{From: StatusPending, Event: EventStart, To: StatusProcessing},
	{From: StatusProcessing, Event: EventComplete, To: StatusCompleted},
	{From: StatusProcessing, Event: EventFail, To: StatusFailed},
})

// Result is the outcome of a successful render.
type Result struct {
	ImageURL    string `json:"imageUrl"`
	ContentType string `json:"contentType"`
	SizeBytes   int    `json:"sizeBytes"`
	ImageBase64 string `json:"imageBase64,omitempty"`
}

// Request is one chart generation attempt.
type Request struct {
	RequestID      string       `json:"requestId"`
	ClientID       string       `json:"clientId,omitempty"`
	Config         chart.Config `json:"config"`
	Status         Status       `json:"status"`
	Result         *Result      `json:"result,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	ProcessingTime *int64       `json:"processingTime,omitempty"` // milliseconds
	CreatedAt      time.Time    `json:"createdAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`

	seq uint64
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Config = r.Config.Clone()
	if r.Result != nil {
		res := *r.Result
		cp.Result = &res
	}
	if r.ProcessingTime != nil {
		pt := *r.ProcessingTime
		cp.ProcessingTime = &pt
	}
	if r.CompletedAt != nil {
		ca := *r.CompletedAt
		cp.CompletedAt = &ca
	}
	return &cp
}

// checkTerminal enforces that result and error message are mutually exclusive
// and each implies its terminal status.
func (r *Request) checkTerminal() error {
	switch r.Status {
	case StatusCompleted:
		if r.Result == nil || r.ErrorMessage != "" {
			return fmt.Errorf("%w: completed %s needs a result and no error", ErrInconsistent, r.RequestID)
		}
	case StatusFailed:
		if r.Result != nil || r.ErrorMessage == "" {
			return fmt.Errorf("%w: failed %s needs an error and no result", ErrInconsistent, r.RequestID)
		}
	default:
		if r.Result != nil || r.ErrorMessage != "" {
			return fmt.Errorf("%w: %s %s carries a terminal field", ErrInconsistent, r.Status, r.RequestID)
		}
	}
	return nil
}

// Store is the request ledger. Implementations return copies; callers never
// hold a reference into store-owned state.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// Transition applies event to the request, runs mutate on a copy and
	// replaces the stored record as a whole.
	Transition(ctx context.Context, id string, event Event, mutate func(*Request)) (*Request, error)
	// ListRecent returns up to limit requests, newest first. limit <= 0 means all.
	ListRecent(ctx context.Context, limit int) ([]*Request, error)
	Len() int
}

// IDGenerator produces ids of the form chart_<unixMillis>_<sequence>.
type IDGenerator struct {
	n   atomic.Uint64
	now func() time.Time
}

// NewIDGenerator returns a generator backed by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a new process-unique id.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("chart_%d_%d", g.now().UnixMilli(), g.n.Add(1))
}
