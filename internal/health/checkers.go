// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// UpstreamChecker reports whether the chart rendering API can be called.
// A missing API key or an open circuit degrades the service without taking it down.
type UpstreamChecker struct {
	configured func() bool
	circuit    func() string
}

// NewUpstreamChecker creates the upstream checker. circuit may be nil.
func NewUpstreamChecker(configured func() bool, circuit func() string) *UpstreamChecker {
	return &UpstreamChecker{configured: configured, circuit: circuit}
}

func (c *UpstreamChecker) Name() string { return "upstream" }

func (c *UpstreamChecker) Check(_ context.Context) CheckResult {
	if !c.configured() {
		return CheckResult{Status: StatusDegraded, Message: "chart rendering API key not configured"}
	}
	if c.circuit != nil {
		if state := c.circuit(); state == "open" {
			return CheckResult{Status: StatusDegraded, Message: "circuit breaker open"}
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "configured"}
}

// SessionsChecker reports the number of live sessions.
type SessionsChecker struct {
	count func() int
}

func NewSessionsChecker(count func() int) *SessionsChecker {
	return &SessionsChecker{count: count}
}

func (c *SessionsChecker) Name() string { return "sessions" }

func (c *SessionsChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d live sessions", c.count())}
}

// PingChecker fails readiness when a dependency does not answer.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// ProcessChecker degrades when the resident set size of this process exceeds maxRSS bytes.
type ProcessChecker struct {
	proc   *process.Process
	maxRSS uint64
}

// NewProcessChecker inspects the current process. maxRSS of zero only reports.
func NewProcessChecker(maxRSS uint64) (*ProcessChecker, error) {
	p, err := process.NewProcess(int32(os.Getpid())) // #nosec G115 -- pids fit in int32
	if err != nil {
		return nil, fmt.Errorf("inspect process: %w", err)
	}
	return &ProcessChecker{proc: p, maxRSS: maxRSS}, nil
}

func (c *ProcessChecker) Name() string { return "process" }

func (c *ProcessChecker) Check(ctx context.Context) CheckResult {
	mem, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	msg := fmt.Sprintf("rss %d MiB", mem.RSS>>20)
	if c.maxRSS > 0 && mem.RSS > c.maxRSS {
		return CheckResult{Status: StatusDegraded, Message: msg + fmt.Sprintf(" exceeds %d MiB", c.maxRSS>>20)}
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}
