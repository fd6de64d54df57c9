// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chartgw/internal/config"
	"github.com/ManuGH/chartgw/internal/log"
)

type fakeManager struct {
	started   chan struct{}
	startErr  error
	shutdowns atomic.Int32
}

func newFakeManager() *fakeManager {
	return &fakeManager{started: make(chan struct{})}
}

func (f *fakeManager) Start(ctx context.Context) error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeManager) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

func (f *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

func TestApp_RequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_ReloadReachesListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0600))
	loader := config.NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(initial, loader, "")

	reloaded := make(chan string, 1)
	mgr := newFakeManager()
	app := NewApp(log.WithComponent("test"), mgr, holder, func(cfg config.AppConfig) {
		reloaded <- cfg.Log.Level
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-mgr.started

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case level := <-reloaded:
		assert.Equal(t, "debug", level)
	case <-time.After(2 * time.Second):
		t.Fatal("reload listener was not called")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestApp_StartFailureShutsDown(t *testing.T) {
	mgr := newFakeManager()
	mgr.startErr = errors.New("bind failed")
	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind failed")
	assert.Equal(t, int32(1), mgr.shutdowns.Load())
}
