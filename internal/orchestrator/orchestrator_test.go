// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chartgw/internal/chart"
	"github.com/ManuGH/chartgw/internal/events"
	"github.com/ManuGH/chartgw/internal/imagestore"
	"github.com/ManuGH/chartgw/internal/ledger"
	"github.com/ManuGH/chartgw/internal/render"
	"github.com/ManuGH/chartgw/internal/sse"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type fakeRenderer struct {
	fn func(ctx context.Context, cfg chart.Config) (*render.Result, error)
}

func (f *fakeRenderer) Render(ctx context.Context, cfg chart.Config) (*render.Result, error) {
	return f.fn(ctx, cfg)
}

func (f *fakeRenderer) Configured() bool { return true }

func okRenderer() *fakeRenderer {
	return &fakeRenderer{fn: func(context.Context, chart.Config) (*render.Result, error) {
		return &render.Result{Image: pngBytes, ContentType: "image/png"}, nil
	}}
}

// captureStream records the events written to one client.
type captureStream struct {
	mu   sync.Mutex
	evs  []events.Event
	done chan struct{}
	once sync.Once
}

func newCaptureStream() *captureStream { return &captureStream{done: make(chan struct{})} }

func (c *captureStream) Send(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return nil
}
func (c *captureStream) Heartbeat() error      { return nil }
func (c *captureStream) Close() error          { c.once.Do(func() { close(c.done) }); return nil }
func (c *captureStream) Done() <-chan struct{} { return c.done }
func (c *captureStream) Protocol() string      { return "test" }

func (c *captureStream) kinds() []events.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return kindsOf(c.evs)
}

func kindsOf(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	ledger   *ledger.MemoryStore
	events   *events.Store
	registry *sse.Registry
}

func newHarness(t *testing.T, r render.Renderer, opts Options) *harness {
	t.Helper()
	seq := &events.Sequence{}
	evStore := events.NewStore(events.StoreOptions{})
	reg := sse.NewRegistry(sse.Options{Sequence: seq, Replay: evStore, HeartbeatInterval: time.Hour})
	t.Cleanup(reg.CloseAll)

	images := imagestore.NewMemoryStore(time.Minute, time.Minute)
	t.Cleanup(func() { _ = images.Close() })

	led := ledger.NewMemoryStore(100)
	orch := New(Deps{
		Ledger:    led,
		Validator: chart.NewValidator(),
		Renderer:  r,
		Images:    images,
		Emitter:   sse.NewBroadcaster(reg, evStore, seq),
		History:   evStore,
		Sessions:  reg,
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &harness{orch: orch, ledger: led, events: evStore, registry: reg}
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *ledger.Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := o.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.Status.Terminal(), "status %s", rec.Status)
	return rec
}

func TestSubmit_CompletesAndNotifiesClient(t *testing.T) {
	h := newHarness(t, okRenderer(), Options{InlineImages: true})
	client := newCaptureStream()
	h.registry.Register("c1", client, 0)

	rec, err := h.orch.Submit(context.Background(),
		[]byte(`{"symbol":"NASDAQ:AAPL","interval":"1D","chartType":"candlestick"}`), "c1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessing, rec.Status)
	assert.True(t, strings.HasPrefix(rec.RequestID, "chart_"))

	done := waitTerminal(t, h.orch, rec.RequestID)
	assert.Equal(t, ledger.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "/api/v2/charts/"+rec.RequestID+"/image", done.Result.ImageURL)
	assert.Equal(t, "image/png", done.Result.ContentType)
	assert.Equal(t, len(pngBytes), done.Result.SizeBytes)
	assert.NotEmpty(t, done.Result.ImageBase64)
	require.NotNil(t, done.ProcessingTime)
	assert.GreaterOrEqual(t, *done.ProcessingTime, int64(0))
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.ErrorMessage)

	want := []events.Kind{events.KindRequest, events.KindProgress, events.KindProgress, events.KindProgress, events.KindSuccess}
	hist, err := h.orch.History(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, want, kindsOf(hist))
	assert.Equal(t, "Chart generation started for NASDAQ:AAPL", hist[0].Message)
	assert.Equal(t, done.Result.ImageURL, hist[4].Data["imageUrl"])

	assert.Equal(t, append([]events.Kind{events.KindConnection}, want...), client.kinds())

	img, err := h.orch.Image(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
}

func TestSubmit_UpstreamFailure(t *testing.T) {
	r := &fakeRenderer{fn: func(context.Context, chart.Config) (*render.Result, error) {
		return nil, &render.UpstreamError{Sentinel: render.ErrRateLimited, Status: 429, Message: "rate limited"}
	}}
	h := newHarness(t, r, Options{})

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "c1")
	require.NoError(t, err)

	done := waitTerminal(t, h.orch, rec.RequestID)
	assert.Equal(t, ledger.StatusFailed, done.Status)
	assert.Nil(t, done.Result)
	assert.True(t, strings.HasPrefix(done.ErrorMessage, "upstream: "), done.ErrorMessage)
	assert.Contains(t, done.ErrorMessage, "rate limited")

	hist, err := h.orch.History(context.Background(), rec.RequestID)
	require.NoError(t, err)
	last := hist[len(hist)-1]
	assert.Equal(t, events.KindError, last.Type)
	assert.Equal(t, done.ErrorMessage, last.Data["error"])

	_, err = h.orch.Image(context.Background(), rec.RequestID)
	assert.ErrorIs(t, err, imagestore.ErrNotFound)
}

func TestSubmit_ValidationCreatesNothing(t *testing.T) {
	h := newHarness(t, okRenderer(), Options{})
	client := newCaptureStream()
	h.registry.Register("c1", client, 0)

	_, err := h.orch.Submit(context.Background(), []byte(`{"interval":"1D"}`), "c1")
	require.Error(t, err)
	var verr *chart.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, strings.HasPrefix(err.Error(), "validation: "))

	recent, err := h.orch.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Equal(t, 0, h.events.Len())
	assert.Equal(t, []events.Kind{events.KindConnection}, client.kinds())
}

func TestSubmit_RendererPanicFails(t *testing.T) {
	r := &fakeRenderer{fn: func(context.Context, chart.Config) (*render.Result, error) {
		panic("boom")
	}}
	h := newHarness(t, r, Options{})

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	require.NoError(t, err)

	done := waitTerminal(t, h.orch, rec.RequestID)
	assert.Equal(t, ledger.StatusFailed, done.Status)
	assert.Equal(t, "internal: renderer panic: boom", done.ErrorMessage)
}

func TestSubmit_WatchdogDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	r := &fakeRenderer{fn: func(context.Context, chart.Config) (*render.Result, error) {
		<-release
		return &render.Result{Image: pngBytes, ContentType: "image/png"}, nil
	}}
	h := newHarness(t, r, Options{Watchdog: 20 * time.Millisecond})
	defer close(release)

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	require.NoError(t, err)

	done := waitTerminal(t, h.orch, rec.RequestID)
	assert.Equal(t, ledger.StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "internal: render watchdog expired after 20ms")

	hist, err := h.orch.History(context.Background(), rec.RequestID)
	require.NoError(t, err)
	terminal := 0
	for _, ev := range hist {
		if ev.Type == events.KindSuccess || ev.Type == events.KindError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestLedgerAndEventsAgree(t *testing.T) {
	var n int
	var mu sync.Mutex
	r := &fakeRenderer{fn: func(context.Context, chart.Config) (*render.Result, error) {
		mu.Lock()
		n++
		odd := n%2 == 1
		mu.Unlock()
		if odd {
			return nil, errors.New("connection reset")
		}
		return &render.Result{Image: pngBytes, ContentType: "image/png"}, nil
	}}
	h := newHarness(t, r, Options{})

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"MSFT"}`), "")
			if assert.NoError(t, err) {
				ids <- rec.RequestID
			}
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		rec := waitTerminal(t, h.orch, id)
		hist, err := h.orch.History(context.Background(), id)
		require.NoError(t, err)
		last := hist[len(hist)-1]
		switch rec.Status {
		case ledger.StatusCompleted:
			assert.Equal(t, events.KindSuccess, last.Type)
		case ledger.StatusFailed:
			assert.Equal(t, events.KindError, last.Type)
			assert.Equal(t, "upstream: connection reset", rec.ErrorMessage)
		}
		for i := 1; i < len(hist); i++ {
			assert.Greater(t, hist[i].Sequence, hist[i-1].Sequence)
		}
	}
	assert.Equal(t, 20, h.ledger.Len())
}

func TestShutdown_RejectsAndCancels(t *testing.T) {
	r := &fakeRenderer{fn: func(ctx context.Context, _ chart.Config) (*render.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newHarness(t, r, Options{})

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.orch.Health().InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orch.Shutdown(ctx), context.DeadlineExceeded)

	got, err := h.orch.GetStatus(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "internal: render aborted"), got.ErrorMessage)
	assert.Equal(t, int64(0), h.orch.Health().InFlight)

	_, err = h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestHistoryAndStatus_Unknown(t *testing.T) {
	h := newHarness(t, okRenderer(), Options{})

	_, err := h.orch.History(context.Background(), "chart_0_0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.orch.GetStatus(context.Background(), "chart_0_0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.orch.Wait(context.Background(), "chart_0_0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, okRenderer(), Options{})
	h.registry.Register("c1", newCaptureStream(), 0)
	h.registry.Register("c2", newCaptureStream(), 0)

	got := h.orch.Health()
	assert.Equal(t, 2, got.LiveSessionCount)
	assert.True(t, got.UpstreamConfigured)
	assert.Equal(t, int64(0), got.InFlight)
}

func TestListRecent_NewestFirst(t *testing.T) {
	h := newHarness(t, okRenderer(), Options{})
	var ids []string
	for _, sym := range []string{"AAPL", "MSFT", "TSLA"} {
		rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"`+sym+`"}`), "")
		require.NoError(t, err)
		ids = append(ids, rec.RequestID)
		waitTerminal(t, h.orch, rec.RequestID)
	}

	recent, err := h.orch.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].RequestID)
	assert.Equal(t, ids[1], recent[1].RequestID)
}

// transportRenderer reports context cancellation the way ChartImgClient does.
func transportRenderer() *fakeRenderer {
	return &fakeRenderer{fn: func(ctx context.Context, _ chart.Config) (*render.Result, error) {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &render.UpstreamError{Sentinel: render.ErrTimeout, Err: ctx.Err()}
		}
		return nil, &render.UpstreamError{Sentinel: render.ErrUpstreamUnavailable, Err: ctx.Err()}
	}}
}

func TestFail_CancelledRenderIsInternal(t *testing.T) {
	h := newHarness(t, transportRenderer(), Options{})

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = h.orch.Shutdown(ctx)

	got, err := h.orch.GetStatus(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "internal: render aborted"), got.ErrorMessage)
	assert.NotContains(t, got.ErrorMessage, "upstream")
}

func TestFail_WatchdogDeadlineIsInternal(t *testing.T) {
	h := newHarness(t, transportRenderer(), Options{Watchdog: 20 * time.Millisecond})

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	require.NoError(t, err)

	done := waitTerminal(t, h.orch, rec.RequestID)
	assert.Equal(t, ledger.StatusFailed, done.Status)
	assert.Equal(t, "internal: render watchdog expired after 20ms", done.ErrorMessage)
}

func TestFail_UpstreamErrorKeepsOrigin(t *testing.T) {
	r := &fakeRenderer{fn: func(context.Context, chart.Config) (*render.Result, error) {
		return nil, &render.UpstreamError{Sentinel: render.ErrRateLimited, Status: 429, Message: "rate limited"}
	}}
	h := newHarness(t, r, Options{Watchdog: time.Minute})

	rec, err := h.orch.Submit(context.Background(), []byte(`{"symbol":"AAPL"}`), "")
	require.NoError(t, err)

	done := waitTerminal(t, h.orch, rec.RequestID)
	assert.Equal(t, "upstream: rate limited (HTTP 429)", done.ErrorMessage)
}
