package http

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/telefoot/relay/internal/domain"
)

type mockPool struct {
	mu         sync.Mutex
	active     int
	phones     []string
	restarts   int
	restartErr error
}

func (m *mockPool) ActiveConnections() int    { return m.active }
func (m *mockPool) ConnectedPhones() []string { return m.phones }

func (m *mockPool) RestartAll(ctx context.Context) (*domain.RestoreReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	if m.restartErr != nil {
		return nil, m.restartErr
	}
	return &domain.RestoreReport{TotalSessions: m.active, RestoredSessions: m.active}, nil
}

func (m *mockPool) restartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

type mockRuleCounter struct {
	count int
}

func (m *mockRuleCounter) CountActive(ctx context.Context) (int, error) { return m.count, nil }

type mockUserCounter struct {
	count int
}

func (m *mockUserCounter) Count(ctx context.Context) (int, error) { return m.count, nil }

type mockHeartbeat struct {
	running bool
	last    time.Time
}

func (m *mockHeartbeat) Running() bool            { return m.running }
func (m *mockHeartbeat) LastHeartbeat() time.Time { return m.last }

func newTestHandler(pool *mockPool, hb *mockHeartbeat) *Handler {
	return NewHandler(
		"relay-service",
		pool,
		&mockRuleCounter{count: 3},
		&mockUserCounter{count: 5},
		hb,
		nil,
		zerolog.Nop(),
	)
}

func TestHandleHealthWhenRunning(t *testing.T) {
	pool := &mockPool{active: 2, phones: []string{"+33****5678"}}
	hb := &mockHeartbeat{running: true, last: time.Now()}
	handler := newTestHandler(pool, hb)

	var ctx fasthttp.RequestCtx
	handler.HandleHealth(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}

	var resp HealthResponse
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy status, got %q", resp.Status)
	}
	if resp.TelefeedSessions != 2 {
		t.Errorf("expected 2 sessions, got %d", resp.TelefeedSessions)
	}
	if resp.ActiveRedirections != 3 {
		t.Errorf("expected 3 active redirections, got %d", resp.ActiveRedirections)
	}
}

func TestHandleHealthWhenHeartbeatStopped(t *testing.T) {
	pool := &mockPool{}
	hb := &mockHeartbeat{running: false}
	handler := newTestHandler(pool, hb)

	var ctx fasthttp.RequestCtx
	handler.HandleHealth(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("expected 500 when heartbeat stopped, got %d", ctx.Response.StatusCode())
	}

	var resp HealthResponse
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("expected unhealthy status, got %q", resp.Status)
	}
}

func TestHandleStatusSnapshot(t *testing.T) {
	pool := &mockPool{active: 1, phones: []string{"+33****1111"}}
	hb := &mockHeartbeat{running: true, last: time.Now()}
	handler := newTestHandler(pool, hb)

	var ctx fasthttp.RequestCtx
	handler.HandleStatus(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}

	var resp StatusResponse
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Service != "relay-service" || resp.Status != "running" {
		t.Errorf("unexpected snapshot: %+v", resp)
	}
	if resp.RegisteredUsers != 5 {
		t.Errorf("expected 5 registered users, got %d", resp.RegisteredUsers)
	}
	if len(resp.ConnectedPhones) != 1 || resp.ConnectedPhones[0] != "+33****1111" {
		t.Errorf("expected masked phones in snapshot, got %v", resp.ConnectedPhones)
	}
	if resp.KafkaHealthy != nil {
		t.Error("kafka health must be omitted when no producer is configured")
	}
}

func TestHandleHealthMonitorPlainText(t *testing.T) {
	handler := newTestHandler(&mockPool{}, &mockHeartbeat{running: true})

	var ctx fasthttp.RequestCtx
	handler.HandleHealthMonitor(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Body()) != "Bot is running" {
		t.Errorf("expected running body, got %q", ctx.Response.Body())
	}

	handler = newTestHandler(&mockPool{}, &mockHeartbeat{running: false})
	var stalled fasthttp.RequestCtx
	handler.HandleHealthMonitor(&stalled)

	if stalled.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500 when heartbeat stalled, got %d", stalled.Response.StatusCode())
	}
	if string(stalled.Response.Body()) != "Bot is not running" {
		t.Errorf("expected stopped body, got %q", stalled.Response.Body())
	}
}

func TestHandleReactivateSchedulesRestart(t *testing.T) {
	pool := &mockPool{active: 2}
	handler := newTestHandler(pool, &mockHeartbeat{running: true})

	var ctx fasthttp.RequestCtx
	handler.HandleReactivate(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusAccepted {
		t.Fatalf("expected 202, got %d", ctx.Response.StatusCode())
	}

	// Restart runs asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for pool.restartCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected RestartAll to be invoked")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
