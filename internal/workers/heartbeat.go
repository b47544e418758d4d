package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/infrastructure/metrics"
)

// ConnectionCounter reports live account connections
type ConnectionCounter interface {
	ActiveConnections() int
}

// RuleCounter reports active redirection rules
type RuleCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// Heartbeat periodically stamps service liveness and refreshes the
// aggregate gauges. It only reads counts, so it never blocks message
// dispatch.
type Heartbeat struct {
	interval time.Duration
	pool     ConnectionCounter
	rules    RuleCounter
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	running  atomic.Bool
	lastBeat atomic.Int64 // unix nanoseconds

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeat creates the heartbeat worker
func NewHeartbeat(interval time.Duration, pool ConnectionCounter, rules RuleCounter, logger zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Heartbeat{
		interval: interval,
		pool:     pool,
		rules:    rules,
		metrics:  metrics.GetDefaultMetrics(),
		logger:   logger.With().Str("component", "heartbeat").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the heartbeat loop. The first beat fires immediately so
// health checks pass right after startup.
func (h *Heartbeat) Start(ctx context.Context) {
	h.running.Store(true)
	h.beat(ctx)

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.beat(ctx)
			case <-h.stop:
				h.running.Store(false)
				return
			case <-ctx.Done():
				h.running.Store(false)
				return
			}
		}
	}()

	h.logger.Info().Dur("interval", h.interval).Msg("Heartbeat started")
}

// Stop terminates the heartbeat loop
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.done
		h.logger.Info().Msg("Heartbeat stopped")
	})
}

// Running reports whether the heartbeat loop is alive
func (h *Heartbeat) Running() bool {
	return h.running.Load()
}

// LastHeartbeat returns the time of the most recent beat
func (h *Heartbeat) LastHeartbeat() time.Time {
	nanos := h.lastBeat.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (h *Heartbeat) beat(ctx context.Context) {
	h.lastBeat.Store(time.Now().UnixNano())
	h.metrics.RecordHeartbeat()

	connected := h.pool.ActiveConnections()

	activeRules, err := h.rules.CountActive(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count active redirections")
	} else {
		h.metrics.UpdateActiveRedirections(activeRules)
	}

	h.logger.Info().
		Int("connected_sessions", connected).
		Int("active_redirections", activeRules).
		Msg("Heartbeat")
}
