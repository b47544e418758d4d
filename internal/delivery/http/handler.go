package http

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/telefoot/relay/internal/domain"
)

// ConnectionPool exposes the live account connections to the status plane
type ConnectionPool interface {
	ActiveConnections() int
	ConnectedPhones() []string
	RestartAll(ctx context.Context) (*domain.RestoreReport, error)
}

// RuleCounter reports the number of active redirection rules
type RuleCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// UserCounter reports the number of registered users
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// KafkaHealthChecker wraps the audit producer health probe
type KafkaHealthChecker interface {
	IsHealthy() bool
}

// HealthResponse is the JSON body of GET /health
type HealthResponse struct {
	Status             string    `json:"status"`
	Uptime             string    `json:"uptime"`
	LastHeartbeat      time.Time `json:"last_heartbeat"`
	TelefeedSessions   int       `json:"telefeed_sessions"`
	ActiveRedirections int       `json:"active_redirections"`
}

// StatusResponse is the JSON body of GET /status
type StatusResponse struct {
	Service            string    `json:"service"`
	Status             string    `json:"status"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
	LastHeartbeat      time.Time `json:"last_heartbeat"`
	ConnectedSessions  int       `json:"connected_sessions"`
	ConnectedPhones    []string  `json:"connected_phones"`
	ActiveRedirections int       `json:"active_redirections"`
	RegisteredUsers    int       `json:"registered_users"`
	KafkaHealthy       *bool     `json:"kafka_healthy,omitempty"`
}

// Handler serves the status plane endpoints
type Handler struct {
	serviceName string
	pool        ConnectionPool
	rules       RuleCounter
	users       UserCounter
	heartbeat   domain.HeartbeatSource
	kafka       KafkaHealthChecker // nil when audit publishing is disabled
	startTime   time.Time
	logger      zerolog.Logger
}

// NewHandler creates the status plane handler. kafka may be nil.
func NewHandler(
	serviceName string,
	pool ConnectionPool,
	rules RuleCounter,
	users UserCounter,
	heartbeat domain.HeartbeatSource,
	kafka KafkaHealthChecker,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		serviceName: serviceName,
		pool:        pool,
		rules:       rules,
		users:       users,
		heartbeat:   heartbeat,
		kafka:       kafka,
		startTime:   time.Now(),
		logger:      logger.With().Str("component", "http_handler").Logger(),
	}
}

// Register attaches all routes to the router
func (h *Handler) Register(r *router.Router) {
	r.GET("/health", h.HandleHealth)
	r.GET("/status", h.HandleStatus)
	r.GET("/health-monitor", h.HandleHealthMonitor)
	r.POST("/reactivate", h.HandleReactivate)
}

// HandleHealth reports service liveness. Returns 500 when the heartbeat
// loop has stopped, so platform health checks recycle the instance.
func (h *Handler) HandleHealth(ctx *fasthttp.RequestCtx) {
	activeRules, err := h.rules.CountActive(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count active redirections")
	}

	response := HealthResponse{
		Status:             "healthy",
		Uptime:             time.Since(h.startTime).Round(time.Second).String(),
		LastHeartbeat:      h.heartbeat.LastHeartbeat(),
		TelefeedSessions:   h.pool.ActiveConnections(),
		ActiveRedirections: activeRules,
	}

	statusCode := fasthttp.StatusOK
	if !h.heartbeat.Running() {
		response.Status = "unhealthy"
		statusCode = fasthttp.StatusInternalServerError
	}

	h.writeJSON(ctx, statusCode, response)
}

// HandleStatus reports a detailed service snapshot
func (h *Handler) HandleStatus(ctx *fasthttp.RequestCtx) {
	activeRules, err := h.rules.CountActive(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count active redirections")
	}
	userCount, err := h.users.Count(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count users")
	}

	status := "running"
	if !h.heartbeat.Running() {
		status = "stopped"
	}

	response := StatusResponse{
		Service:            h.serviceName,
		Status:             status,
		UptimeSeconds:      time.Since(h.startTime).Seconds(),
		LastHeartbeat:      h.heartbeat.LastHeartbeat(),
		ConnectedSessions:  h.pool.ActiveConnections(),
		ConnectedPhones:    h.pool.ConnectedPhones(),
		ActiveRedirections: activeRules,
		RegisteredUsers:    userCount,
	}
	if h.kafka != nil {
		healthy := h.kafka.IsHealthy()
		response.KafkaHealthy = &healthy
	}

	h.writeJSON(ctx, fasthttp.StatusOK, response)
}

// HandleHealthMonitor serves the plain-text probe used by external uptime
// monitors
func (h *Handler) HandleHealthMonitor(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain; charset=utf-8")
	if h.heartbeat.Running() {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("Bot is running")
		return
	}
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetBodyString("Bot is not running")
}

// HandleReactivate schedules a full restart of all account connections.
// The restart runs in the background; the response only acknowledges the
// request.
func (h *Handler) HandleReactivate(ctx *fasthttp.RequestCtx) {
	h.logger.Info().Msg("Reactivation requested over HTTP")

	go func() {
		restartCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := h.pool.RestartAll(restartCtx)
		if err != nil {
			h.logger.Error().Err(err).Msg("Reactivation failed")
			return
		}
		h.logger.Info().
			Int("restored", report.RestoredSessions).
			Int("failed", report.FailedSessions).
			Msg("Reactivation completed")
	}()

	h.writeJSON(ctx, fasthttp.StatusAccepted, map[string]string{
		"status": "restart_scheduled",
	})
}

func (h *Handler) writeJSON(ctx *fasthttp.RequestCtx, statusCode int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(statusCode)
	ctx.SetBody(payload)
}
