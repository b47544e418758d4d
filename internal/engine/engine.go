package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/infrastructure/metrics"
	"github.com/telefoot/relay/internal/utils"
)

// Engine forwards inbound messages of one account connection according to
// the owner's active redirection rules. Events arrive sequentially from the
// connection, so forwards for a single account are naturally ordered.
type Engine struct {
	owner    string
	client   domain.AccountClient
	ruleRepo domain.RuleRepository
	producer domain.AuditProducer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEngine creates a redirection engine for one account connection.
// producer may be nil when audit publishing is disabled.
func NewEngine(
	owner string,
	client domain.AccountClient,
	ruleRepo domain.RuleRepository,
	producer domain.AuditProducer,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		owner:    owner,
		client:   client,
		ruleRepo: ruleRepo,
		producer: producer,
		metrics:  m,
		logger: logger.With().
			Str("component", "engine").
			Str("phone", utils.MaskPhoneNumber(owner)).
			Logger(),
	}
}

// HandleEvent matches one inbound event against the owner's active rules and
// forwards it to every destination of every matched rule, in rule order. A
// failed destination never blocks the remaining destinations. Messages from
// chats no rule names are dropped silently.
func (e *Engine) HandleEvent(ctx context.Context, event domain.InboundEvent) {
	rules, err := e.ruleRepo.ListActive(ctx, e.owner)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to load redirection rules")
		return
	}

	matched := 0
	for i := range rules {
		rule := &rules[i]
		if !rule.MatchesSource(event.ChatID) {
			continue
		}
		matched++

		if event.Edit {
			e.observeEdit(ctx, rule, event)
			continue
		}

		for _, dest := range rule.Destinations {
			e.forward(ctx, rule, event, dest)
		}
	}

	if matched == 0 {
		e.logger.Debug().
			Int64("chat_id", event.ChatID).
			Msg("No rule matches source chat, dropping")
	}
}

// forward delivers one message to one destination and records the outcome
func (e *Engine) forward(ctx context.Context, rule *domain.Rule, event domain.InboundEvent, dest int64) {
	start := time.Now()
	err := e.client.Send(ctx, dest, event.Text)
	duration := time.Since(start)

	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("rule_id", rule.ID).
			Int64("source_chat", event.ChatID).
			Int64("dest_chat", dest).
			Msg("Failed to forward message")
		e.metrics.RecordForwardError(classifySendError(err))
		e.publishAudit(ctx, rule, event, dest, err)
		return
	}

	e.logger.Info().
		Str("rule_id", rule.ID).
		Int64("source_chat", event.ChatID).
		Int64("dest_chat", dest).
		Dur("duration", duration).
		Msg("Message forwarded")
	e.metrics.RecordForward(duration.Seconds())
	e.publishAudit(ctx, rule, event, dest, nil)
}

// observeEdit records an edited message on a matched source. Edits are
// never re-forwarded; destinations keep the originally delivered text.
func (e *Engine) observeEdit(ctx context.Context, rule *domain.Rule, event domain.InboundEvent) {
	e.logger.Info().
		Str("rule_id", rule.ID).
		Int64("source_chat", event.ChatID).
		Int("message_id", event.MessageID).
		Msg("Edit observed on matched source, not re-forwarded")
	e.metrics.RecordEdit()
	e.publishAudit(ctx, rule, event, 0, nil)
}

// publishAudit hands one redirect outcome to the audit producer, if any
func (e *Engine) publishAudit(ctx context.Context, rule *domain.Rule, event domain.InboundEvent, dest int64, sendErr error) {
	if e.producer == nil {
		return
	}

	audit := &domain.RedirectAudit{
		OwnerRef:   utils.MaskPhoneNumber(e.owner),
		RuleID:     rule.ID,
		SourceChat: event.ChatID,
		DestChat:   dest,
		Edit:       event.Edit,
		TextLength: len(event.Text),
		Delivered:  sendErr == nil && !event.Edit,
		ObservedAt: time.Now(),
	}
	if sendErr != nil {
		audit.Error = sendErr.Error()
	}

	if err := e.producer.PublishRedirect(ctx, audit); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish redirect audit")
		e.metrics.RecordKafkaError()
		return
	}
	e.metrics.RecordKafkaMessage()
}

// classifySendError maps a send error to a metrics label
func classifySendError(err error) string {
	switch {
	case errors.Is(err, domain.ErrFloodWait):
		return "flood_wait"
	case errors.Is(err, domain.ErrPeerNotFound):
		return "peer_not_found"
	case errors.Is(err, domain.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, domain.ErrSendFailed):
		return "send_failed"
	default:
		return "unknown"
	}
}
