package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/infrastructure/metrics"
	"github.com/telefoot/relay/internal/repository/memory"
)

type sentMessage struct {
	dest int64
	text string
}

type mockAccountClient struct {
	mu       sync.Mutex
	phone    string
	sent     []sentMessage
	failDest map[int64]error
}

func (m *mockAccountClient) Connect(ctx context.Context) error    { return nil }
func (m *mockAccountClient) Disconnect(ctx context.Context) error { return nil }
func (m *mockAccountClient) IsConnected() bool                    { return true }
func (m *mockAccountClient) PhoneNumber() string                  { return m.phone }
func (m *mockAccountClient) SetEventHandler(domain.EventHandler)  {}

func (m *mockAccountClient) Send(ctx context.Context, dest int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failDest[dest]; ok {
		return err
	}
	m.sent = append(m.sent, sentMessage{dest: dest, text: text})
	return nil
}

type mockAuditProducer struct {
	mu     sync.Mutex
	audits []domain.RedirectAudit
}

func (m *mockAuditProducer) PublishRedirect(ctx context.Context, audit *domain.RedirectAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *audit)
	return nil
}

func (m *mockAuditProducer) IsHealthy() bool { return true }
func (m *mockAuditProducer) Close() error    { return nil }

func newTestEngine(t *testing.T, client *mockAccountClient, producer domain.AuditProducer, rules ...domain.Rule) *Engine {
	t.Helper()
	repo := memory.NewRuleRepository()
	for i := range rules {
		if err := repo.Upsert(context.Background(), &rules[i]); err != nil {
			t.Fatalf("failed to seed rule: %v", err)
		}
	}
	return NewEngine(client.phone, client, repo, producer, metrics.GetDefaultMetrics(), zerolog.Nop())
}

func TestHandleEventFansOutToAllDestinations(t *testing.T) {
	client := &mockAccountClient{phone: "+33612345678"}
	eng := newTestEngine(t, client, nil, domain.Rule{
		ID:           "foot",
		Owner:        "+33612345678",
		Sources:      []int64{100},
		Destinations: []int64{200, 300},
		Active:       true,
	})

	eng.HandleEvent(context.Background(), domain.InboundEvent{
		Owner:  "+33612345678",
		ChatID: 100,
		Text:   "goal!",
		At:     time.Now(),
	})

	if len(client.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(client.sent))
	}
	if client.sent[0].dest != 200 || client.sent[1].dest != 300 {
		t.Errorf("expected destinations in rule order [200 300], got %+v", client.sent)
	}
	for _, s := range client.sent {
		if s.text != "goal!" {
			t.Errorf("expected forwarded text %q, got %q", "goal!", s.text)
		}
	}
}

func TestHandleEventSkipsInactiveRules(t *testing.T) {
	client := &mockAccountClient{phone: "+33612345678"}
	eng := newTestEngine(t, client, nil, domain.Rule{
		ID:           "paused",
		Owner:        "+33612345678",
		Sources:      []int64{100},
		Destinations: []int64{200},
		Active:       false,
	})

	eng.HandleEvent(context.Background(), domain.InboundEvent{
		Owner:  "+33612345678",
		ChatID: 100,
		Text:   "ignored",
	})

	if len(client.sent) != 0 {
		t.Fatalf("expected no sends for inactive rule, got %d", len(client.sent))
	}
}

func TestHandleEventDropsUnmatchedChats(t *testing.T) {
	client := &mockAccountClient{phone: "+33612345678"}
	eng := newTestEngine(t, client, nil, domain.Rule{
		ID:           "foot",
		Owner:        "+33612345678",
		Sources:      []int64{100},
		Destinations: []int64{200},
		Active:       true,
	})

	eng.HandleEvent(context.Background(), domain.InboundEvent{
		Owner:  "+33612345678",
		ChatID: 999,
		Text:   "off-topic",
	})

	if len(client.sent) != 0 {
		t.Fatalf("expected no sends for unmatched chat, got %d", len(client.sent))
	}
}

func TestHandleEventIsolatesDestinationFailures(t *testing.T) {
	client := &mockAccountClient{
		phone:    "+33612345678",
		failDest: map[int64]error{200: domain.ErrSendFailed},
	}
	producer := &mockAuditProducer{}
	eng := newTestEngine(t, client, producer, domain.Rule{
		ID:           "foot",
		Owner:        "+33612345678",
		Sources:      []int64{100},
		Destinations: []int64{200, 300},
		Active:       true,
	})

	eng.HandleEvent(context.Background(), domain.InboundEvent{
		Owner:  "+33612345678",
		ChatID: 100,
		Text:   "goal!",
	})

	if len(client.sent) != 1 || client.sent[0].dest != 300 {
		t.Fatalf("expected delivery to 300 despite 200 failing, got %+v", client.sent)
	}

	if len(producer.audits) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(producer.audits))
	}
	if producer.audits[0].Delivered || producer.audits[0].Error == "" {
		t.Errorf("expected failed audit for dest 200, got %+v", producer.audits[0])
	}
	if !producer.audits[1].Delivered {
		t.Errorf("expected delivered audit for dest 300, got %+v", producer.audits[1])
	}
	if producer.audits[0].OwnerRef == "+33612345678" {
		t.Error("audit must not carry the raw phone number")
	}
}

func TestHandleEventEditIsObservedNotForwarded(t *testing.T) {
	client := &mockAccountClient{phone: "+33612345678"}
	producer := &mockAuditProducer{}
	eng := newTestEngine(t, client, producer, domain.Rule{
		ID:           "foot",
		Owner:        "+33612345678",
		Sources:      []int64{100},
		Destinations: []int64{200},
		Active:       true,
	})

	eng.HandleEvent(context.Background(), domain.InboundEvent{
		Owner:     "+33612345678",
		ChatID:    100,
		MessageID: 42,
		Text:      "corrected",
		Edit:      true,
	})

	if len(client.sent) != 0 {
		t.Fatalf("expected edits not to be forwarded, got %d sends", len(client.sent))
	}
	if len(producer.audits) != 1 {
		t.Fatalf("expected 1 audit event for the edit, got %d", len(producer.audits))
	}
	if !producer.audits[0].Edit || producer.audits[0].Delivered {
		t.Errorf("expected edit audit with Delivered=false, got %+v", producer.audits[0])
	}
}

func TestHandleEventMatchesMultipleRulesIndependently(t *testing.T) {
	client := &mockAccountClient{phone: "+33612345678"}
	eng := newTestEngine(t, client, nil,
		domain.Rule{
			ID:           "a",
			Owner:        "+33612345678",
			Sources:      []int64{100},
			Destinations: []int64{200},
			Active:       true,
		},
		domain.Rule{
			ID:           "b",
			Owner:        "+33612345678",
			Sources:      []int64{100, 101},
			Destinations: []int64{200, 300},
			Active:       true,
		},
	)

	eng.HandleEvent(context.Background(), domain.InboundEvent{
		Owner:  "+33612345678",
		ChatID: 100,
		Text:   "goal!",
	})

	// Rule "a" delivers to 200, rule "b" delivers to 200 and 300.
	// Destinations are not deduplicated across rules.
	if len(client.sent) != 3 {
		t.Fatalf("expected 3 sends across both rules, got %d", len(client.sent))
	}
}
