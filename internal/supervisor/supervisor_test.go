package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/repository/memory"
)

// fakeAccountClient is a test double that implements domain.AccountClient
type fakeAccountClient struct {
	phone       string
	connectErr  error
	mu          sync.RWMutex
	connected   bool
	disconnects int
	handler     domain.EventHandler
}

func (f *fakeAccountClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAccountClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeAccountClient) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *fakeAccountClient) PhoneNumber() string { return f.phone }

func (f *fakeAccountClient) SetEventHandler(h domain.EventHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeAccountClient) Send(ctx context.Context, dest int64, text string) error {
	return nil
}

type noopHandler struct{}

func (noopHandler) HandleEvent(context.Context, domain.InboundEvent) {}

func seedSessions(t *testing.T, repo domain.SessionRepository, phones ...string) {
	t.Helper()
	for _, phone := range phones {
		err := repo.Upsert(context.Background(), &domain.Session{
			PhoneNumber: phone,
			CreatedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("failed to seed session: %v", err)
		}
	}
}

func newTestSupervisor(repo domain.SessionRepository, factory domain.ClientFactory) *Supervisor {
	engineFactory := func(phone string, client domain.AccountClient) domain.EventHandler {
		return noopHandler{}
	}
	linkFactory := func(phone string, code domain.CodeProvider, password domain.PasswordProvider) (domain.AccountClient, error) {
		return factory(phone)
	}
	return NewSupervisor(repo, factory, linkFactory, engineFactory, Config{
		MaxConcurrent:  4,
		ConnectTimeout: time.Second,
	}, zerolog.Nop())
}

func TestRestoreAllReconnectsEverySession(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111", "+33622222222", "+33633333333")

	var created atomic.Int32
	factory := func(phone string) (domain.AccountClient, error) {
		created.Add(1)
		return &fakeAccountClient{phone: phone}, nil
	}

	sup := newTestSupervisor(repo, factory)
	report, err := sup.RestoreAll(context.Background())
	if err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	if report.TotalSessions != 3 || report.RestoredSessions != 3 || report.FailedSessions != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if created.Load() != 3 {
		t.Errorf("expected 3 clients created, got %d", created.Load())
	}
	if sup.ActiveConnections() != 3 {
		t.Errorf("expected 3 active connections, got %d", sup.ActiveConnections())
	}

	// Connection state must be written back to the session store
	sess, err := repo.Get(context.Background(), "+33611111111")
	if err != nil {
		t.Fatalf("failed to read session back: %v", err)
	}
	if !sess.Connected || sess.RestoredAt == nil {
		t.Errorf("expected session marked connected with RestoredAt set, got %+v", sess)
	}
}

func TestRestoreAllContinuesPastFailures(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111", "+33622222222", "+33633333333")

	connectErr := errors.New("session expired")
	factory := func(phone string) (domain.AccountClient, error) {
		client := &fakeAccountClient{phone: phone}
		if phone == "+33622222222" {
			client.connectErr = connectErr
		}
		return client, nil
	}

	sup := newTestSupervisor(repo, factory)
	report, err := sup.RestoreAll(context.Background())
	if err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	if report.RestoredSessions != 2 || report.FailedSessions != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(report.Errors))
	}
	for phone := range report.Errors {
		if phone == "+33622222222" {
			t.Error("report must key errors by the masked phone number")
		}
	}

	sess, err := repo.Get(context.Background(), "+33622222222")
	if err != nil {
		t.Fatalf("failed to read session back: %v", err)
	}
	if sess.Connected || sess.LastError == "" {
		t.Errorf("expected failed session with LastError set, got %+v", sess)
	}
}

func TestRestoreAllSkipsAlreadyLivePhones(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111")

	var created atomic.Int32
	factory := func(phone string) (domain.AccountClient, error) {
		created.Add(1)
		return &fakeAccountClient{phone: phone}, nil
	}

	sup := newTestSupervisor(repo, factory)
	if _, err := sup.RestoreAll(context.Background()); err != nil {
		t.Fatalf("first RestoreAll failed: %v", err)
	}
	if _, err := sup.RestoreAll(context.Background()); err != nil {
		t.Fatalf("second RestoreAll failed: %v", err)
	}

	if created.Load() != 1 {
		t.Errorf("expected a live phone not to be reconnected, got %d clients", created.Load())
	}
	if sup.ActiveConnections() != 1 {
		t.Errorf("expected 1 active connection, got %d", sup.ActiveConnections())
	}
}

func TestRestartAllRebuildsThePool(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111", "+33622222222")

	var mu sync.Mutex
	clients := make(map[string]*fakeAccountClient)
	factory := func(phone string) (domain.AccountClient, error) {
		client := &fakeAccountClient{phone: phone}
		mu.Lock()
		clients[phone] = client
		mu.Unlock()
		return client, nil
	}

	sup := newTestSupervisor(repo, factory)
	if _, err := sup.RestoreAll(context.Background()); err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	mu.Lock()
	first := clients["+33611111111"]
	mu.Unlock()

	report, err := sup.RestartAll(context.Background())
	if err != nil {
		t.Fatalf("RestartAll failed: %v", err)
	}

	if report.RestoredSessions != 2 {
		t.Errorf("expected 2 restored sessions after restart, got %d", report.RestoredSessions)
	}
	if first.disconnects != 1 {
		t.Errorf("expected old client disconnected exactly once, got %d", first.disconnects)
	}
	if sup.ActiveConnections() != 2 {
		t.Errorf("expected 2 active connections after restart, got %d", sup.ActiveConnections())
	}
}

func TestConcurrentRestartAllNeverDuplicatesConnections(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111", "+33622222222")

	factory := func(phone string) (domain.AccountClient, error) {
		return &fakeAccountClient{phone: phone}, nil
	}

	sup := newTestSupervisor(repo, factory)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sup.RestartAll(context.Background()); err != nil {
				t.Errorf("RestartAll failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if sup.ActiveConnections() != 2 {
		t.Errorf("expected exactly 2 connections after concurrent restarts, got %d", sup.ActiveConnections())
	}
}

func TestLinkRejectsAlreadyLivePhone(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111")

	factory := func(phone string) (domain.AccountClient, error) {
		return &fakeAccountClient{phone: phone}, nil
	}

	sup := newTestSupervisor(repo, factory)
	if _, err := sup.RestoreAll(context.Background()); err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	err := sup.Link(context.Background(), "+33611111111", nil, nil)
	if !errors.Is(err, domain.ErrSessionAlreadyLive) {
		t.Errorf("expected ErrSessionAlreadyLive, got %v", err)
	}
}

func TestLinkPersistsSession(t *testing.T) {
	repo := memory.NewSessionRepository()

	factory := func(phone string) (domain.AccountClient, error) {
		return &fakeAccountClient{phone: phone}, nil
	}

	sup := newTestSupervisor(repo, factory)
	if err := sup.Link(context.Background(), "+33644444444", nil, nil); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	sess, err := repo.Get(context.Background(), "+33644444444")
	if err != nil {
		t.Fatalf("expected linked session persisted: %v", err)
	}
	if !sess.Connected || sess.CredentialRef == "" {
		t.Errorf("unexpected persisted session: %+v", sess)
	}
	if sess.CredentialRef == "+33644444444" {
		t.Error("credential ref must not be the raw phone number")
	}
	if sup.ActiveConnections() != 1 {
		t.Errorf("expected 1 active connection after link, got %d", sup.ActiveConnections())
	}
}

func TestUnlinkRemovesSessionAndConnection(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111")

	factory := func(phone string) (domain.AccountClient, error) {
		return &fakeAccountClient{phone: phone}, nil
	}

	sup := newTestSupervisor(repo, factory)
	if _, err := sup.RestoreAll(context.Background()); err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	if err := sup.Unlink(context.Background(), "+33611111111"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}

	if sup.ActiveConnections() != 0 {
		t.Errorf("expected 0 active connections after unlink, got %d", sup.ActiveConnections())
	}
	if _, err := repo.Get(context.Background(), "+33611111111"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after unlink, got %v", err)
	}
}

func TestShutdownDisconnectsEverything(t *testing.T) {
	repo := memory.NewSessionRepository()
	seedSessions(t, repo, "+33611111111", "+33622222222")

	var mu sync.Mutex
	clients := make([]*fakeAccountClient, 0, 2)
	factory := func(phone string) (domain.AccountClient, error) {
		client := &fakeAccountClient{phone: phone}
		mu.Lock()
		clients = append(clients, client)
		mu.Unlock()
		return client, nil
	}

	sup := newTestSupervisor(repo, factory)
	if _, err := sup.RestoreAll(context.Background()); err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	sup.Shutdown(context.Background())

	for _, client := range clients {
		if client.IsConnected() {
			t.Errorf("expected %s disconnected after shutdown", client.phone)
		}
	}
	if sup.ActiveConnections() != 0 {
		t.Errorf("expected 0 active connections after shutdown, got %d", sup.ActiveConnections())
	}
}
