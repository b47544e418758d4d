package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/infrastructure/metrics"
	"github.com/telefoot/relay/internal/utils"
)

// LinkClientFactory creates an AccountClient wired with interactive code and
// password providers for first-time account linking.
type LinkClientFactory func(phone string, code domain.CodeProvider, password domain.PasswordProvider) (domain.AccountClient, error)

// EngineFactory builds the event handler attached to a freshly created
// account connection.
type EngineFactory func(phone string, client domain.AccountClient) domain.EventHandler

// Config tunes the session supervisor
type Config struct {
	MaxConcurrent  int // parallel session restores
	ConnectTimeout time.Duration
}

// Supervisor owns the pool of live account connections. It restores
// persisted sessions at startup, links and unlinks accounts on demand, and
// restarts the whole pool on request.
type Supervisor struct {
	sessionRepo   domain.SessionRepository
	clientFactory domain.ClientFactory
	linkFactory   LinkClientFactory
	engineFactory EngineFactory
	cfg           Config
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	clientsMu sync.RWMutex
	clients   map[string]domain.AccountClient // phone -> live client

	// restoreMu serializes RestoreAll and RestartAll so two restore passes
	// never build duplicate connections for the same phone
	restoreMu sync.Mutex
}

// NewSupervisor creates a session supervisor
func NewSupervisor(
	sessionRepo domain.SessionRepository,
	clientFactory domain.ClientFactory,
	linkFactory LinkClientFactory,
	engineFactory EngineFactory,
	cfg Config,
	logger zerolog.Logger,
) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Minute
	}
	return &Supervisor{
		sessionRepo:   sessionRepo,
		clientFactory: clientFactory,
		linkFactory:   linkFactory,
		engineFactory: engineFactory,
		cfg:           cfg,
		metrics:       metrics.GetDefaultMetrics(),
		logger:        logger.With().Str("component", "supervisor").Logger(),
		clients:       make(map[string]domain.AccountClient),
	}
}

// RestoreAll reconnects every persisted session in parallel. A failed
// session never aborts the pass; its error lands in the report keyed by the
// masked phone number. Connection state is written back to the session
// store once the pass completes.
func (s *Supervisor) RestoreAll(ctx context.Context) (*domain.RestoreReport, error) {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	return s.restoreLocked(ctx)
}

// RestartAll tears down every live connection, then runs a full restore
// pass. Concurrent calls are serialized; the second caller waits and runs
// its own pass after the first completes.
func (s *Supervisor) RestartAll(ctx context.Context) (*domain.RestoreReport, error) {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()

	s.logger.Info().Msg("Restarting all account connections")
	s.disconnectAll(ctx)

	return s.restoreLocked(ctx)
}

// restoreLocked runs one restore pass. Caller must hold restoreMu.
func (s *Supervisor) restoreLocked(ctx context.Context) (*domain.RestoreReport, error) {
	sessions, err := s.sessionRepo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	report := &domain.RestoreReport{
		TotalSessions: len(sessions),
		Errors:        make(map[string]error),
	}

	if len(sessions) == 0 {
		s.logger.Warn().Msg("No persisted sessions to restore")
		return report, nil
	}

	s.logger.Info().
		Int("count", len(sessions)).
		Int("max_concurrent", s.cfg.MaxConcurrent).
		Msg("Starting session restore")

	var wg sync.WaitGroup
	var reportMu sync.Mutex

	// Semaphore for limiting concurrent goroutines (worker pool pattern)
	semaphore := make(chan struct{}, s.cfg.MaxConcurrent)

	for i := range sessions {
		wg.Add(1)
		go func(sess domain.Session) {
			defer wg.Done()

			maskedPhone := utils.MaskPhoneNumber(sess.PhoneNumber)

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				reportMu.Lock()
				report.Errors[maskedPhone] = ctx.Err()
				report.FailedSessions++
				reportMu.Unlock()
				return
			}

			logger := s.logger.With().Str("phone", maskedPhone).Logger()

			err := s.restoreOne(ctx, sess.PhoneNumber)
			s.metrics.RecordRestore(err == nil)

			now := time.Now()
			sess.Connected = err == nil
			sess.RestoredAt = &now
			sess.LastError = ""
			if err != nil {
				sess.LastError = err.Error()
			}
			if persistErr := s.sessionRepo.Upsert(ctx, &sess); persistErr != nil {
				logger.Warn().Err(persistErr).Msg("Failed to persist session state")
			}

			if err != nil {
				logger.Warn().Err(err).Msg("Failed to restore session")
				reportMu.Lock()
				report.Errors[maskedPhone] = err
				report.FailedSessions++
				reportMu.Unlock()
				return
			}

			logger.Info().Msg("Session restored")
			reportMu.Lock()
			report.RestoredSessions++
			reportMu.Unlock()
		}(sessions[i])
	}

	wg.Wait()

	s.metrics.UpdateSessions(s.ActiveConnections(), report.TotalSessions)

	s.logger.Info().
		Int("total", report.TotalSessions).
		Int("restored", report.RestoredSessions).
		Int("failed", report.FailedSessions).
		Msg("Session restore completed")

	return report, nil
}

// restoreOne builds and connects one account client, then registers it in
// the pool. An already live phone is left untouched.
func (s *Supervisor) restoreOne(ctx context.Context, phone string) error {
	s.clientsMu.RLock()
	_, live := s.clients[phone]
	s.clientsMu.RUnlock()
	if live {
		return nil
	}

	client, err := s.clientFactory(phone)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	client.SetEventHandler(s.engineFactory(phone, client))

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[phone] = client
	s.clientsMu.Unlock()
	return nil
}

// Link performs first-time authentication for a new account. The code and
// password providers carry the interactive part of the login flow. On
// success the connection joins the pool and the session is persisted so
// later restores find it.
func (s *Supervisor) Link(ctx context.Context, phone string, code domain.CodeProvider, password domain.PasswordProvider) error {
	s.clientsMu.RLock()
	_, live := s.clients[phone]
	s.clientsMu.RUnlock()
	if live {
		return domain.ErrSessionAlreadyLive
	}

	maskedPhone := utils.MaskPhoneNumber(phone)
	logger := s.logger.With().Str("phone", maskedPhone).Logger()
	logger.Info().Msg("Linking account")

	client, err := s.linkFactory(phone, code, password)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	client.SetEventHandler(s.engineFactory(phone, client))

	if err := client.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("Account linking failed")
		return err
	}

	s.clientsMu.Lock()
	s.clients[phone] = client
	s.clientsMu.Unlock()

	now := time.Now()
	session := &domain.Session{
		PhoneNumber:   phone,
		CredentialRef: credentialRef(phone),
		Connected:     true,
		RestoredAt:    &now,
		CreatedAt:     now,
	}
	if err := s.sessionRepo.Upsert(ctx, session); err != nil {
		logger.Error().Err(err).Msg("Failed to persist linked session")
		return err
	}

	s.metrics.UpdateSessions(s.ActiveConnections(), s.sessionCount(ctx))
	logger.Info().Msg("Account linked")
	return nil
}

// Unlink disconnects an account and removes its persisted session
func (s *Supervisor) Unlink(ctx context.Context, phone string) error {
	maskedPhone := utils.MaskPhoneNumber(phone)

	s.clientsMu.Lock()
	client, live := s.clients[phone]
	delete(s.clients, phone)
	s.clientsMu.Unlock()

	if live {
		if err := client.Disconnect(ctx); err != nil {
			s.logger.Warn().
				Err(err).
				Str("phone", maskedPhone).
				Msg("Failed to disconnect client during unlink")
		}
	}

	if err := s.sessionRepo.Delete(ctx, phone); err != nil {
		return err
	}

	s.metrics.UpdateSessions(s.ActiveConnections(), s.sessionCount(ctx))
	s.logger.Info().Str("phone", maskedPhone).Msg("Account unlinked")
	return nil
}

// Client returns the live connection for a phone, if any
func (s *Supervisor) Client(phone string) (domain.AccountClient, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	client, ok := s.clients[phone]
	return client, ok
}

// ActiveConnections returns the number of currently connected accounts
func (s *Supervisor) ActiveConnections() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	connected := 0
	for _, client := range s.clients {
		if client.IsConnected() {
			connected++
		}
	}
	return connected
}

// ConnectedPhones returns the phone numbers of live connections, masked
func (s *Supervisor) ConnectedPhones() []string {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	phones := make([]string, 0, len(s.clients))
	for phone, client := range s.clients {
		if client.IsConnected() {
			phones = append(phones, utils.MaskPhoneNumber(phone))
		}
	}
	return phones
}

// Shutdown disconnects every live connection in parallel
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[string]domain.AccountClient)
	s.clientsMu.Unlock()

	if len(clients) == 0 {
		return
	}

	s.logger.Info().Int("count", len(clients)).Msg("Disconnecting all accounts")

	var wg sync.WaitGroup
	for phone, client := range clients {
		wg.Add(1)
		go func(phone string, client domain.AccountClient) {
			defer wg.Done()
			if err := client.Disconnect(ctx); err != nil {
				s.logger.Warn().
					Err(err).
					Str("phone", utils.MaskPhoneNumber(phone)).
					Msg("Failed to disconnect account")
			}
		}(phone, client)
	}
	wg.Wait()

	s.metrics.UpdateSessions(0, s.sessionCount(ctx))
}

// disconnectAll tears down the pool without touching persisted sessions.
// Caller must hold restoreMu.
func (s *Supervisor) disconnectAll(ctx context.Context) {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[string]domain.AccountClient)
	s.clientsMu.Unlock()

	var wg sync.WaitGroup
	for phone, client := range clients {
		wg.Add(1)
		go func(phone string, client domain.AccountClient) {
			defer wg.Done()

			disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				s.logger.Warn().
					Err(err).
					Str("phone", utils.MaskPhoneNumber(phone)).
					Msg("Failed to disconnect account before restart")
			}
		}(phone, client)
	}
	wg.Wait()
}

func (s *Supervisor) sessionCount(ctx context.Context) int {
	sessions, err := s.sessionRepo.All(ctx)
	if err != nil {
		return 0
	}
	return len(sessions)
}

// credentialRef derives the stable reference used to locate an account's
// stored session blob. Matches the hash the session storage keys on.
func credentialRef(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}
