package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/telefoot/relay/config"
	httpDelivery "github.com/telefoot/relay/internal/delivery/http"
	botDelivery "github.com/telefoot/relay/internal/delivery/telegram"
	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/engine"
	"github.com/telefoot/relay/internal/infrastructure/database"
	httpInfra "github.com/telefoot/relay/internal/infrastructure/http"
	kafkaInfra "github.com/telefoot/relay/internal/infrastructure/kafka"
	"github.com/telefoot/relay/internal/infrastructure/logger"
	"github.com/telefoot/relay/internal/infrastructure/metrics"
	telegramInfra "github.com/telefoot/relay/internal/infrastructure/telegram"
	"github.com/telefoot/relay/internal/repository/memory"
	"github.com/telefoot/relay/internal/repository/postgres"
	"github.com/telefoot/relay/internal/supervisor"
	"github.com/telefoot/relay/internal/usecase"
	"github.com/telefoot/relay/internal/workers"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize logger
	log := logger.New(cfg.Logging.Level)
	log.Info().
		Str("service", cfg.Service.Name).
		Str("port", cfg.Service.Port).
		Msg("Starting relay service")

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize stores. Without a database DSN the service runs on
	// in-memory stores with file-based session blobs.
	var (
		userRepo    domain.UserRepository
		sessionRepo domain.SessionRepository
		ruleRepo    domain.RuleRepository
		newStorage  func(phone string) (telegramInfra.SessionStore, error)
	)

	if cfg.Database.DSN != "" {
		log.Info().Msg("Initializing PostgreSQL storage...")

		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}

		if err := database.RunMigrations(db, &cfg.Database); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}

		userRepo = postgres.NewUserRepository(db)
		sessionRepo = postgres.NewSessionRepository(db)
		ruleRepo = postgres.NewRuleRepository(db)
		newStorage = func(phone string) (telegramInfra.SessionStore, error) {
			return telegramInfra.NewGormSessionStorage(db, phone)
		}
	} else {
		log.Warn().Msg("No DATABASE_DSN configured, using in-memory stores")

		userRepo = memory.NewUserRepository()
		sessionRepo = memory.NewSessionRepository()
		ruleRepo = memory.NewRuleRepository()
		newStorage = func(phone string) (telegramInfra.SessionStore, error) {
			return telegramInfra.NewFileSessionStorage(cfg.Telegram.SessionDir, phone)
		}
	}

	// 4. Initialize Kafka audit producer (optional)
	var auditProducer domain.AuditProducer
	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Msg("Validating Kafka brokers availability...")
		if err := kafkaInfra.ValidateBrokers(cfg.Kafka.Brokers); err != nil {
			log.Fatal().Err(err).Msg("Kafka brokers are not available")
		}

		auditProducer, err = kafkaInfra.NewAuditProducer(kafkaInfra.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Logger:  log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
	} else {
		log.Info().Msg("No Kafka brokers configured, audit publishing disabled")
	}

	// 5. Initialize session supervisor with its factories
	clientFactory := func(phone string) (domain.AccountClient, error) {
		storage, err := newStorage(phone)
		if err != nil {
			return nil, err
		}
		return telegramInfra.NewMTProtoClient(telegramInfra.MTProtoClientConfig{
			APIID:       cfg.Telegram.APIID,
			APIHash:     cfg.Telegram.APIHash,
			PhoneNumber: phone,
			Storage:     storage,
			SendRetries: cfg.Relay.SendRetries,
			Logger:      log,
		})
	}

	linkFactory := func(phone string, code domain.CodeProvider, password domain.PasswordProvider) (domain.AccountClient, error) {
		storage, err := newStorage(phone)
		if err != nil {
			return nil, err
		}
		return telegramInfra.NewMTProtoClient(telegramInfra.MTProtoClientConfig{
			APIID:            cfg.Telegram.APIID,
			APIHash:          cfg.Telegram.APIHash,
			PhoneNumber:      phone,
			Storage:          storage,
			CodeProvider:     code,
			PasswordProvider: password,
			SendRetries:      cfg.Relay.SendRetries,
			Logger:           log,
		})
	}

	engineFactory := func(phone string, client domain.AccountClient) domain.EventHandler {
		return engine.NewEngine(phone, client, ruleRepo, auditProducer, metrics.GetDefaultMetrics(), log)
	}

	sup := supervisor.NewSupervisor(
		sessionRepo,
		clientFactory,
		linkFactory,
		engineFactory,
		supervisor.Config{
			MaxConcurrent:  cfg.Relay.MaxConcurrent,
			ConnectTimeout: cfg.Relay.ConnectTimeout,
		},
		log,
	)

	// 6. Restore persisted sessions
	log.Info().Msg("Restoring persisted sessions...")
	report, err := sup.RestoreAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Session restore pass failed")
	}
	for phone, restoreErr := range report.Errors {
		log.Error().
			Str("phone", phone).
			Err(restoreErr).
			Msg("Failed to restore session")
	}

	// 7. Initialize license use case
	license := usecase.NewLicenseUseCase(userRepo, log)

	// 8. Start heartbeat worker
	heartbeat := workers.NewHeartbeat(cfg.Relay.HeartbeatInterval, sup, ruleRepo, log)
	heartbeat.Start(ctx)

	// 9. Initialize HTTP control plane
	httpServer := httpInfra.NewServer(cfg.Service.Name, cfg.Service.Port, log)
	httpServer.RegisterMetrics()

	statusHandler := httpDelivery.NewHandler(
		cfg.Service.Name,
		sup,
		ruleRepo,
		license,
		heartbeat,
		auditProducer,
		log,
	)
	statusHandler.Register(httpServer.Router)

	if err := httpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	// 10. Start the admin bot
	botHandlers := botDelivery.NewHandlers(license, ruleRepo, sup, heartbeat, cfg.Bot.AdminID, log)
	bot, err := botDelivery.NewBot(cfg.Bot.Token, botHandlers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Telegram bot")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Telegram bot goroutine panic recovered")
			}
		}()
		bot.Start(ctx)
	}()

	log.Info().
		Int("restored_sessions", report.RestoredSessions).
		Int("failed_sessions", report.FailedSessions).
		Msg("Relay service initialized successfully")

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info().Msg("Received shutdown signal, starting graceful shutdown...")

	// Cancel context to stop the bot and background loops
	cancel()
	wg.Wait()

	heartbeat.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}

	sup.Shutdown(shutdownCtx)

	if auditProducer != nil {
		if err := auditProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Kafka producer")
		}
	}

	log.Info().Msg("Relay service stopped gracefully")
}
