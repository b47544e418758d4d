package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
)

// AuditProducer publishes redirect outcome events using an asynchronous
// sarama producer
type AuditProducer struct {
	producer  sarama.AsyncProducer
	topic     string
	logger    zerolog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
	healthy   atomic.Bool
}

// ProducerConfig holds configuration for the audit producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
	Logger  zerolog.Logger
}

// ValidateBrokers checks if Kafka brokers are accessible
func ValidateBrokers(brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers specified")
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka brokers: %w", err)
	}
	defer client.Close()

	if err := client.RefreshMetadata(); err != nil {
		return fmt.Errorf("failed to refresh metadata from Kafka: %w", err)
	}

	return nil
}

// NewAuditProducer creates a new Kafka audit producer.
//
// Configuration highlights:
// - Asynchronous producer, snappy compression
// - Idempotent mode for at-least-once delivery with deduplication
// - Hash partitioner keyed by owner ref, preserving per-account ordering
func NewAuditProducer(cfg ProducerConfig) (domain.AuditProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.RequiredAcks = sarama.WaitForAll // Required for idempotent producer
	config.Net.MaxOpenRequests = 1                   // Required for idempotent producer
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.ClientID = "relay-service-producer"
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := &AuditProducer{
		producer: producer,
		topic:    cfg.Topic,
		logger:   cfg.Logger.With().Str("component", "audit_producer").Logger(),
	}
	p.healthy.Store(true)

	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()

	cfg.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka audit producer initialized successfully")

	return p, nil
}

// PublishRedirect publishes one redirect outcome event asynchronously
func (p *AuditProducer) PublishRedirect(ctx context.Context, audit *domain.RedirectAudit) error {
	if p.closed.Load() {
		return fmt.Errorf("producer is closed")
	}

	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(audit.OwnerRef),
		Value: sarama.ByteEncoder(payload),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsHealthy reports whether the producer is operational
func (p *AuditProducer) IsHealthy() bool {
	return p.healthy.Load() && !p.closed.Load()
}

// Close flushes and shuts down the producer
func (p *AuditProducer) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.producer.Close()
		p.wg.Wait()
		p.logger.Info().Msg("Kafka audit producer closed")
	})
	return p.closeErr
}

// handleSuccesses drains the async success channel
func (p *AuditProducer) handleSuccesses() {
	defer p.wg.Done()
	for msg := range p.producer.Successes() {
		p.logger.Debug().
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("audit event delivered")
	}
}

// handleErrors drains the async error channel
func (p *AuditProducer) handleErrors() {
	defer p.wg.Done()
	for err := range p.producer.Errors() {
		p.healthy.Store(false)
		p.logger.Error().
			Err(err.Err).
			Str("topic", err.Msg.Topic).
			Msg("failed to deliver audit event")
	}
}

// Ensure AuditProducer implements domain.AuditProducer interface
var _ domain.AuditProducer = (*AuditProducer)(nil)
