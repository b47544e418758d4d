package telegram

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/utils"
)

const (
	// maxSendFloodWait is the longest server-demanded wait honored on the
	// send path; anything longer fails the attempt instead of stalling
	// the connection's event processing.
	maxSendFloodWait = 30 * time.Second

	sendBackoffBase = 1 * time.Second
	sendBackoffCap  = 30 * time.Second
)

// MTProtoClient implements domain.AccountClient using the gotd/td library.
// One instance holds one live connection for one linked phone number.
type MTProtoClient struct {
	// Telegram client instance
	client *telegram.Client

	// API credentials
	apiID   int
	apiHash string

	// Session storage
	storage     SessionStore
	phoneNumber string

	// Interactive linking providers; nil when reconnecting from a stored
	// session, in which case an unauthorized session is a hard failure
	codeProvider     domain.CodeProvider
	passwordProvider domain.PasswordProvider

	// Connection state
	connected     bool
	disconnecting bool
	mu            sync.RWMutex
	cancelFunc    context.CancelFunc
	runDone       chan struct{} // Signals when client.Run() completes

	// Inbound event consumer
	handler   domain.EventHandler
	handlerMu sync.RWMutex

	// Peer resolution for outbound sends
	peers *peerCache

	// API client for making requests
	api *tg.Client

	// Rate limiter for API calls
	rateLimiter *rate.Limiter
	sendRetries int

	logger zerolog.Logger
}

// SessionStore is the subset of session storage the client needs. Both
// GormSessionStorage and FileSessionStorage satisfy it through
// session.Storage; deletion on revoked sessions is handled by the caller.
type SessionStore interface {
	LoadSession(ctx context.Context) ([]byte, error)
	StoreSession(ctx context.Context, data []byte) error
}

// MTProtoClientConfig holds configuration for MTProtoClient
type MTProtoClientConfig struct {
	APIID            int
	APIHash          string
	PhoneNumber      string
	Storage          SessionStore
	CodeProvider     domain.CodeProvider
	PasswordProvider domain.PasswordProvider
	SendRetries      int
	Logger           zerolog.Logger
}

// NewMTProtoClient creates a new MTProto client instance
func NewMTProtoClient(cfg MTProtoClientConfig) (*MTProtoClient, error) {
	if cfg.APIID == 0 {
		return nil, fmt.Errorf("APIID is required")
	}
	if cfg.APIHash == "" {
		return nil, fmt.Errorf("APIHash is required")
	}
	if cfg.PhoneNumber == "" {
		return nil, fmt.Errorf("PhoneNumber is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("Storage is required")
	}
	if cfg.SendRetries <= 0 {
		cfg.SendRetries = 3
	}

	maskedPhone := utils.MaskPhoneNumber(cfg.PhoneNumber)

	return &MTProtoClient{
		apiID:            cfg.APIID,
		apiHash:          cfg.APIHash,
		phoneNumber:      cfg.PhoneNumber,
		storage:          cfg.Storage,
		codeProvider:     cfg.CodeProvider,
		passwordProvider: cfg.PasswordProvider,
		peers:            newPeerCache(),
		sendRetries:      cfg.SendRetries,
		logger:           cfg.Logger.With().Str("component", "mtproto_client").Str("phone", maskedPhone).Logger(),
		rateLimiter:      rate.NewLimiter(rate.Every(time.Second), 10), // 10 requests per second
	}, nil
}

// PhoneNumber returns the linked phone number this connection belongs to
func (c *MTProtoClient) PhoneNumber() string {
	return c.phoneNumber
}

// SetEventHandler registers the consumer for inbound message and edit
// events. Must be called before Connect; events of this connection are
// delivered sequentially in arrival order.
func (c *MTProtoClient) SetEventHandler(handler domain.EventHandler) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

func (c *MTProtoClient) eventHandler() domain.EventHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// Connect connects to Telegram using MTProto. The caller should provide a
// context with timeout; during interactive linking the timeout has to
// leave room for the user to type the confirmation code.
func (c *MTProtoClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already connected")
		return nil
	}
	if c.disconnecting {
		c.mu.Unlock()
		return fmt.Errorf("disconnect in progress, cannot connect")
	}
	// Keep the lock to prevent concurrent connection attempts
	defer c.mu.Unlock()

	c.logger.Info().Msg("connecting to Telegram")

	dispatcher := tg.NewUpdateDispatcher()
	c.wireDispatcher(&dispatcher)

	c.client = telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		SessionStorage: c.storage,
		UpdateHandler:  dispatcher,
	})

	// The run loop must outlive the caller's connect timeout; it is
	// stopped only by Disconnect.
	clientCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelFunc = cancel

	readyChan := make(chan struct{})
	errChan := make(chan error, 1)
	started := make(chan struct{})
	c.runDone = make(chan struct{})

	go func() {
		defer close(c.runDone) // Signal when Run() completes
		close(started)
		err := c.client.Run(clientCtx, func(ctx context.Context) error {
			c.api = c.client.API()

			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to check auth status: %w", err)
			}

			if !status.Authorized {
				if c.codeProvider == nil {
					// Stored session no longer valid and nobody is there
					// to type a code; the user has to re-link.
					c.logger.Error().Msg("stored session is not authorized")
					return domain.ErrAuthenticationFailed
				}
				c.logger.Info().Msg("not authorized, starting authentication")
				if err := c.authenticateWithRetry(ctx, 3); err != nil {
					c.logger.Error().Err(err).Msg("authentication failed")
					return fmt.Errorf("%w: %s", domain.ErrAuthenticationFailed, err)
				}
			} else {
				c.logger.Info().Msg("session restored from storage")
			}

			c.connected = true
			c.logger.Info().Msg("successfully connected to Telegram")

			close(readyChan)

			// Keep connection alive
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case errChan <- err:
		default:
		}
	}()

	// Ensure goroutine has started
	<-started

	// Wait for connection to be fully ready or error
	select {
	case <-readyChan:
		return nil
	case err := <-errChan:
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrAuthenticationFailed) {
				return err
			}
			return fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// wireDispatcher registers inbound update handlers. All four update kinds
// funnel into handleMessage tagged with the edit flag.
func (c *MTProtoClient) wireDispatcher(dispatcher *tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return c.handleMessage(ctx, e, u.Message, false)
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return c.handleMessage(ctx, e, u.Message, false)
	})
	dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		return c.handleMessage(ctx, e, u.Message, true)
	})
	dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		return c.handleMessage(ctx, e, u.Message, true)
	})
}

// handleMessage converts one raw update into an InboundEvent
func (c *MTProtoClient) handleMessage(ctx context.Context, e tg.Entities, message tg.MessageClass, edit bool) error {
	msg, ok := message.(*tg.Message)
	if !ok {
		return nil
	}
	if msg.Out {
		c.logger.Debug().Int("message_id", msg.ID).Msg("skipping outgoing message")
		return nil
	}

	// Remember access hashes so destinations seen here are resolvable
	c.peers.Harvest(e)

	chatID := peerToChatID(msg.GetPeerID())
	if chatID == 0 {
		c.logger.Debug().Int("message_id", msg.ID).Msg("could not extract chat ID from message")
		return nil
	}

	handler := c.eventHandler()
	if handler == nil {
		return nil
	}

	handler.HandleEvent(ctx, domain.InboundEvent{
		Owner:     c.phoneNumber,
		ChatID:    chatID,
		MessageID: msg.ID,
		Text:      msg.Message,
		Edit:      edit,
		At:        time.Unix(int64(msg.Date), 0),
	})

	return nil
}

// Send forwards text to a destination chat under this account's identity.
// Flood waits are honored up to maxSendFloodWait; transient errors are
// retried with exponential backoff up to the configured attempt budget,
// then the message is dropped and reported (at-most-once delivery).
func (c *MTProtoClient) Send(ctx context.Context, destination int64, text string) error {
	c.mu.RLock()
	if !c.connected || c.api == nil {
		c.mu.RUnlock()
		return domain.ErrNotConnected
	}
	api := c.api
	c.mu.RUnlock()

	peer, err := c.peers.InputPeer(destination)
	if err != nil {
		return fmt.Errorf("resolve destination %d: %w", destination, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.sendRetries; attempt++ {
		// Apply rate limiting
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait cancelled: %w", err)
		}

		_, err := api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  text,
			RandomID: rand.Int63(),
		})
		if err == nil {
			return nil
		}
		lastErr = err

		var floodWait *tgerr.Error
		if errors.As(err, &floodWait) && floodWait.Code == 420 {
			waitDuration := time.Duration(floodWait.Argument) * time.Second
			if waitDuration > maxSendFloodWait {
				c.logger.Warn().
					Int64("destination", destination).
					Dur("wait_duration", waitDuration).
					Msg("flood wait exceeds send budget, dropping message")
				return fmt.Errorf("%w: flood wait %s", domain.ErrFloodWait, waitDuration)
			}

			c.logger.Warn().
				Int("attempt", attempt+1).
				Dur("wait_duration", waitDuration).
				Msg("flood wait on send, waiting before retry")

			select {
			case <-time.After(waitDuration):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if isNonRetryableSendError(err) {
			c.logger.Error().Err(err).Int64("destination", destination).Msg("non-retryable send error")
			return fmt.Errorf("%w: %s", domain.ErrSendFailed, err)
		}

		delay := sendBackoffBase * (1 << attempt) // 1s, 2s, 4s...
		if delay > sendBackoffCap {
			delay = sendBackoffCap
		}

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int64("destination", destination).
			Dur("retry_delay", delay).
			Msg("send failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d attempts: %s", domain.ErrSendFailed, c.sendRetries, lastErr)
}

// isNonRetryableSendError reports permission failures that no amount of
// retrying will fix
func isNonRetryableSendError(err error) bool {
	nonRetryable := []string{
		"CHAT_WRITE_FORBIDDEN",
		"CHANNEL_PRIVATE",
		"USER_BANNED_IN_CHANNEL",
		"PEER_ID_INVALID",
		"INPUT_USER_DEACTIVATED",
	}

	for _, code := range nonRetryable {
		if tgerr.Is(err, code) {
			return true
		}
	}
	return false
}

// Disconnect disconnects from Telegram with graceful shutdown. Multiple
// calls are safe and return nil if already disconnected. Safe for
// concurrent use.
func (c *MTProtoClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.disconnecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("disconnect already in progress")
		return nil
	}

	if !c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already disconnected")
		return nil
	}

	c.logger.Info().Msg("disconnecting from Telegram")

	c.disconnecting = true
	cancelFunc := c.cancelFunc
	runDone := c.runDone
	c.mu.Unlock()

	// Cancel the client context to stop the run loop
	if cancelFunc != nil {
		cancelFunc()

		// Wait for client.Run() goroutine to actually finish
		if runDone != nil {
			select {
			case <-runDone:
				c.logger.Debug().Msg("client stopped gracefully")
			case <-ctx.Done():
				c.logger.Warn().Msg("disconnect timeout reached while waiting for client shutdown")
				// Still clean up state below
			}
		}
	}

	c.mu.Lock()
	c.client = nil
	c.api = nil
	c.connected = false
	c.cancelFunc = nil
	c.runDone = nil
	c.disconnecting = false
	c.mu.Unlock()

	c.logger.Info().Msg("successfully disconnected from Telegram")
	return nil
}

// IsConnected checks if client is connected to Telegram
func (c *MTProtoClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Ensure MTProtoClient implements domain.AccountClient interface
var _ domain.AccountClient = (*MTProtoClient)(nil)
