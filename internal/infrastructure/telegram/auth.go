package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// authenticateWithRetry performs authentication with exponential backoff
// for transient errors and explicit handling of flood waits
func (c *MTProtoClient) authenticateWithRetry(ctx context.Context, maxRetries int) error {
	var lastErr error
	baseDelay := 1 * time.Second

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.performAuthentication(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		// Non-retryable errors fail immediately
		if isNonRetryableAuthError(err) {
			c.logger.Error().Err(err).Msg("non-retryable authentication error")
			return fmt.Errorf("authentication failed with non-retryable error: %w", err)
		}

		// Honor flood waits with the wait time the server names
		var floodWait *tgerr.Error
		if errors.As(err, &floodWait) && floodWait.Code == 420 {
			waitDuration := time.Duration(floodWait.Argument) * time.Second
			c.logger.Warn().
				Int("attempt", attempt+1).
				Dur("wait_duration", waitDuration).
				Msg("flood wait detected, waiting before retry")

			select {
			case <-time.After(waitDuration):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Invalid code: let the user try again within the attempt budget
		if tgerr.Is(err, "PHONE_CODE_INVALID") {
			c.logger.Warn().Int("attempt", attempt+1).Msg("invalid confirmation code provided")
			if attempt < maxRetries-1 {
				continue
			}
			return fmt.Errorf("authentication failed after %d attempts: invalid confirmation code", maxRetries)
		}

		delay := baseDelay * (1 << attempt) // 1s, 2s, 4s...
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_delay", delay).
			Msg("authentication failed, retrying")

		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("authentication failed after %d attempts: %w", maxRetries, lastErr)
}

// isNonRetryableAuthError checks if an error is non-retryable and should
// be surfaced to the linking user immediately
func isNonRetryableAuthError(err error) bool {
	nonRetryableErrors := []string{
		"PHONE_NUMBER_BANNED",
		"PHONE_NUMBER_INVALID",
		"API_ID_INVALID",
		"API_ID_PUBLISHED_FLOOD",
		"AUTH_TOKEN_INVALID",
		"PASSWORD_HASH_INVALID",
	}

	for _, code := range nonRetryableErrors {
		if tgerr.Is(err, code) {
			return true
		}
	}

	return false
}

// performAuthentication performs a single authentication attempt using the
// injected code and password providers (fed by the bot linking flow)
func (c *MTProtoClient) performAuthentication(ctx context.Context) error {
	flow := auth.NewFlow(
		auth.Constant(
			c.phoneNumber,
			"",
			auth.CodeAuthenticatorFunc(func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
				c.logger.Info().Msg("confirmation code has been sent")
				return c.codeProvider.GetCode(ctx)
			}),
		),
		auth.SendCodeOptions{},
	)

	err := c.client.Auth().IfNecessary(ctx, flow)
	if err != nil {
		// Check if 2FA is required
		if tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
			if c.passwordProvider == nil {
				return fmt.Errorf("2FA is enabled but no password provider is available")
			}

			c.logger.Info().Msg("2FA is enabled, requesting password")
			password, err := c.passwordProvider.GetPassword(ctx)
			if err != nil {
				return fmt.Errorf("failed to get 2FA password: %w", err)
			}

			_, err = c.client.Auth().Password(ctx, password)
			if err != nil {
				c.logger.Error().Err(err).Msg("2FA authentication failed")
				return fmt.Errorf("2FA authentication failed: %w", err)
			}

			c.logger.Info().Msg("2FA authentication successful")
			return nil
		}
		return err
	}

	c.logger.Info().Msg("authentication successful")
	return nil
}
