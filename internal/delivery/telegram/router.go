// Package telegram contains the admin bot delivery layer
package telegram

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/rs/zerolog"
)

// Bot wraps the Telegram bot driving the service
type Bot struct {
	bot    *tgbot.Bot
	logger zerolog.Logger
}

// NewBot creates the admin bot and registers all command handlers
func NewBot(token string, handlers *Handlers, logger zerolog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(handlers.HandleDefault),
	}

	bot, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	registerRoutes(bot, handlers, logger)

	logger.Info().Msg("Telegram bot created successfully")

	return &Bot{
		bot:    bot,
		logger: logger,
	}, nil
}

// registerRoutes registers all command handlers on the bot
func registerRoutes(bot *tgbot.Bot, handlers *Handlers, logger zerolog.Logger) {
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, handlers.HandleStart)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/help", tgbot.MatchTypeExact, handlers.HandleHelp)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/status", tgbot.MatchTypeExact, handlers.HandleStatus)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/activer", tgbot.MatchTypePrefix, handlers.HandleActivate)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/connect", tgbot.MatchTypePrefix, handlers.HandleConnect)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/disconnect", tgbot.MatchTypePrefix, handlers.HandleDisconnect)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/redirection", tgbot.MatchTypePrefix, handlers.HandleRedirections)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/add_redirection", tgbot.MatchTypePrefix, handlers.HandleAddRedirection)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/remove_redirection", tgbot.MatchTypePrefix, handlers.HandleRemoveRedirection)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/toggle_redirection", tgbot.MatchTypePrefix, handlers.HandleToggleRedirection)
	bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/reactiver", tgbot.MatchTypeExact, handlers.HandleReactivate)

	logger.Info().Msg("All Telegram command handlers registered successfully")
}

// Start starts the bot (blocking call)
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info().Msg("Starting Telegram bot...")
	b.bot.Start(ctx)
	b.logger.Info().Msg("Telegram bot stopped")
}
