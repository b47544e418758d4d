package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/usecase"
	"github.com/telefoot/relay/internal/utils"
)

// linkTimeout bounds one complete /connect login, prompts included
const linkTimeout = 5 * time.Minute

// SessionSupervisor is the part of the session supervisor the bot drives
type SessionSupervisor interface {
	Link(ctx context.Context, phone string, code domain.CodeProvider, password domain.PasswordProvider) error
	Unlink(ctx context.Context, phone string) error
	RestartAll(ctx context.Context) (*domain.RestoreReport, error)
	ActiveConnections() int
	ConnectedPhones() []string
}

// Handlers contains Telegram command handlers
type Handlers struct {
	license    *usecase.LicenseUseCase
	rules      domain.RuleRepository
	supervisor SessionSupervisor
	heartbeat  domain.HeartbeatSource
	adminID    int64
	links      *linkFlow
	logger     zerolog.Logger
}

// NewHandlers creates the bot command handlers
func NewHandlers(
	license *usecase.LicenseUseCase,
	rules domain.RuleRepository,
	supervisor SessionSupervisor,
	heartbeat domain.HeartbeatSource,
	adminID int64,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		license:    license,
		rules:      rules,
		supervisor: supervisor,
		heartbeat:  heartbeat,
		adminID:    adminID,
		links:      newLinkFlow(),
		logger:     logger.With().Str("component", "bot_handlers").Logger(),
	}
}

// HandleStart handles /start command
func (h *Handlers) HandleStart(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	h.logCommand(userID, "/start", "processing")

	user, err := h.license.Register(ctx, userID, update.Message.From.Username, update.Message.From.FirstName)
	if err != nil {
		h.logError(userID, "/start", err)
		h.sendResponse(ctx, bot, chatID, "❌ Une erreur est survenue, réessayez plus tard.")
		return
	}

	if user.IsAuthorized(time.Now()) {
		h.sendResponse(ctx, bot, chatID, fmt.Sprintf(
			"👋 Bienvenue ! Votre abonnement (%s) est actif. Tapez /help pour la liste des commandes.",
			user.Plan))
	} else {
		h.sendResponse(ctx, bot, chatID,
			"⏳ Votre demande d'accès a été enregistrée. Un administrateur doit activer votre abonnement.")
		h.notifyAdmin(ctx, bot, fmt.Sprintf(
			"🆕 Nouvelle demande d'accès : %s (id %d). Utilisez /activer %d <essai|semaine|mois>.",
			update.Message.From.FirstName, userID, userID))
	}

	h.logCommand(userID, "/start", "success")
}

// HandleHelp handles /help command
func (h *Handlers) HandleHelp(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	help := strings.Join([]string{
		"📖 Commandes disponibles :",
		"/start - enregistrement",
		"/connect <téléphone> - lier un compte Telegram",
		"/disconnect <téléphone> - délier un compte",
		"/redirection on <téléphone> - lister les redirections",
		"/add_redirection <nom> <sources> <destinations> on <téléphone>",
		"/remove_redirection <nom> on <téléphone>",
		"/toggle_redirection <nom> on <téléphone>",
		"/status - état du service",
		"",
		"Les sources et destinations sont des identifiants de chat séparés par des virgules.",
	}, "\n")

	h.sendResponse(ctx, bot, chatID, help)
}

// HandleStatus handles /status command
func (h *Handlers) HandleStatus(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/status") {
		return
	}

	activeRules, err := h.rules.CountActive(ctx)
	if err != nil {
		h.logError(userID, "/status", err)
	}

	running := "🟢 en marche"
	if !h.heartbeat.Running() {
		running = "🔴 arrêté"
	}

	status := fmt.Sprintf(
		"📊 État du service : %s\nDernier battement : %s\nSessions connectées : %d\nRedirections actives : %d",
		running,
		h.heartbeat.LastHeartbeat().Format(time.RFC3339),
		h.supervisor.ActiveConnections(),
		activeRules,
	)

	if userID == h.adminID {
		userCount, err := h.license.Count(ctx)
		if err == nil {
			status += fmt.Sprintf("\nUtilisateurs enregistrés : %d", userCount)
		}
		if phones := h.supervisor.ConnectedPhones(); len(phones) > 0 {
			status += "\nComptes : " + strings.Join(phones, ", ")
		}
	}

	h.sendResponse(ctx, bot, chatID, status)
	h.logCommand(userID, "/status", "success")
}

// HandleActivate handles the admin-only /activer command
func (h *Handlers) HandleActivate(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if userID != h.adminID {
		h.sendResponse(ctx, bot, chatID, "⛔ Accès refusé.")
		h.logCommand(userID, "/activer", "denied")
		return
	}

	args := commandArgs(update.Message.Text)
	if len(args) != 2 {
		h.sendResponse(ctx, bot, chatID, "Usage : /activer <user_id> <essai|semaine|mois>")
		return
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.sendResponse(ctx, bot, chatID, "Usage : /activer <user_id> <essai|semaine|mois>")
		return
	}

	user, err := h.license.Activate(ctx, targetID, args[1])
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPlan) {
			h.sendResponse(ctx, bot, chatID, "❌ Plan inconnu. Plans valides : essai, semaine, mois.")
			return
		}
		h.logError(userID, "/activer", err)
		h.sendResponse(ctx, bot, chatID, "❌ Échec de l'activation.")
		return
	}

	h.sendResponse(ctx, bot, chatID, fmt.Sprintf(
		"✅ Abonnement %s activé pour %d, expire le %s.",
		user.Plan, targetID, user.ExpiresAt.Format("02/01/2006 15:04")))

	// Best effort, the user may never have opened the bot
	_, _ = bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: targetID,
		Text: fmt.Sprintf("🎉 Votre abonnement %s est activé jusqu'au %s. Tapez /help pour commencer.",
			user.Plan, user.ExpiresAt.Format("02/01/2006 15:04")),
	})

	h.logCommand(userID, "/activer", "success")
}

// HandleConnect handles /connect and starts the interactive login flow
func (h *Handlers) HandleConnect(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/connect") {
		return
	}

	args := commandArgs(update.Message.Text)
	if len(args) != 1 {
		h.sendResponse(ctx, bot, chatID, "Usage : /connect <téléphone au format +33612345678>")
		return
	}
	phone := args[0]

	link, ok := h.links.begin(userID, phone)
	if !ok {
		h.sendResponse(ctx, bot, chatID, "⏳ Une connexion est déjà en cours. Répondez au message précédent.")
		return
	}

	h.logCommand(userID, "/connect", "started")
	h.sendResponse(ctx, bot, chatID, fmt.Sprintf(
		"📡 Connexion du compte %s en cours...", utils.MaskPhoneNumber(phone)))

	provider := &interactiveProvider{
		link: link,
		prompt: func(ctx context.Context, text string) {
			h.sendResponse(ctx, bot, chatID, text)
		},
	}

	// The MTProto login blocks on the code prompt, so it runs off the
	// update goroutine and reports back when done
	go func() {
		defer h.links.finish(userID)

		linkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), linkTimeout)
		defer cancel()

		if err := h.supervisor.Link(linkCtx, phone, provider, provider); err != nil {
			h.logError(userID, "/connect", err)
			switch {
			case errors.Is(err, domain.ErrSessionAlreadyLive):
				h.sendResponse(linkCtx, bot, chatID, "ℹ️ Ce compte est déjà connecté.")
			case errors.Is(err, domain.ErrAuthenticationFailed):
				h.sendResponse(linkCtx, bot, chatID, "❌ Authentification refusée par Telegram. Vérifiez le numéro et réessayez.")
			default:
				h.sendResponse(linkCtx, bot, chatID, "❌ La connexion du compte a échoué. Réessayez plus tard.")
			}
			return
		}

		h.logCommand(userID, "/connect", "success")
		h.sendResponse(linkCtx, bot, chatID, "✅ Compte connecté ! Vous pouvez maintenant créer des redirections.")
	}()
}

// HandleDisconnect handles /disconnect
func (h *Handlers) HandleDisconnect(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/disconnect") {
		return
	}

	args := commandArgs(update.Message.Text)
	if len(args) != 1 {
		h.sendResponse(ctx, bot, chatID, "Usage : /disconnect <téléphone>")
		return
	}

	if err := h.supervisor.Unlink(ctx, args[0]); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			h.sendResponse(ctx, bot, chatID, "❌ Aucun compte connecté avec ce numéro.")
			return
		}
		h.logError(userID, "/disconnect", err)
		h.sendResponse(ctx, bot, chatID, "❌ Échec de la déconnexion.")
		return
	}

	h.sendResponse(ctx, bot, chatID, "✅ Compte déconnecté et session supprimée.")
	h.logCommand(userID, "/disconnect", "success")
}

// HandleRedirections handles /redirection (listing)
func (h *Handlers) HandleRedirections(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/redirection") {
		return
	}

	_, phone, err := splitOwner(commandArgs(update.Message.Text))
	if err != nil {
		h.sendResponse(ctx, bot, chatID, "Usage : /redirection on <téléphone>")
		return
	}

	rules, err := h.rules.GetByOwner(ctx, phone)
	if err != nil {
		h.logError(userID, "/redirection", err)
		h.sendResponse(ctx, bot, chatID, "❌ Impossible de lister les redirections.")
		return
	}

	h.sendResponse(ctx, bot, chatID, formatRules(phone, rules))
	h.logCommand(userID, "/redirection", "success")
}

// HandleAddRedirection handles /add_redirection
func (h *Handlers) HandleAddRedirection(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/add_redirection") {
		return
	}

	usage := "Usage : /add_redirection <nom> <sources> <destinations> on <téléphone>\nExemple : /add_redirection foot 100,101 200 on +33612345678"

	rest, phone, err := splitOwner(commandArgs(update.Message.Text))
	if err != nil || len(rest) != 3 {
		h.sendResponse(ctx, bot, chatID, usage)
		return
	}

	sources, err := parseIDList(rest[1])
	if err != nil {
		h.sendResponse(ctx, bot, chatID, usage)
		return
	}
	destinations, err := parseIDList(rest[2])
	if err != nil {
		h.sendResponse(ctx, bot, chatID, usage)
		return
	}

	rule := &domain.Rule{
		ID:           rest[0],
		Owner:        phone,
		Sources:      sources,
		Destinations: destinations,
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := h.rules.Upsert(ctx, rule); err != nil {
		if errors.Is(err, domain.ErrSelfRedirection) {
			h.sendResponse(ctx, bot, chatID, "❌ Un chat ne peut pas être à la fois source et destination.")
			return
		}
		h.logError(userID, "/add_redirection", err)
		h.sendResponse(ctx, bot, chatID, "❌ Échec de l'enregistrement de la redirection.")
		return
	}

	h.sendResponse(ctx, bot, chatID, fmt.Sprintf(
		"✅ Redirection « %s » enregistrée : %v → %v", rule.ID, sources, destinations))
	h.logCommand(userID, "/add_redirection", "success")
}

// HandleRemoveRedirection handles /remove_redirection
func (h *Handlers) HandleRemoveRedirection(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/remove_redirection") {
		return
	}

	rest, phone, err := splitOwner(commandArgs(update.Message.Text))
	if err != nil || len(rest) != 1 {
		h.sendResponse(ctx, bot, chatID, "Usage : /remove_redirection <nom> on <téléphone>")
		return
	}

	if err := h.rules.Remove(ctx, phone, rest[0]); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			h.sendResponse(ctx, bot, chatID, "❌ Redirection introuvable.")
			return
		}
		h.logError(userID, "/remove_redirection", err)
		h.sendResponse(ctx, bot, chatID, "❌ Échec de la suppression.")
		return
	}

	h.sendResponse(ctx, bot, chatID, fmt.Sprintf("🗑 Redirection « %s » supprimée.", rest[0]))
	h.logCommand(userID, "/remove_redirection", "success")
}

// HandleToggleRedirection handles /toggle_redirection
func (h *Handlers) HandleToggleRedirection(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !h.authorize(ctx, bot, userID, chatID, "/toggle_redirection") {
		return
	}

	rest, phone, err := splitOwner(commandArgs(update.Message.Text))
	if err != nil || len(rest) != 1 {
		h.sendResponse(ctx, bot, chatID, "Usage : /toggle_redirection <nom> on <téléphone>")
		return
	}

	rules, err := h.rules.GetByOwner(ctx, phone)
	if err != nil {
		h.logError(userID, "/toggle_redirection", err)
		h.sendResponse(ctx, bot, chatID, "❌ Échec de la bascule.")
		return
	}

	for i := range rules {
		if rules[i].ID != rest[0] {
			continue
		}

		newState := !rules[i].Active
		if err := h.rules.SetActive(ctx, phone, rest[0], newState); err != nil {
			h.logError(userID, "/toggle_redirection", err)
			h.sendResponse(ctx, bot, chatID, "❌ Échec de la bascule.")
			return
		}

		state := "⏸ désactivée"
		if newState {
			state = "▶️ activée"
		}
		h.sendResponse(ctx, bot, chatID, fmt.Sprintf("Redirection « %s » %s.", rest[0], state))
		h.logCommand(userID, "/toggle_redirection", "success")
		return
	}

	h.sendResponse(ctx, bot, chatID, "❌ Redirection introuvable.")
}

// HandleReactivate handles the admin-only /reactiver command. The restart
// runs in the background; the bot acknowledges right away.
func (h *Handlers) HandleReactivate(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if userID != h.adminID {
		h.sendResponse(ctx, bot, chatID, "⛔ Accès refusé.")
		h.logCommand(userID, "/reactiver", "denied")
		return
	}

	h.sendResponse(ctx, bot, chatID, "🔄 Redémarrage des connexions en cours...")
	h.logCommand(userID, "/reactiver", "started")

	go func() {
		restartCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()

		report, err := h.supervisor.RestartAll(restartCtx)
		if err != nil {
			h.logError(userID, "/reactiver", err)
			h.sendResponse(restartCtx, bot, chatID, "❌ Le redémarrage a échoué.")
			return
		}

		h.sendResponse(restartCtx, bot, chatID, fmt.Sprintf(
			"✅ Redémarrage terminé : %d/%d sessions restaurées.",
			report.RestoredSessions, report.TotalSessions))
	}()
}

// HandleDefault routes free text into a pending login flow, otherwise
// points the user at /help
func (h *Handlers) HandleDefault(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	if h.links.submit(userID, strings.TrimSpace(update.Message.Text)) {
		return
	}

	h.sendResponse(ctx, bot, update.Message.Chat.ID,
		"🤖 Commande inconnue. Tapez /help pour la liste des commandes.")
}

// authorize checks the caller's license, admin included. Sends the fixed
// denial message and returns false when access is refused.
func (h *Handlers) authorize(ctx context.Context, bot *tgbot.Bot, userID, chatID int64, command string) bool {
	if userID == h.adminID {
		return true
	}

	ok, err := h.license.Authorize(ctx, userID)
	if err != nil {
		h.logError(userID, command, err)
		h.sendResponse(ctx, bot, chatID, "❌ Une erreur est survenue, réessayez plus tard.")
		return false
	}
	if !ok {
		h.sendResponse(ctx, bot, chatID, "⛔ Accès refusé. Votre abonnement n'est pas actif. Tapez /start pour faire une demande.")
		h.logCommand(userID, command, "denied")
		return false
	}
	return true
}

func formatRules(phone string, rules []domain.Rule) string {
	if len(rules) == 0 {
		return "📋 Aucune redirection configurée pour ce compte."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Redirections de %s :\n", utils.MaskPhoneNumber(phone))
	for _, rule := range rules {
		state := "⏸"
		if rule.Active {
			state = "▶️"
		}
		fmt.Fprintf(&b, "%s %s : %v → %v\n", state, rule.ID, rule.Sources, rule.Destinations)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handlers) notifyAdmin(ctx context.Context, bot *tgbot.Bot, text string) {
	if h.adminID == 0 {
		return
	}
	if _, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: h.adminID,
		Text:   text,
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to notify admin")
	}
}

func (h *Handlers) sendResponse(ctx context.Context, bot *tgbot.Bot, chatID int64, text string) {
	if _, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		h.logger.Error().Int64("chat_id", chatID).Err(err).Msg("Failed to send Telegram response")
	}
}

// logCommand logs processed commands
func (h *Handlers) logCommand(userID int64, command, result string) {
	h.logger.Info().Int64("user_id", userID).Str("command", command).Str("result", result).Msg("Telegram command processed")
}

// logError logs command errors
func (h *Handlers) logError(userID int64, command string, err error) {
	h.logger.Error().Int64("user_id", userID).Str("command", command).Err(err).Msg("Telegram command failed")
}
