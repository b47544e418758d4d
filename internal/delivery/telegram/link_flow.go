package telegram

import (
	"context"
	"errors"
	"sync"
	"time"
)

// linkStepTimeout bounds how long the login flow waits for the user to
// reply with a code or a password
const linkStepTimeout = 2 * time.Minute

var errLinkTimeout = errors.New("no reply received in time")

// pendingLink is one in-progress /connect conversation. Replies the user
// sends while the login runs are routed into the input channel.
type pendingLink struct {
	phone string
	input chan string
}

// linkFlow tracks pending account logins per bot user. One user runs at
// most one login at a time.
type linkFlow struct {
	mu      sync.Mutex
	pending map[int64]*pendingLink
}

func newLinkFlow() *linkFlow {
	return &linkFlow{
		pending: make(map[int64]*pendingLink),
	}
}

// begin registers a pending login for the user. Returns false when a login
// is already running.
func (f *linkFlow) begin(userID int64, phone string) (*pendingLink, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.pending[userID]; busy {
		return nil, false
	}
	link := &pendingLink{
		phone: phone,
		input: make(chan string, 1),
	}
	f.pending[userID] = link
	return link, true
}

// submit routes a free-text reply into the user's pending login. Returns
// false when no login is waiting.
func (f *linkFlow) submit(userID int64, text string) bool {
	f.mu.Lock()
	link, ok := f.pending[userID]
	f.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case link.input <- text:
	default:
		// Previous reply not consumed yet, drop the extra one
	}
	return true
}

// finish removes the user's pending login
func (f *linkFlow) finish(userID int64) {
	f.mu.Lock()
	delete(f.pending, userID)
	f.mu.Unlock()
}

// interactiveProvider feeds bot replies into the MTProto login flow. It
// implements both the code and the password provider contracts.
type interactiveProvider struct {
	link   *pendingLink
	prompt func(ctx context.Context, text string)
}

func (p *interactiveProvider) GetCode(ctx context.Context) (string, error) {
	p.prompt(ctx, "📲 Entrez le code de connexion reçu sur Telegram :")
	return p.await(ctx)
}

func (p *interactiveProvider) GetPassword(ctx context.Context) (string, error) {
	p.prompt(ctx, "🔐 Authentification à deux facteurs activée. Entrez votre mot de passe :")
	return p.await(ctx)
}

func (p *interactiveProvider) await(ctx context.Context) (string, error) {
	select {
	case text := <-p.link.input:
		return text, nil
	case <-time.After(linkStepTimeout):
		return "", errLinkTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
