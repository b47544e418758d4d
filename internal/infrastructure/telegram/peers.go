package telegram

import (
	"sync"

	"github.com/gotd/td/tg"

	"github.com/telefoot/relay/internal/domain"
)

// channelIDOffset converts between MTProto channel IDs and the -100…
// marked chat ID convention users paste into redirection commands.
const channelIDOffset = int64(1000000000000)

// peerCache remembers access hashes harvested from update entities so
// destinations can be resolved without extra resolve round-trips.
type peerCache struct {
	mu       sync.RWMutex
	channels map[int64]int64 // channel ID -> access hash
	users    map[int64]int64 // user ID -> access hash
}

func newPeerCache() *peerCache {
	return &peerCache{
		channels: make(map[int64]int64),
		users:    make(map[int64]int64),
	}
}

// Harvest records access hashes from the entities attached to an update
func (c *peerCache) Harvest(e tg.Entities) {
	if len(e.Channels) == 0 && len(e.Users) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, channel := range e.Channels {
		c.channels[id] = channel.AccessHash
	}
	for id, user := range e.Users {
		c.users[id] = user.AccessHash
	}
}

// InputPeer resolves a marked chat ID to an input peer
func (c *peerCache) InputPeer(chatID int64) (tg.InputPeerClass, error) {
	switch {
	case chatID <= -channelIDOffset:
		channelID := -chatID - channelIDOffset

		c.mu.RLock()
		hash, ok := c.channels[channelID]
		c.mu.RUnlock()
		if !ok {
			return nil, domain.ErrPeerNotFound
		}
		return &tg.InputPeerChannel{ChannelID: channelID, AccessHash: hash}, nil

	case chatID < 0:
		// Legacy group chats carry no access hash
		return &tg.InputPeerChat{ChatID: -chatID}, nil

	default:
		c.mu.RLock()
		hash, ok := c.users[chatID]
		c.mu.RUnlock()
		if !ok {
			return nil, domain.ErrPeerNotFound
		}
		return &tg.InputPeerUser{UserID: chatID, AccessHash: hash}, nil
	}
}

// peerToChatID converts an update peer to the marked chat ID convention
func peerToChatID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -channelIDOffset - p.ChannelID
	default:
		return 0
	}
}
