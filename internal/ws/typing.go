package ws

import (
	"sync"
	"time"
)

// typingExpiry is how long a typing flag survives without a refresh.
const typingExpiry = 2 * time.Second

type typingKey struct {
	userID string
	chatID string
}

type typingEntry struct {
	timer  *time.Timer
	peerID string
}

// typingTracker owns the ephemeral typing flags server-side. A flag is
// cleared by stopTyping, by sending a message, by expiry of its timer, or
// by the typist disconnecting, so a vanished client cannot leave it stuck.
type typingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[typingKey]*typingEntry
	expired func(userID, chatID, peerID string)
}

func newTypingTracker(ttl time.Duration, expired func(userID, chatID, peerID string)) *typingTracker {
	if ttl <= 0 {
		ttl = typingExpiry
	}
	return &typingTracker{
		ttl:     ttl,
		entries: make(map[typingKey]*typingEntry),
		expired: expired,
	}
}

// Set arms (or re-arms) the expiry timer for (userID, chatID).
func (t *typingTracker) Set(userID, chatID, peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{userID: userID, chatID: chatID}
	if entry, ok := t.entries[key]; ok {
		entry.peerID = peerID
		entry.timer.Reset(t.ttl)
		return
	}

	entry := &typingEntry{peerID: peerID}
	entry.timer = time.AfterFunc(t.ttl, func() { t.fire(key) })
	t.entries[key] = entry
}

// Clear drops the flag for (userID, chatID) without firing the expiry
// callback. Returns the peer that was being notified, if any.
func (t *typingTracker) Clear(userID, chatID string) (peerID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{userID: userID, chatID: chatID}
	entry, found := t.entries[key]
	if !found {
		return "", false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return entry.peerID, true
}

type clearedTyping struct {
	ChatID string
	PeerID string
}

// ClearUser drops every flag held by userID (disconnect path) and returns
// the affected conversations so the hub can notify their peers.
func (t *typingTracker) ClearUser(userID string) []clearedTyping {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []clearedTyping
	for key, entry := range t.entries {
		if key.userID != userID {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		cleared = append(cleared, clearedTyping{ChatID: key.chatID, PeerID: entry.peerID})
	}
	return cleared
}

func (t *typingTracker) fire(key typingKey) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()

	if ok && t.expired != nil {
		t.expired(key.userID, key.chatID, entry.peerID)
	}
}
