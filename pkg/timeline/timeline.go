// Package timeline keeps a client-side ordered log of one conversation,
// reconciled from a bulk history load plus the live event stream. It is
// the reducer a consuming client (bot, TUI, test harness) runs over
// incoming frames: appends for new messages, in-place updates for
// mutations, and never a reorder.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/pairlinkhq/pairlink/internal/models"
)

// Events that append a message to the log. Everything else referencing a
// message id updates in place.
const (
	EvReceiveMessage = "receiveMessage"
	EvMessageSent    = "messageSent"
)

type Timeline struct {
	mu       sync.Mutex
	messages []*models.Message
	index    map[string]int // message id -> slice position
}

func New() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// LoadHistory replaces the log with a bulk fetch (expected ascending by
// creation time, as the history endpoint returns it).
func (t *Timeline) LoadHistory(msgs []*models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = make([]*models.Message, 0, len(msgs))
	t.index = make(map[string]int, len(msgs))
	for _, msg := range msgs {
		if _, ok := t.index[msg.ID]; ok {
			continue
		}
		t.index[msg.ID] = len(t.messages)
		t.messages = append(t.messages, msg)
	}
}

// Apply reduces one server event into the log. It reports whether the
// event was applied; false means the referenced message is unknown here
// (different conversation, or a gap; the caller should re-fetch history
// rather than fabricate an entry).
//
// Appends are deduplicated by id, so a client that never inserts
// optimistically cannot end up with duplicates; a client that does can
// reconcile by replacing its provisional entry when the echo arrives.
func (t *Timeline) Apply(event string, msg *models.Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, known := t.index[msg.ID]

	switch event {
	case EvReceiveMessage, EvMessageSent:
		if known {
			t.messages[pos] = msg
			return true
		}
		t.index[msg.ID] = len(t.messages)
		t.messages = append(t.messages, msg)
		return true
	default:
		if !known {
			return false
		}
		t.messages[pos] = msg
		return true
	}
}

// Messages returns a snapshot of the log in order.
func (t *Timeline) Messages() []*models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Get returns the message with the given id, if present.
func (t *Timeline) Get(id string) (*models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.messages[pos], true
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// ReadMarker decides which rendered messages are due a read receipt and
// batches the markAsRead emissions behind a debounce so rapid scrolling
// does not flood the server.
type ReadMarker struct {
	mu       sync.Mutex
	selfID   string
	enabled  bool
	debounce time.Duration
	pending  map[string]struct{}
	sent     map[string]struct{}
	timer    *time.Timer
	flush    func(messageIDs []string)
}

// NewReadMarker builds a marker for the given viewer. flush is called with
// the batched message ids after the debounce window closes.
func NewReadMarker(selfID string, enabled bool, debounce time.Duration, flush func(messageIDs []string)) *ReadMarker {
	return &ReadMarker{
		selfID:   selfID,
		enabled:  enabled,
		debounce: debounce,
		pending:  make(map[string]struct{}),
		sent:     make(map[string]struct{}),
		flush:    flush,
	}
}

// Observe is called when a message is rendered in the viewport. A message
// is eligible when read receipts are enabled, the viewer is not its
// sender, and it is not already read.
func (r *ReadMarker) Observe(msg *models.Message) {
	if msg == nil || !r.enabled || msg.SenderID == r.selfID || msg.Status.Read {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.sent[msg.ID]; done {
		return
	}
	r.pending[msg.ID] = struct{}{}

	if r.timer == nil {
		r.timer = time.AfterFunc(r.debounce, r.fire)
	} else {
		r.timer.Reset(r.debounce)
	}
}

// Flush emits everything pending immediately.
func (r *ReadMarker) Flush() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
	r.fire()
}

func (r *ReadMarker) fire() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
		r.sent[id] = struct{}{}
	}
	r.pending = make(map[string]struct{})
	r.mu.Unlock()

	sort.Strings(ids)
	r.flush(ids)
}
