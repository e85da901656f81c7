package timeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlinkhq/pairlink/internal/models"
)

func msg(id, senderID, content string) *models.Message {
	return &models.Message{
		ID:       id,
		SenderID: senderID,
		Content:  content,
		Status:   models.MessageStatus{Sent: true},
	}
}

func TestLoadHistoryDeduplicates(t *testing.T) {
	tl := New()
	tl.LoadHistory([]*models.Message{
		msg("m1", "alice", "one"),
		msg("m2", "bob", "two"),
		msg("m1", "alice", "one again"),
	})

	assert.Equal(t, 2, tl.Len())
	got, ok := tl.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "one", got.Content, "first occurrence wins")
}

func TestApplyAppendsNewMessages(t *testing.T) {
	tl := New()

	assert.True(t, tl.Apply(EvReceiveMessage, msg("m1", "alice", "hi")))
	assert.True(t, tl.Apply(EvMessageSent, msg("m2", "bob", "hey")))

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestApplyAppendEventDeduplicates(t *testing.T) {
	tl := New()

	tl.Apply(EvReceiveMessage, msg("m1", "alice", "hi"))
	// The server echo for the same id replaces in place, no duplicate.
	tl.Apply(EvMessageSent, msg("m1", "alice", "hi (echo)"))

	assert.Equal(t, 1, tl.Len())
	got, _ := tl.Get("m1")
	assert.Equal(t, "hi (echo)", got.Content)
}

func TestApplyUpdatesInPlace(t *testing.T) {
	tl := New()
	tl.Apply(EvReceiveMessage, msg("m1", "alice", "hi"))
	tl.Apply(EvReceiveMessage, msg("m2", "alice", "second"))

	edited := msg("m1", "alice", "hi, edited")
	edited.IsEdited = true
	assert.True(t, tl.Apply("editMessage", edited))

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID, "update must not reorder")
	assert.True(t, msgs[0].IsEdited)
}

func TestApplyUnknownMessage(t *testing.T) {
	tl := New()

	// A mutation for a message we never saw signals a gap; nothing is
	// fabricated.
	assert.False(t, tl.Apply("editMessage", msg("ghost", "alice", "boo")))
	assert.Equal(t, 0, tl.Len())

	assert.False(t, tl.Apply(EvReceiveMessage, nil))
	assert.False(t, tl.Apply(EvReceiveMessage, msg("", "alice", "no id")))
}

func TestMessagesReturnsSnapshot(t *testing.T) {
	tl := New()
	tl.Apply(EvReceiveMessage, msg("m1", "alice", "hi"))

	snapshot := tl.Messages()
	tl.Apply(EvReceiveMessage, msg("m2", "alice", "more"))

	assert.Len(t, snapshot, 1, "snapshot must not grow with the log")
}

func TestReadMarkerBatchesAndDebounces(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	flush := func(ids []string) {
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
	}

	rm := NewReadMarker("me", true, 30*time.Millisecond, flush)

	rm.Observe(msg("m1", "them", "a"))
	rm.Observe(msg("m2", "them", "b"))
	rm.Observe(msg("m3", "them", "c"))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1, "rapid observes collapse into one batch")
	assert.Equal(t, []string{"m1", "m2", "m3"}, batches[0])
}

func TestReadMarkerSkipsIneligible(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	flush := func(ids []string) {
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
	}

	rm := NewReadMarker("me", true, 10*time.Millisecond, flush)

	// Own message.
	rm.Observe(msg("m1", "me", "mine"))
	// Already read.
	read := msg("m2", "them", "seen")
	read.Status.Read = true
	rm.Observe(read)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, batches)
}

func TestReadMarkerDisabled(t *testing.T) {
	var mu sync.Mutex
	called := false
	flush := func(ids []string) {
		mu.Lock()
		called = true
		mu.Unlock()
	}

	rm := NewReadMarker("me", false, 10*time.Millisecond, flush)
	rm.Observe(msg("m1", "them", "a"))
	rm.Flush()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "disabled marker never emits")
}

func TestReadMarkerNoDuplicateEmissions(t *testing.T) {
	var mu sync.Mutex
	var all []string
	flush := func(ids []string) {
		mu.Lock()
		all = append(all, ids...)
		mu.Unlock()
	}

	rm := NewReadMarker("me", true, 10*time.Millisecond, flush)

	rm.Observe(msg("m1", "them", "a"))
	rm.Flush()

	// Re-rendering the same message must not re-emit it.
	rm.Observe(msg("m1", "them", "a"))
	rm.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1"}, all)
}

func TestReadMarkerFlushImmediate(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	flush := func(ids []string) {
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
	}

	rm := NewReadMarker("me", true, time.Minute, flush)
	rm.Observe(msg("m1", "them", "a"))
	rm.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"m1"}, batches[0])
}
