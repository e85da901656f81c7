package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlinkhq/pairlink/internal/db"
	"github.com/pairlinkhq/pairlink/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := db.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	conn := database.GetConn()
	_, err = conn.Exec(`
		INSERT INTO users (id, username, password_hash, display_name) VALUES
			('alice-id', 'alice', 'x', 'Alice'),
			('bob-id', 'bob', 'x', NULL),
			('carol-id', 'carol', 'x', 'Carol')
	`)
	require.NoError(t, err)

	return New(conn)
}

func TestCreateMessage(t *testing.T) {
	st := newTestStore(t)

	msg, err := st.Create("alice-id", "bob-id", "hello @bob", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice-id", msg.SenderID)
	assert.Equal(t, "bob-id", msg.RecipientID)
	assert.Equal(t, "hello @bob", msg.Content)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, []string{"bob"}, msg.Mentions)
	assert.True(t, msg.Status.Sent)
	assert.False(t, msg.Status.Delivered)
	assert.False(t, msg.Status.Read)
	assert.Empty(t, msg.Status.ReadBy)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestCreateWithAttachment(t *testing.T) {
	st := newTestStore(t)

	att := &models.Attachment{URL: "/api/files/pic.png", Filename: "pic.png", FileType: "image", Size: 512}
	msg, err := st.Create("alice-id", "bob-id", "look", att)
	require.NoError(t, err)

	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "/api/files/pic.png", msg.Attachment.URL)
	assert.Equal(t, "image", msg.Attachment.FileType)
	assert.EqualValues(t, 512, msg.Attachment.Size)
}

func TestSenderNameFallsBackToUsername(t *testing.T) {
	st := newTestStore(t)

	msg, err := st.Create("bob-id", "alice-id", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "bob", msg.SenderName)
}

func TestMarkRead(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	updated, err := st.MarkRead(msg.ID, "bob-id")
	require.NoError(t, err)
	assert.True(t, updated.Status.Read)
	assert.True(t, updated.Status.Delivered, "read implies delivered")
	assert.Equal(t, []string{"bob-id"}, updated.Status.ReadBy)
}

func TestMarkReadOnlyRecipient(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.MarkRead(msg.ID, "alice-id")
	assert.ErrorIs(t, err, ErrNotRecipient)

	_, err = st.MarkRead(msg.ID, "carol-id")
	assert.ErrorIs(t, err, ErrNotRecipient)
}

func TestMarkDelivered(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	updated, err := st.MarkDelivered(msg.ID)
	require.NoError(t, err)
	assert.True(t, updated.Status.Delivered)
	assert.False(t, updated.Status.Read)

	_, err = st.MarkDelivered("missing-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditMessage(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "helo", nil)
	require.NoError(t, err)

	updated, err := st.Edit(msg.ID, "alice-id", "hello @carol")
	require.NoError(t, err)
	assert.Equal(t, "hello @carol", updated.Content)
	assert.True(t, updated.IsEdited)
	assert.Equal(t, []string{"carol"}, updated.Mentions)
}

func TestEditOnlySender(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.Edit(msg.ID, "bob-id", "tampered")
	assert.ErrorIs(t, err, ErrNotSender)

	got, err := st.Get(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
}

func TestEditDeletedMessage(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.SoftDelete(msg.ID, "alice-id")
	require.NoError(t, err)

	_, err = st.Edit(msg.ID, "alice-id", "resurrected")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDelete(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "secret @bob", nil)
	require.NoError(t, err)

	updated, err := st.SoftDelete(msg.ID, "alice-id")
	require.NoError(t, err)
	assert.True(t, updated.IsDeleted)
	assert.Equal(t, models.DeletedPlaceholder, updated.Content)
	assert.Empty(t, updated.Mentions, "mentions are cleared with the content")
}

func TestSoftDeleteOnlySender(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.SoftDelete(msg.ID, "bob-id")
	assert.ErrorIs(t, err, ErrNotSender)
}

func TestSetPinned(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	// Either participant may pin.
	updated, err := st.SetPinned(msg.ID, "bob-id", true)
	require.NoError(t, err)
	assert.True(t, updated.IsPinned)

	updated, err = st.SetPinned(msg.ID, "alice-id", false)
	require.NoError(t, err)
	assert.False(t, updated.IsPinned)

	_, err = st.SetPinned(msg.ID, "carol-id", true)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestReply(t *testing.T) {
	st := newTestStore(t)
	orig, err := st.Create("alice-id", "bob-id", "original text", nil)
	require.NoError(t, err)

	reply, err := st.Reply(orig.ID, "bob-id", "answering")
	require.NoError(t, err)

	assert.Equal(t, "bob-id", reply.SenderID)
	assert.Equal(t, "alice-id", reply.RecipientID, "reply goes back to the other participant")
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, orig.ID, reply.ReplyTo.ID)
	assert.Equal(t, "original text", reply.ReplyTo.Content)
	assert.Equal(t, "Alice", reply.ReplyTo.SenderName)
}

func TestReplySnapshotSurvivesEdit(t *testing.T) {
	st := newTestStore(t)
	orig, err := st.Create("alice-id", "bob-id", "before edit", nil)
	require.NoError(t, err)

	reply, err := st.Reply(orig.ID, "bob-id", "answering")
	require.NoError(t, err)

	_, err = st.Edit(orig.ID, "alice-id", "after edit")
	require.NoError(t, err)

	got, err := st.Get(reply.ID)
	require.NoError(t, err)
	assert.Equal(t, "before edit", got.ReplyTo.Content)
}

func TestReplyOnlyParticipant(t *testing.T) {
	st := newTestStore(t)
	orig, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.Reply(orig.ID, "carol-id", "butting in")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestForward(t *testing.T) {
	st := newTestStore(t)
	att := &models.Attachment{URL: "/api/files/doc.pdf", Filename: "doc.pdf", FileType: "pdf", Size: 99}
	orig, err := st.Create("alice-id", "bob-id", "forward me", att)
	require.NoError(t, err)

	fwd, err := st.Forward(orig.ID, "bob-id", "carol-id")
	require.NoError(t, err)

	assert.NotEqual(t, orig.ID, fwd.ID)
	assert.Equal(t, "bob-id", fwd.SenderID)
	assert.Equal(t, "carol-id", fwd.RecipientID)
	assert.Equal(t, "forward me", fwd.Content)
	require.NotNil(t, fwd.ForwardedFrom)
	assert.Equal(t, "alice-id", fwd.ForwardedFrom.OriginalSender)
	assert.Equal(t, "Alice", fwd.ForwardedFrom.OriginalSenderName)
	require.NotNil(t, fwd.Attachment)
	assert.Equal(t, "doc.pdf", fwd.Attachment.Filename)
}

func TestForwardOnlyParticipant(t *testing.T) {
	st := newTestStore(t)
	orig, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.Forward(orig.ID, "carol-id", "alice-id")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestReactions(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	updated, err := st.AddReaction(msg.ID, "bob-id", "👍")
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)
	assert.Equal(t, 1, updated.Reactions[0].Count)

	// Same user, same emoji: idempotent.
	updated, err = st.AddReaction(msg.ID, "bob-id", "👍")
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)
	assert.Equal(t, 1, updated.Reactions[0].Count)

	// Second user on the same emoji groups.
	updated, err = st.AddReaction(msg.ID, "alice-id", "👍")
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)
	assert.Equal(t, 2, updated.Reactions[0].Count)
	assert.Equal(t, []string{"alice-id", "bob-id"}, updated.Reactions[0].Users)

	updated, err = st.RemoveReaction(msg.ID, "bob-id", "👍")
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)
	assert.Equal(t, []string{"alice-id"}, updated.Reactions[0].Users)

	// Removing a reaction that is not there is a no-op.
	updated, err = st.RemoveReaction(msg.ID, "carol-id", "👍")
	require.NoError(t, err)
	assert.Len(t, updated.Reactions, 1)
}

func TestReactionOnlyParticipant(t *testing.T) {
	st := newTestStore(t)
	msg, err := st.Create("alice-id", "bob-id", "hi", nil)
	require.NoError(t, err)

	_, err = st.AddReaction(msg.ID, "carol-id", "🎉")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestHistoryAscendingBothDirections(t *testing.T) {
	st := newTestStore(t)

	m1, err := st.Create("alice-id", "bob-id", "one", nil)
	require.NoError(t, err)
	m2, err := st.Create("bob-id", "alice-id", "two", nil)
	require.NoError(t, err)
	_, err = st.Create("alice-id", "carol-id", "other chat", nil)
	require.NoError(t, err)

	history, err := st.History("alice-id", "bob-id", 50, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, m1.ID, history[0].ID)
	assert.Equal(t, m2.ID, history[1].ID)
}

func TestFindOrCreateChat(t *testing.T) {
	st := newTestStore(t)

	chat, created, err := st.FindOrCreateChat("bob-id", "alice-id")
	require.NoError(t, err)
	assert.True(t, created)

	// Same pair in the other order resolves to the same chat.
	again, created, err := st.FindOrCreateChat("alice-id", "bob-id")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, chat.ID, again.ID)

	got, err := st.GetChat(chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice-id", "bob-id"}, got.Participants())
	assert.Equal(t, "bob-id", got.Other("alice-id"))

	_, err = st.GetChat("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingMessage(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"hello @bob", []string{"bob"}},
		{"@alice @bob @alice", []string{"alice", "bob"}},
		{"email me at x@yz", nil},
		{"no mentions here", nil},
		{"@ab too short", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractMentions(tt.content), "content: %q", tt.content)
	}
}
