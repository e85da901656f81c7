// Package store is the persistence layer for messages, chats and reactions.
//
// Messages are stored with plain sender/recipient ids; display names are
// joined in at read time so protocol logic never depends on denormalized
// user fields.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pairlinkhq/pairlink/internal/models"
)

var (
	ErrNotFound       = errors.New("message not found")
	ErrNotSender      = errors.New("only the sender may do this")
	ErrNotRecipient   = errors.New("only the recipient may do this")
	ErrNotParticipant = errors.New("not a participant of this message")
)

var mentionRE = regexp.MustCompile(`@([a-zA-Z0-9_]{3,32})`)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ExtractMentions returns the unique @usernames referenced in content, in
// order of first appearance.
func ExtractMentions(content string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range mentionRE.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// UserExists checks if a user with the given id exists.
func (s *Store) UserExists(userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// Create persists a new outgoing message and returns it with its assigned
// id and timestamp. Status starts at sent.
func (s *Store) Create(senderID, recipientID, content string, att *models.Attachment) (*models.Message, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	mentions := ExtractMentions(content)

	var fileURL, fileName, fileType sql.NullString
	var fileSize sql.NullInt64
	if att != nil {
		fileURL = sql.NullString{String: att.URL, Valid: true}
		fileName = sql.NullString{String: att.Filename, Valid: true}
		fileType = sql.NullString{String: att.FileType, Valid: true}
		fileSize = sql.NullInt64{Int64: att.Size, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, sender_id, recipient_id, content, created_at, mentions, file_url, file_name, file_type, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, senderID, recipientID, content, now, marshalMentions(mentions), fileURL, fileName, fileType, fileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return s.Get(id)
}

// Reply persists a new message quoting originalID. The quoted content is a
// snapshot taken now; later edits of the original do not change it.
func (s *Store) Reply(originalID, senderID, content string) (*models.Message, error) {
	orig, err := s.Get(originalID)
	if err != nil {
		return nil, err
	}
	if orig.SenderID != senderID && orig.RecipientID != senderID {
		return nil, ErrNotParticipant
	}

	recipientID := orig.SenderID
	if recipientID == senderID {
		recipientID = orig.RecipientID
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	mentions := ExtractMentions(content)

	_, err = s.db.Exec(`
		INSERT INTO messages (id, sender_id, recipient_id, content, created_at, mentions,
			reply_to_id, reply_to_content, reply_to_sender_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, senderID, recipientID, content, now, marshalMentions(mentions),
		orig.ID, orig.Content, orig.SenderName)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply: %w", err)
	}

	return s.Get(id)
}

// Forward copies originalID to targetUserID as a fresh message carrying
// forwardedFrom provenance. Any participant of the original may forward it.
func (s *Store) Forward(originalID, forwarderID, targetUserID string) (*models.Message, error) {
	orig, err := s.Get(originalID)
	if err != nil {
		return nil, err
	}
	if orig.SenderID != forwarderID && orig.RecipientID != forwarderID {
		return nil, ErrNotParticipant
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	var fileURL, fileName, fileType sql.NullString
	var fileSize sql.NullInt64
	if orig.Attachment != nil {
		fileURL = sql.NullString{String: orig.Attachment.URL, Valid: true}
		fileName = sql.NullString{String: orig.Attachment.Filename, Valid: true}
		fileType = sql.NullString{String: orig.Attachment.FileType, Valid: true}
		fileSize = sql.NullInt64{Int64: orig.Attachment.Size, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO messages (id, sender_id, recipient_id, content, created_at,
			forwarded_from_sender, forwarded_from_sender_name, forwarded_from_at,
			file_url, file_name, file_type, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, forwarderID, targetUserID, orig.Content, now,
		orig.SenderID, orig.SenderName, orig.CreatedAt,
		fileURL, fileName, fileType, fileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to forward message: %w", err)
	}

	return s.Get(id)
}

// MarkRead marks the message read by readerID, who must be its recipient.
// Read implies delivered, so an unset delivered_at is filled in too.
func (s *Store) MarkRead(messageID, readerID string) (*models.Message, error) {
	msg, err := s.Get(messageID)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID != readerID {
		return nil, ErrNotRecipient
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		UPDATE messages
		SET read_at = COALESCE(read_at, ?), delivered_at = COALESCE(delivered_at, ?)
		WHERE id = ?
	`, now, now, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark read: %w", err)
	}

	return s.Get(messageID)
}

// MarkDelivered records that the recipient's side received the message.
func (s *Store) MarkDelivered(messageID string) (*models.Message, error) {
	res, err := s.db.Exec(`
		UPDATE messages SET delivered_at = COALESCE(delivered_at, ?) WHERE id = ?
	`, time.Now().UTC(), messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(messageID)
}

// Edit replaces the content of a message. Sender-only; deleted messages
// cannot be edited.
func (s *Store) Edit(messageID, editorID, newContent string) (*models.Message, error) {
	msg, err := s.Get(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, ErrNotSender
	}
	if msg.IsDeleted {
		return nil, ErrNotFound
	}

	_, err = s.db.Exec(`
		UPDATE messages SET content = ?, is_edited = 1, mentions = ? WHERE id = ?
	`, newContent, marshalMentions(ExtractMentions(newContent)), messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}

	return s.Get(messageID)
}

// SoftDelete tombstones the message content. Sender-only and irreversible:
// the original text is overwritten, not flagged.
func (s *Store) SoftDelete(messageID, deleterID string) (*models.Message, error) {
	msg, err := s.Get(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != deleterID {
		return nil, ErrNotSender
	}

	_, err = s.db.Exec(`
		UPDATE messages SET content = ?, is_deleted = 1, mentions = NULL WHERE id = ?
	`, models.DeletedPlaceholder, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}

	return s.Get(messageID)
}

// SetPinned toggles the pin flag. Any participant may pin or unpin.
func (s *Store) SetPinned(messageID, userID string, pinned bool) (*models.Message, error) {
	msg, err := s.Get(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID && msg.RecipientID != userID {
		return nil, ErrNotParticipant
	}

	flag := 0
	if pinned {
		flag = 1
	}
	if _, err := s.db.Exec("UPDATE messages SET is_pinned = ? WHERE id = ?", flag, messageID); err != nil {
		return nil, fmt.Errorf("failed to update pin: %w", err)
	}

	return s.Get(messageID)
}

// AddReaction records userID's emoji on the message. Idempotent: the same
// user reacting with the same emoji twice is one reaction.
func (s *Store) AddReaction(messageID, userID, emoji string) (*models.Message, error) {
	msg, err := s.Get(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID && msg.RecipientID != userID {
		return nil, ErrNotParticipant
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO reactions (message_id, user_id, emoji) VALUES (?, ?, ?)
	`, messageID, userID, emoji)
	if err != nil {
		return nil, fmt.Errorf("failed to add reaction: %w", err)
	}

	return s.Get(messageID)
}

// RemoveReaction removes userID's emoji from the message. Removing a
// reaction that is not there is a no-op.
func (s *Store) RemoveReaction(messageID, userID, emoji string) (*models.Message, error) {
	if _, err := s.Get(messageID); err != nil {
		return nil, err
	}

	_, err := s.db.Exec(`
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, userID, emoji)
	if err != nil {
		return nil, fmt.Errorf("failed to remove reaction: %w", err)
	}

	return s.Get(messageID)
}

const messageColumns = `
	m.id, m.sender_id, m.recipient_id, m.content, m.created_at,
	m.delivered_at, m.read_at, m.is_pinned, m.is_edited, m.is_deleted,
	m.reply_to_id, m.reply_to_content, m.reply_to_sender_name,
	m.forwarded_from_sender, m.forwarded_from_sender_name, m.forwarded_from_at,
	m.mentions, m.file_url, m.file_name, m.file_type, m.file_size,
	COALESCE(u.display_name, u.username, m.sender_id)
`

// Get loads a single message with its reactions.
func (s *Store) Get(messageID string) (*models.Message, error) {
	row := s.db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	msg.Reactions, err = s.reactions(messageID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns every message between the two users, ascending by
// creation time.
func (s *Store) History(userA, userB string, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE (m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?)
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT ? OFFSET ?
	`, userA, userB, userB, userA, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, msg := range messages {
		if msg.Reactions, err = s.reactions(msg.ID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// FindOrCreateChat returns the chat record for the unordered user pair,
// creating it if missing.
func (s *Store) FindOrCreateChat(userA, userB string) (*models.Chat, bool, error) {
	a, b := userA, userB
	if b < a {
		a, b = b, a
	}

	chat := &models.Chat{}
	err := s.db.QueryRow(`
		SELECT id, user_a, user_b, created_at FROM chats WHERE user_a = ? AND user_b = ?
	`, a, b).Scan(&chat.ID, &chat.UserA, &chat.UserB, &chat.CreatedAt)
	if err == nil {
		return chat, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to fetch chat: %w", err)
	}

	chat = &models.Chat{ID: uuid.NewString(), UserA: a, UserB: b, CreatedAt: time.Now().UTC()}
	if _, err := s.db.Exec(`
		INSERT INTO chats (id, user_a, user_b, created_at) VALUES (?, ?, ?, ?)
	`, chat.ID, chat.UserA, chat.UserB, chat.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, true, nil
}

// GetChat looks up a chat by id.
func (s *Store) GetChat(chatID string) (*models.Chat, error) {
	chat := &models.Chat{}
	err := s.db.QueryRow(`
		SELECT id, user_a, user_b, created_at FROM chats WHERE id = ?
	`, chatID).Scan(&chat.ID, &chat.UserA, &chat.UserB, &chat.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch chat: %w", err)
	}
	return chat, nil
}

func (s *Store) reactions(messageID string) ([]models.ReactionGroup, error) {
	rows, err := s.db.Query(`
		SELECT user_id, emoji FROM reactions WHERE message_id = ? ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reactions: %w", err)
	}
	defer rows.Close()

	byEmoji := make(map[string][]string)
	var order []string
	for rows.Next() {
		var userID, emoji string
		if err := rows.Scan(&userID, &emoji); err != nil {
			return nil, err
		}
		if _, ok := byEmoji[emoji]; !ok {
			order = append(order, emoji)
		}
		byEmoji[emoji] = append(byEmoji[emoji], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]models.ReactionGroup, 0, len(order))
	for _, emoji := range order {
		users := byEmoji[emoji]
		sort.Strings(users)
		groups = append(groups, models.ReactionGroup{Emoji: emoji, Count: len(users), Users: users})
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg                                 models.Message
		deliveredAt, readAt                 sql.NullTime
		pinned, edited, deleted             int
		replyID, replyContent, replySender  sql.NullString
		fwdSender, fwdSenderName            sql.NullString
		fwdAt                               sql.NullTime
		mentions, fileURL, fileName, fileTy sql.NullString
		fileSize                            sql.NullInt64
	)

	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.CreatedAt,
		&deliveredAt, &readAt, &pinned, &edited, &deleted,
		&replyID, &replyContent, &replySender,
		&fwdSender, &fwdSenderName, &fwdAt,
		&mentions, &fileURL, &fileName, &fileTy, &fileSize,
		&msg.SenderName,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = models.MessageStatus{
		Sent:      true,
		Delivered: deliveredAt.Valid,
		Read:      readAt.Valid,
		ReadBy:    []string{},
	}
	if readAt.Valid {
		msg.Status.ReadBy = []string{msg.RecipientID}
	}
	msg.IsPinned = pinned == 1
	msg.IsEdited = edited == 1
	msg.IsDeleted = deleted == 1

	if replyID.Valid {
		msg.ReplyTo = &models.ReplySnapshot{
			ID:         replyID.String,
			Content:    replyContent.String,
			SenderName: replySender.String,
		}
	}
	if fwdSender.Valid {
		msg.ForwardedFrom = &models.ForwardInfo{
			OriginalSender:     fwdSender.String,
			OriginalSenderName: fwdSenderName.String,
			OriginalTimestamp:  fwdAt.Time,
		}
	}
	if fileURL.Valid {
		msg.Attachment = &models.Attachment{
			URL:      fileURL.String,
			Filename: fileName.String,
			FileType: fileTy.String,
			Size:     fileSize.Int64,
		}
	}

	msg.Mentions = unmarshalMentions(mentions)
	return &msg, nil
}

func marshalMentions(mentions []string) sql.NullString {
	if len(mentions) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(mentions)
	return sql.NullString{String: string(data), Valid: true}
}

func unmarshalMentions(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return []string{}
	}
	return out
}
