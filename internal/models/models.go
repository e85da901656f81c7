package models

import "time"

// DeletedPlaceholder replaces the content of a soft-deleted message. The
// original text is discarded at delete time and cannot be recovered.
const DeletedPlaceholder = "This message was deleted"

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageStatus is the monotonic delivery state of a message:
// read implies delivered implies sent.
type MessageStatus struct {
	Sent      bool     `json:"sent"`
	Delivered bool     `json:"delivered"`
	Read      bool     `json:"read"`
	ReadBy    []string `json:"readBy"`
}

// Attachment is the descriptor returned by the upload endpoint and carried
// on messages. The server treats it as opaque apart from the size ceiling
// and type check at upload time.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	FileType string `json:"fileType"` // "image" or "pdf"
	Size     int64  `json:"size"`
}

// ReplySnapshot is a copy of the quoted message taken at reply time.
// Editing or deleting the original later does not change the snapshot.
type ReplySnapshot struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
}

// ForwardInfo records the provenance of a forwarded message.
type ForwardInfo struct {
	OriginalSender     string    `json:"originalSender"`
	OriginalSenderName string    `json:"originalSenderName,omitempty"`
	OriginalTimestamp  time.Time `json:"originalTimestamp"`
}

// ReactionGroup is the grouped wire shape of one emoji on one message.
// Count always equals len(Users).
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type Message struct {
	ID            string          `json:"id"`
	SenderID      string          `json:"senderId"`
	SenderName    string          `json:"senderName"`
	RecipientID   string          `json:"recipientId"`
	Content       string          `json:"content"`
	Attachment    *Attachment     `json:"attachment,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Status        MessageStatus   `json:"status"`
	IsPinned      bool            `json:"isPinned"`
	IsEdited      bool            `json:"isEdited"`
	IsDeleted     bool            `json:"isDeleted"`
	Reactions     []ReactionGroup `json:"reactions"`
	ReplyTo       *ReplySnapshot  `json:"replyTo,omitempty"`
	ForwardedFrom *ForwardInfo    `json:"forwardedFrom,omitempty"`
	Mentions      []string        `json:"mentions"`
}

// Chat is the REST-level conversation record keyed by the unordered user
// pair. It exists for listing and history grouping only; message routing
// never consults it.
type Chat struct {
	ID        string    `json:"id"`
	UserA     string    `json:"-"`
	UserB     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Participants returns both chat members in stored order.
func (c *Chat) Participants() []string {
	return []string{c.UserA, c.UserB}
}

// Other returns the chat member that is not userID, or "" when userID is
// not a participant.
func (c *Chat) Other(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return ""
}
