package ws

import "encoding/json"

// Wire protocol event names. Clients and server exchange JSON frames of the
// form {"event": "...", "data": {...}}; these names are the compatibility
// contract and must not change.
const (
	EventJoinConversation = "joinConversation"
	EventSendMessage      = "sendMessage"
	EventReceiveMessage   = "receiveMessage"
	EventMessageSent      = "messageSent"
	EventMarkAsRead       = "markAsRead"
	EventMessageRead      = "messageRead"
	EventMessageDelivered = "messageDelivered"
	EventGetOnlineUsers   = "getOnlineUsers"
	EventOnlineUsers      = "onlineUsers"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventPinMessage       = "pinMessage"
	EventUnpinMessage     = "unpinMessage"
	EventEditMessage      = "editMessage"
	EventDeleteMessage    = "deleteMessage"
	EventForwardMessage   = "forwardMessage"
	EventReplyToMessage   = "replyToMessage"
	EventAddReaction      = "addReaction"
	EventRemoveReaction   = "removeReaction"
	EventError            = "error"
)

// frame is an outgoing event envelope.
type frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// inFrame is an incoming event envelope; Data is decoded per event.
type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type sendMessagePayload struct {
	Recipient  string      `json:"recipient"`
	Content    string      `json:"content"`
	Attachment *attachment `json:"attachment,omitempty"`
}

// attachment mirrors models.Attachment for decoding.
type attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	FileType string `json:"fileType"`
	Size     int64  `json:"size"`
}

type messageIDPayload struct {
	MessageID string `json:"messageId"`
}

type editMessagePayload struct {
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
}

type forwardMessagePayload struct {
	MessageID    string `json:"messageId"`
	TargetUserID string `json:"targetUserId"`
}

type replyToMessagePayload struct {
	OriginalMessageID string `json:"originalMessageId"`
	Content           string `json:"content"`
	ChatID            string `json:"chatId"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type typingPayload struct {
	ChatID      string `json:"chatId"`
	RecipientID string `json:"recipientId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

// typingNotice is the server->client typing broadcast.
type typingNotice struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// errorPayload is sent to the caller only; failures never fan out.
type errorPayload struct {
	Op        string `json:"op"`
	Error     string `json:"error"`
	MessageID string `json:"messageId,omitempty"`
}

// joinConversation data is either a bare room id string or {"conversationId": "..."}.
func decodeJoinPayload(data json.RawMessage) string {
	var room string
	if err := json.Unmarshal(data, &room); err == nil {
		return room
	}
	var obj struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.ConversationID
	}
	return ""
}
