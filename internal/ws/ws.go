package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairlinkhq/pairlink/internal/models"
	"github.com/pairlinkhq/pairlink/internal/push"
	"github.com/pairlinkhq/pairlink/internal/registry"
	"github.com/pairlinkhq/pairlink/internal/store"
)

// Hub coordinates all live connections: room membership, event routing,
// presence fan-out and typing expiry. Rooms are named by user id: every
// connection joins its owner's room at registration, and a message to a
// user is an emit to that user's room.
type Hub struct {
	store    *store.Store
	registry *registry.Registry
	notifier *push.Notifier

	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	typing *typingTracker
}

type Client struct {
	id       string
	userID   string
	username string
	conn     *websocket.Conn
	hub      *Hub
	send     chan *frame
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

func NewHub(st *store.Store, reg *registry.Registry, notifier *push.Notifier) *Hub {
	h := &Hub{
		store:      st,
		registry:   reg,
		notifier:   notifier,
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	h.typing = newTypingTracker(typingExpiry, h.typingExpired)
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.joinRoomLocked(client, client.userID)
			total := len(h.clients)
			h.mu.Unlock()

			log.Printf("ws: user %s connected (connections: %d)", client.userID, total)

			if first := h.registry.Register(client.id, client.userID); first {
				h.broadcastOnlineUsers()
			} else {
				// Late joiners still need the current set.
				client.emit(EventOnlineUsers, h.registry.OnlineUsers())
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, known := h.clients[client]
			if known {
				delete(h.clients, client)
				h.leaveAllRoomsLocked(client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()

			if !known {
				continue
			}

			log.Printf("ws: user %s disconnected (connections: %d)", client.userID, total)

			userID, last := h.registry.Unregister(client.id)
			if last {
				// A vanished client cannot send stopTyping; clear its flags here.
				for _, c := range h.typing.ClearUser(userID) {
					h.emitToRoom(c.PeerID, EventTyping, typingNotice{ChatID: c.ChatID, UserID: userID, IsTyping: false})
				}
				h.broadcastOnlineUsers()
			}
		}
	}
}

// IsUserOnline reports whether the user holds at least one live connection.
func (h *Hub) IsUserOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// GetOnlineUserIDs returns a snapshot of all online users.
func (h *Hub) GetOnlineUserIDs() []string {
	return h.registry.OnlineUsers()
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// The handshake carries the user id explicitly; it must match the
	// authenticated identity. No anonymous presence.
	if qid := c.Query("userId"); qid == "" || qid != userID.(string) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "userId missing or does not match token"})
		return
	}

	username, _ := c.Get("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		userID:   userID.(string),
		username: username.(string),
		conn:     conn,
		hub:      h,
		send:     make(chan *frame, 256),
	}

	h.register <- client

	go client.readPump()
	go client.writePump()
}

// --- room plumbing ---

func (h *Hub) joinRoomLocked(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
}

func (h *Hub) joinRoom(client *Client, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	h.joinRoomLocked(client, room)
	h.mu.Unlock()
}

func (h *Hub) leaveAllRoomsLocked(client *Client) {
	for room, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) emitToRoom(room, event string, data interface{}) {
	f := &frame{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[room] {
		select {
		case client.send <- f:
		default:
			log.Printf("ws: send channel full for user %s, dropping %s", client.userID, event)
		}
	}
}

func (h *Hub) emitToAll(event string, data interface{}) {
	f := &frame{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- f:
		default:
			log.Printf("ws: send channel full for user %s, dropping %s", client.userID, event)
		}
	}
}

// broadcastOnlineUsers fans the full online set out to every connection.
// Full-set replace keeps client reconciliation trivial.
func (h *Hub) broadcastOnlineUsers() {
	h.emitToAll(EventOnlineUsers, h.registry.OnlineUsers())
}

func (h *Hub) typingExpired(userID, chatID, peerID string) {
	h.emitToRoom(peerID, EventTyping, typingNotice{ChatID: chatID, UserID: userID, IsTyping: false})
}

// --- client pumps ---

func (c *Client) emit(event string, data interface{}) {
	select {
	case c.send <- &frame{Event: event, Data: data}:
	default:
	}
}

// fail reports an operation error to this client only.
func (c *Client) fail(op, messageID string, err error) {
	c.emit(EventError, errorPayload{Op: op, Error: err.Error(), MessageID: messageID})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			break
		}

		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			continue
		}

		c.dispatch(&f)
	}
}

// dispatch runs one event handler. Events from this connection are handled
// serially, which gives per-sender FIFO delivery.
func (c *Client) dispatch(f *inFrame) {
	switch f.Event {
	case EventJoinConversation:
		c.handleJoinConversation(f.Data)
	case EventSendMessage:
		c.handleSendMessage(f.Data)
	case EventMarkAsRead:
		c.handleMarkAsRead(f.Data)
	case EventGetOnlineUsers:
		c.emit(EventOnlineUsers, c.hub.registry.OnlineUsers())
	case EventTyping, EventStopTyping:
		c.handleTyping(f.Event, f.Data)
	case EventPinMessage:
		c.handlePin(f.Data, true)
	case EventUnpinMessage:
		c.handlePin(f.Data, false)
	case EventEditMessage:
		c.handleEditMessage(f.Data)
	case EventDeleteMessage:
		c.handleDeleteMessage(f.Data)
	case EventForwardMessage:
		c.handleForwardMessage(f.Data)
	case EventReplyToMessage:
		c.handleReplyToMessage(f.Data)
	case EventAddReaction:
		c.handleReaction(EventAddReaction, f.Data)
	case EventRemoveReaction:
		c.handleReaction(EventRemoveReaction, f.Data)
	}
}

func (c *Client) handleJoinConversation(data json.RawMessage) {
	room := decodeJoinPayload(data)
	if room == "" {
		return
	}
	c.hub.joinRoom(c, room)
}

func (c *Client) handleSendMessage(data json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.fail(EventSendMessage, "", errors.New("invalid payload"))
		return
	}
	if p.Recipient == "" || (p.Content == "" && p.Attachment == nil) {
		c.fail(EventSendMessage, "", errors.New("recipient and content are required"))
		return
	}

	exists, err := c.hub.store.UserExists(p.Recipient)
	if err != nil || !exists {
		c.fail(EventSendMessage, "", errors.New("recipient not found"))
		return
	}

	var att *models.Attachment
	if p.Attachment != nil {
		att = &models.Attachment{
			URL:      p.Attachment.URL,
			Filename: p.Attachment.Filename,
			FileType: p.Attachment.FileType,
			Size:     p.Attachment.Size,
		}
	}

	// Persist before any broadcast: a message that cannot be stored is
	// reported to the sender and nobody else ever sees it.
	msg, err := c.hub.store.Create(c.userID, p.Recipient, p.Content, att)
	if err != nil {
		log.Printf("ws: failed to save message from %s: %v", c.userID, err)
		c.fail(EventSendMessage, "", errors.New("failed to save message"))
		return
	}

	c.deliver(msg)

	// Sending ends any typing flag the sender still holds.
	for _, cleared := range c.hub.typing.ClearUser(c.userID) {
		c.hub.emitToRoom(cleared.PeerID, EventTyping, typingNotice{ChatID: cleared.ChatID, UserID: c.userID, IsTyping: false})
	}
}

// deliver routes a freshly persisted message to both parties' rooms and
// handles the delivered transition / offline push.
func (c *Client) deliver(msg *models.Message) {
	c.hub.emitToRoom(msg.RecipientID, EventReceiveMessage, msg)
	c.hub.emitToRoom(msg.SenderID, EventMessageSent, msg)

	if c.hub.registry.IsOnline(msg.RecipientID) {
		delivered, err := c.hub.store.MarkDelivered(msg.ID)
		if err != nil {
			log.Printf("ws: failed to mark delivered: %v", err)
			return
		}
		c.hub.emitToRoom(msg.SenderID, EventMessageDelivered, delivered)
	} else {
		c.hub.notifier.SendNewMessageNotification(msg.RecipientID, msg.SenderName)
	}
}

func (c *Client) handleMarkAsRead(data json.RawMessage) {
	var p messageIDPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		c.fail(EventMarkAsRead, "", errors.New("messageId is required"))
		return
	}

	msg, err := c.hub.store.MarkRead(p.MessageID, c.userID)
	if err != nil {
		c.fail(EventMarkAsRead, p.MessageID, err)
		return
	}

	// The read receipt goes to the sender's room; the reader already knows.
	c.hub.emitToRoom(msg.SenderID, EventMessageRead, msg)
}

func (c *Client) handleTyping(event string, data json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		return
	}
	if event == EventStopTyping {
		p.IsTyping = false
	}

	peerID := p.RecipientID
	if peerID == "" {
		chat, err := c.hub.store.GetChat(p.ChatID)
		if err != nil {
			return
		}
		peerID = chat.Other(c.userID)
	}
	if peerID == "" || peerID == c.userID {
		return
	}

	if p.IsTyping {
		c.hub.typing.Set(c.userID, p.ChatID, peerID)
	} else {
		c.hub.typing.Clear(c.userID, p.ChatID)
	}

	c.hub.emitToRoom(peerID, EventTyping, typingNotice{ChatID: p.ChatID, UserID: c.userID, IsTyping: p.IsTyping})
}

func (c *Client) handlePin(data json.RawMessage, pinned bool) {
	op := EventPinMessage
	if !pinned {
		op = EventUnpinMessage
	}

	var p messageIDPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		c.fail(op, "", errors.New("messageId is required"))
		return
	}

	msg, err := c.hub.store.SetPinned(p.MessageID, c.userID, pinned)
	if err != nil {
		c.fail(op, p.MessageID, err)
		return
	}

	c.broadcastToParticipants(op, msg)
}

func (c *Client) handleEditMessage(data json.RawMessage) {
	var p editMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" || p.NewContent == "" {
		c.fail(EventEditMessage, "", errors.New("messageId and newContent are required"))
		return
	}

	msg, err := c.hub.store.Edit(p.MessageID, c.userID, p.NewContent)
	if err != nil {
		c.fail(EventEditMessage, p.MessageID, err)
		return
	}

	c.broadcastToParticipants(EventEditMessage, msg)
}

func (c *Client) handleDeleteMessage(data json.RawMessage) {
	var p messageIDPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		c.fail(EventDeleteMessage, "", errors.New("messageId is required"))
		return
	}

	msg, err := c.hub.store.SoftDelete(p.MessageID, c.userID)
	if err != nil {
		c.fail(EventDeleteMessage, p.MessageID, err)
		return
	}

	c.broadcastToParticipants(EventDeleteMessage, msg)
}

func (c *Client) handleForwardMessage(data json.RawMessage) {
	var p forwardMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" || p.TargetUserID == "" {
		c.fail(EventForwardMessage, "", errors.New("messageId and targetUserId are required"))
		return
	}

	exists, err := c.hub.store.UserExists(p.TargetUserID)
	if err != nil || !exists {
		c.fail(EventForwardMessage, p.MessageID, errors.New("target user not found"))
		return
	}

	msg, err := c.hub.store.Forward(p.MessageID, c.userID, p.TargetUserID)
	if err != nil {
		c.fail(EventForwardMessage, p.MessageID, err)
		return
	}

	c.deliver(msg)
}

func (c *Client) handleReplyToMessage(data json.RawMessage) {
	var p replyToMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.OriginalMessageID == "" || p.Content == "" {
		c.fail(EventReplyToMessage, "", errors.New("originalMessageId and content are required"))
		return
	}

	msg, err := c.hub.store.Reply(p.OriginalMessageID, c.userID, p.Content)
	if err != nil {
		c.fail(EventReplyToMessage, p.OriginalMessageID, err)
		return
	}

	c.deliver(msg)
}

func (c *Client) handleReaction(op string, data json.RawMessage) {
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" || p.Emoji == "" {
		c.fail(op, "", errors.New("messageId and emoji are required"))
		return
	}

	var msg *models.Message
	var err error
	if op == EventAddReaction {
		msg, err = c.hub.store.AddReaction(p.MessageID, c.userID, p.Emoji)
	} else {
		msg, err = c.hub.store.RemoveReaction(p.MessageID, c.userID, p.Emoji)
	}
	if err != nil {
		c.fail(op, p.MessageID, err)
		return
	}

	c.broadcastToParticipants(op, msg)
}

// broadcastToParticipants re-emits a mutation under its own event name to
// both parties' rooms with the updated message.
func (c *Client) broadcastToParticipants(event string, msg *models.Message) {
	c.hub.emitToRoom(msg.SenderID, event, msg)
	if msg.RecipientID != msg.SenderID {
		c.hub.emitToRoom(msg.RecipientID, event, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(message)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
