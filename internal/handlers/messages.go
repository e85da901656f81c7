package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pairlinkhq/pairlink/internal/models"
	"github.com/pairlinkhq/pairlink/internal/push"
	"github.com/pairlinkhq/pairlink/internal/store"
)

// OnlineChecker interface for checking user online status
type OnlineChecker interface {
	IsUserOnline(userID string) bool
	GetOnlineUserIDs() []string
}

type MessageHandler struct {
	db            *sql.DB
	store         *store.Store
	onlineChecker OnlineChecker
	notifier      *push.Notifier
	uploadDir     string
	maxUploadSize int64
}

func NewMessageHandler(db *sql.DB, st *store.Store, onlineChecker OnlineChecker, notifier *push.Notifier, uploadDir string, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{
		db:            db,
		store:         st,
		onlineChecker: onlineChecker,
		notifier:      notifier,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
	}
}

// GetConversation retrieves message history between the caller and another
// user, oldest first.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	otherUserID := c.Param("userId")
	if otherUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId path parameter required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.store.History(userID.(string), otherUserID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GetUsers retrieves the user directory excluding the caller, optionally
// filtered by search query. Password hashes never leave the database layer.
func (h *MessageHandler) GetUsers(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	searchQuery := strings.TrimSpace(c.Query("q"))

	var rows *sql.Rows
	var err error

	if searchQuery != "" {
		rows, err = h.db.Query(`
			SELECT id, username, display_name, avatar_url, created_at FROM users
			WHERE id != ? AND (username LIKE ? OR display_name LIKE ?)
			ORDER BY username LIMIT 20
		`, userID, "%"+searchQuery+"%", "%"+searchQuery+"%")
	} else {
		rows, err = h.db.Query(`
			SELECT id, username, display_name, avatar_url, created_at FROM users WHERE id != ? ORDER BY username LIMIT 20
		`, userID)
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch users"})
		return
	}
	defer rows.Close()

	type UserWithOnline struct {
		ID          string  `json:"id"`
		Username    string  `json:"username"`
		DisplayName *string `json:"display_name,omitempty"`
		AvatarURL   *string `json:"avatar_url,omitempty"`
		IsOnline    bool    `json:"is_online"`
	}

	var users []UserWithOnline
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL, &user.CreatedAt); err != nil {
			continue
		}
		u := UserWithOnline{
			ID:          user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			AvatarURL:   user.AvatarURL,
			IsOnline:    h.onlineChecker != nil && h.onlineChecker.IsUserOnline(user.ID),
		}
		users = append(users, u)
	}

	if users == nil {
		users = []UserWithOnline{}
	}

	c.JSON(http.StatusOK, users)
}

// GetUserProfile retrieves public user profile
func (h *MessageHandler) GetUserProfile(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}

	var user models.User
	err := h.db.QueryRow(`
		SELECT id, username, display_name, avatar_url, created_at FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL, &user.CreatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch user"})
		return
	}

	isOnline := h.onlineChecker != nil && h.onlineChecker.IsUserOnline(user.ID)
	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"avatar_url":   user.AvatarURL,
		"is_online":    isOnline,
		"created_at":   user.CreatedAt,
	})
}

// CreateChat finds or creates the chat record for the caller and the given
// recipient. Idempotent: the record is keyed by the unordered pair.
func (h *MessageHandler) CreateChat(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		RecipientID string `json:"recipientId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	currentUID := userID.(string)
	if req.RecipientID == currentUID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot create chat with yourself"})
		return
	}

	recipientExists, err := h.store.UserExists(req.RecipientID)
	if err != nil || !recipientExists {
		c.JSON(http.StatusNotFound, gin.H{"error": "recipient not found"})
		return
	}

	chat, created, err := h.store.FindOrCreateChat(currentUID, req.RecipientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	var username string
	h.db.QueryRow("SELECT username FROM users WHERE id = ?", req.RecipientID).Scan(&username)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"id":           chat.ID,
		"participants": chat.Participants(),
		"user_id":      req.RecipientID,
		"username":     username,
		"created_at":   chat.CreatedAt,
	})
}

// UploadFile accepts a message attachment and returns its descriptor. No
// message is created here; the descriptor travels on a later sendMessage.
func (h *MessageHandler) UploadFile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	fileType := ""
	switch {
	case strings.HasPrefix(contentType, "image/"):
		fileType = "image"
	case contentType == "application/pdf":
		fileType = "pdf"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "only images and PDFs are allowed"})
		return
	}

	fileID := uuid.NewString()
	filename := strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + header.Filename
	filepath := h.uploadDir + "/" + filename

	if err := c.SaveUploadedFile(header, filepath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}

	_, err = h.db.Exec(`
		INSERT INTO files (id, user_id, file_name, file_path, file_size, content_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fileID, userID.(string), header.Filename, filepath, header.Size, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file record"})
		return
	}

	c.JSON(http.StatusOK, models.Attachment{
		URL:      "/api/files/" + filename,
		Filename: header.Filename,
		FileType: fileType,
		Size:     header.Size,
	})
}

// PushSubscribe stores a Web Push subscription for the caller.
func (h *MessageHandler) PushSubscribe(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are not configured"})
		return
	}

	var sub push.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil || sub.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.notifier.Subscribe(userID.(string), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

// PushUnsubscribe revokes a Web Push subscription for the caller.
func (h *MessageHandler) PushUnsubscribe(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are not configured"})
		return
	}

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.notifier.Unsubscribe(userID.(string), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
}
