package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pairchat/internal/apperr"
	"pairchat/internal/delivery"
	"pairchat/internal/media"
	"pairchat/internal/models"
)

// MessageEngine is the delivery surface behind the message endpoints.
type MessageEngine interface {
	Send(ctx context.Context, senderID int64, in delivery.SendInput) (models.Message, error)
	MarkSeen(ctx context.Context, viewerID, messageID int64) (models.Message, error)
	Delete(ctx context.Context, requesterID, messageID int64, alsoForCounterpart bool) (models.Message, error)
	ListConversation(ctx context.Context, viewerID int64, page, limit int) (models.MessagePage, models.Pagination, error)
	UnreadCount(ctx context.Context, viewerID int64) (int, error)
}

// Uploader persists an uploaded file and returns its public URL.
type Uploader interface {
	Store(ctx context.Context, filename string, size int64, body io.Reader, category media.Category) (string, error)
}

// MessageHandler serves the conversation endpoints.
type MessageHandler struct {
	engine   MessageEngine
	uploader Uploader
	auditor  Auditor
}

func NewMessageHandler(engine MessageEngine, uploader Uploader, auditor Auditor) *MessageHandler {
	return &MessageHandler{engine: engine, uploader: uploader, auditor: auditor}
}

// Routes mounts the message routes on an authenticated group.
func (h *MessageHandler) Routes(rg *gin.RouterGroup) {
	rg.POST("/messages", h.SendMessage)
	rg.POST("/messages/image", h.SendImage)
	rg.POST("/messages/video", h.SendVideo)
	rg.GET("/messages", h.ListMessages)
	rg.GET("/messages/unread/count", h.UnreadCount)
	rg.PUT("/messages/:message_id/seen", h.MarkSeen)
	rg.DELETE("/messages/:message_id", h.DeleteMessage)
}

// SendMessage accepts text, or a media message whose file was uploaded
// earlier and is referenced by media_url.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.engine.Send(c.Request.Context(), userIDFromContext(c), delivery.SendInput{
		Kind:     req.Kind,
		Content:  req.Content,
		MediaURL: req.MediaURL,
	})
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *MessageHandler) SendImage(c *gin.Context) {
	h.sendMedia(c, "image", models.KindImage, media.Image)
}

func (h *MessageHandler) SendVideo(c *gin.Context) {
	h.sendMedia(c, "video", models.KindVideo, media.Video)
}

func (h *MessageHandler) sendMedia(c *gin.Context, field string, kind models.MessageKind, category media.Category) {
	url, ok := storeFormFile(c, h.uploader, h.auditor, field, category)
	if !ok {
		return
	}

	msg, err := h.engine.Send(c.Request.Context(), userIDFromContext(c), delivery.SendInput{
		Kind:     kind,
		Content:  c.PostForm("content"),
		MediaURL: url,
	})
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *MessageHandler) ListMessages(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", delivery.DefaultPageSize)

	result, pagination, err := h.engine.ListConversation(c.Request.Context(), userIDFromContext(c), page, limit)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	messages := result.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "pagination": pagination})
}

func (h *MessageHandler) UnreadCount(c *gin.Context) {
	count, err := h.engine.UnreadCount(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *MessageHandler) MarkSeen(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	msg, err := h.engine.MarkSeen(c.Request.Context(), userIDFromContext(c), messageID)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage hides a message for the sender, and for the partner too
// when deleteForPartner=true.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	alsoForPartner, _ := strconv.ParseBool(c.DefaultQuery("deleteForPartner", "false"))

	msg, err := h.engine.Delete(c.Request.Context(), userIDFromContext(c), messageID, alsoForPartner)
	if err != nil {
		respondError(c, h.auditor, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func parseMessageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// storeFormFile stores the multipart file under field. It writes the error
// response itself and reports whether the caller should continue.
func storeFormFile(c *gin.Context, uploader Uploader, auditor Auditor, field string, category media.Category) (string, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no " + category.Name + " file provided"})
		return "", false
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, auditor, apperr.ErrUploadFailed(err))
		return "", false
	}
	defer f.Close()

	url, err := uploader.Store(c.Request.Context(), fh.Filename, fh.Size, f, category)
	if err != nil {
		respondError(c, auditor, err)
		return "", false
	}
	return url, true
}
