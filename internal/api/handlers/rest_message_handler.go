package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hearthside/comms/internal/api/middleware"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/services"
	"hearthside/comms/internal/storage"
)

// RestMessageHandler exposes the message stream and the media presign
// endpoint.
type RestMessageHandler struct {
	messageService services.IMessageService
	mediaService   storage.IMediaService
}

// NewRestMessageHandler creates the handler.
func NewRestMessageHandler(messageService services.IMessageService, mediaService storage.IMediaService) *RestMessageHandler {
	return &RestMessageHandler{messageService: messageService, mediaService: mediaService}
}

type appendMessageRequest struct {
	Content     string            `json:"content" binding:"required"`
	Attachments []models.MediaRef `json:"attachments"`
}

// AppendMessage handles POST /thread/:id/message.
func (h *RestMessageHandler) AppendMessage(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	msg, err := h.messageService.Append(c.Request.Context(), threadID, caller, req.Content, req.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages handles GET /thread/:id/message. The caller's own view is
// returned: cleared history and blocked senders are filtered.
func (h *RestMessageHandler) ListMessages(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	messages, err := h.messageService.List(c.Request.Context(), threadID, &caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage handles PATCH /thread/:id/message/:message_id.
func (h *RestMessageHandler) EditMessage(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := idParam(c, "message_id")
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	msg, err := h.messageService.Edit(c.Request.Context(), threadID, messageID, caller, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /thread/:id/message/:message_id.
func (h *RestMessageHandler) DeleteMessage(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := idParam(c, "message_id")
	if !ok {
		return
	}
	if err := h.messageService.Delete(c.Request.Context(), threadID, messageID, caller); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarkRead handles POST /thread/:id/read.
func (h *RestMessageHandler) MarkRead(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.messageService.MarkRead(c.Request.Context(), threadID, caller); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type presignRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// PresignUpload handles POST /thread/:id/media/presign: the client uploads
// straight to the bucket, then references the returned key as an
// attachment.
func (h *RestMessageHandler) PresignUpload(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	url, key, err := h.mediaService.GeneratePresignedPutURL(c.Request.Context(),
		caller, threadID.String(), req.FileName, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}
