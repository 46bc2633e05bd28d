package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hearthside/comms/internal/api/middleware"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/services"
	"hearthside/comms/internal/utils"
)

// RestThreadHandler exposes the thread registry and participant lifecycle.
type RestThreadHandler struct {
	threadService      services.IThreadService
	participantService services.IParticipantService
}

// NewRestThreadHandler creates the handler.
func NewRestThreadHandler(threadService services.IThreadService, participantService services.IParticipantService) *RestThreadHandler {
	return &RestThreadHandler{threadService: threadService, participantService: participantService}
}

type createThreadRequest struct {
	LinkedEntityType models.EntityType `json:"linked_entity_type" binding:"required"`
	LinkedEntityID   utils.SixID       `json:"linked_entity_id" binding:"required"`
	ThreadType       models.ThreadType `json:"thread_type" binding:"required"`
	Title            string            `json:"title"`
	Participants     []models.Party    `json:"participants"`
}

// CreateThread handles POST /thread.
func (h *RestThreadHandler) CreateThread(c *gin.Context) {
	caller, ok := middleware.CallerParty(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	input := services.CreateThreadInput{
		LinkedEntityType: req.LinkedEntityType,
		LinkedEntityID:   req.LinkedEntityID,
		ThreadType:       req.ThreadType,
		Title:            req.Title,
		Participants:     req.Participants,
	}
	// Ownership only exists on group threads.
	if models.IsGroupThreadType(req.ThreadType) {
		input.CreatedBy = caller.ID
	}

	thread, err := h.threadService.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

// ListByEntity handles GET /thread/by-entity/:entity_type/:entity_id.
func (h *RestThreadHandler) ListByEntity(c *gin.Context) {
	entityID, ok := idParam(c, "entity_id")
	if !ok {
		return
	}
	entityType := models.EntityType(c.Param("entity_type"))

	var threadType *models.ThreadType
	if raw := c.Query("thread_type"); raw != "" {
		tt := models.ThreadType(raw)
		threadType = &tt
	}

	threads, err := h.threadService.FindByEntity(c.Request.Context(), entityType, entityID, threadType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// GetThread handles GET /thread/:id.
func (h *RestThreadHandler) GetThread(c *gin.Context) {
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	view, err := h.threadService.Get(c.Request.Context(), threadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type updateThreadRequest struct {
	Title     *string `json:"title"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateThread handles PATCH /thread/:id (group rename / avatar).
func (h *RestThreadHandler) UpdateThread(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req updateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if req.Title != nil {
		if err := h.threadService.Rename(c.Request.Context(), threadID, caller, *req.Title); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.AvatarURL != nil {
		if err := h.threadService.SetAvatar(c.Request.Context(), threadID, caller, *req.AvatarURL); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type transferOwnershipRequest struct {
	NewOwner utils.SixID `json:"new_owner" binding:"required"`
}

// TransferOwnership handles POST /thread/:id/transfer-ownership.
func (h *RestThreadHandler) TransferOwnership(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req transferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.threadService.TransferOwnership(c.Request.Context(), threadID, caller, req.NewOwner); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AcceptParticipation handles POST /thread/:id/accept.
func (h *RestThreadHandler) AcceptParticipation(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.participantService.Accept(c.Request.Context(), threadID, caller); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeclineParticipation handles POST /thread/:id/decline.
func (h *RestThreadHandler) DeclineParticipation(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.participantService.Decline(c.Request.Context(), threadID, caller); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ClearHistory handles POST /thread/:id/clear-history.
func (h *RestThreadHandler) ClearHistory(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.participantService.ClearHistory(c.Request.Context(), threadID, caller); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
