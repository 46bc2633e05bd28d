package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hearthside/comms/internal/api/middleware"
	"hearthside/comms/internal/services"
	"hearthside/comms/internal/utils"
)

// RestChatHandler exposes the peer-to-peer chat overlay.
type RestChatHandler struct {
	chatService services.IChatService
}

// NewRestChatHandler creates the handler.
func NewRestChatHandler(chatService services.IChatService) *RestChatHandler {
	return &RestChatHandler{chatService: chatService}
}

type createSessionRequest struct {
	UserID utils.SixID `json:"user_id" binding:"required"`
}

// CreateSession handles POST /chat/session.
func (h *RestChatHandler) CreateSession(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	thread, err := h.chatService.CreateOrGetSession(c.Request.Context(), caller.ID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

type createGroupRequest struct {
	Title      string        `json:"title" binding:"required"`
	Invitees   []utils.SixID `json:"invitees"`
	PropertyID *utils.SixID  `json:"property_id"`
}

// CreateGroup handles POST /chat/group.
func (h *RestChatHandler) CreateGroup(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	thread, err := h.chatService.CreateGroup(c.Request.Context(), caller.ID, req.Title, req.Invitees, req.PropertyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

type memberRequest struct {
	UserID utils.SixID `json:"user_id" binding:"required"`
}

// AddMember handles POST /chat/group/:id/members.
func (h *RestChatHandler) AddMember(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.chatService.AddMember(c.Request.Context(), threadID, caller.ID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RemoveMember handles DELETE /chat/group/:id/members/:user_id.
func (h *RestChatHandler) RemoveMember(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	target, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	if err := h.chatService.RemoveMember(c.Request.Context(), threadID, caller.ID, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Leave handles POST /chat/group/:id/leave.
func (h *RestChatHandler) Leave(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.chatService.Leave(c.Request.Context(), threadID, caller.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
