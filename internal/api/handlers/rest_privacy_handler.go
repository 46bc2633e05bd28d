package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hearthside/comms/internal/api/middleware"
	"hearthside/comms/internal/services"
)

// RestPrivacyHandler exposes blocking and muting.
type RestPrivacyHandler struct {
	privacyService services.IPrivacyService
}

// NewRestPrivacyHandler creates the handler.
func NewRestPrivacyHandler(privacyService services.IPrivacyService) *RestPrivacyHandler {
	return &RestPrivacyHandler{privacyService: privacyService}
}

// BlockUser handles POST /privacy/block/:user_id.
func (h *RestPrivacyHandler) BlockUser(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	target, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	if err := h.privacyService.Block(c.Request.Context(), caller.ID, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UnblockUser handles DELETE /privacy/block/:user_id.
func (h *RestPrivacyHandler) UnblockUser(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	target, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	if err := h.privacyService.Unblock(c.Request.Context(), caller.ID, target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type muteRequest struct {
	// Until is omitted for a permanent mute.
	Until *time.Time `json:"until"`
}

// MuteThread handles POST /privacy/mute/:thread_id.
func (h *RestPrivacyHandler) MuteThread(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "thread_id")
	if !ok {
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.privacyService.Mute(c.Request.Context(), caller.ID, threadID, req.Until); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UnmuteThread handles DELETE /privacy/mute/:thread_id.
func (h *RestPrivacyHandler) UnmuteThread(c *gin.Context) {
	caller, _ := middleware.CallerParty(c)
	threadID, ok := idParam(c, "thread_id")
	if !ok {
		return
	}
	if err := h.privacyService.Unmute(c.Request.Context(), caller.ID, threadID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
