package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/utils"
)

// respondError maps the domain error taxonomy onto HTTP statuses. Unkinded
// errors are internal and logged without leaking detail.
func respondError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperr.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperr.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case apperr.KindValidation:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Printf("Internal error handling %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// idParam parses a SixID path parameter, responding 422 on garbage.
func idParam(c *gin.Context, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil || id.IsZero() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid " + name})
		return utils.SixID{}, false
	}
	return id, true
}
