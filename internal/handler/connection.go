package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"lookout-server/internal/engine"
)

// ConnectionHandler accepts transport connect/disconnect notifications
// from infrastructure callbacks.
type ConnectionHandler struct {
	Lifecycle *engine.Lifecycle
}

type connectionEventBody struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Phase        string `json:"phase"`
}

func (h *ConnectionHandler) Event(c *gin.Context) {
	var body connectionEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request"})
		return
	}

	err := h.Lifecycle.HandleEvent(c.Request.Context(), body.UserID, body.ConnectionID, body.Phase)
	if err != nil {
		// Malformed callbacks are expected in production; they are a
		// client error, not a server fault.
		if errors.Is(err, engine.ErrMissingUserID) || (body.Phase != engine.PhaseConnect && body.Phase != engine.PhaseDisconnect) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok"})
}
