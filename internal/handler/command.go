package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"lookout-server/internal/engine"
	"lookout-server/internal/middleware"
	"lookout-server/internal/model"
	"lookout-server/internal/store"
)

// CommandHandler exposes the dispatch and acknowledgment pipeline.
// Issue targets may arrive as an internal id, a directory object id, or an
// email; the store's cascading resolver normalizes them.
type CommandHandler struct {
	Commands *engine.Commands
	Store    *store.Store
	Limiter  *middleware.RateLimiter
}

type issueCommandBody struct {
	TargetUserID string `json:"targetUserId"`
	Type         string `json:"type"`
	Reason       string `json:"reason"`
}

func (h *CommandHandler) Issue(c *gin.Context) {
	if h.Limiter != nil && !h.Limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body issueCommandBody
	if err := c.ShouldBindJSON(&body); err != nil || body.TargetUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user, err := h.Store.ResolveUser(c.Request.Context(), body.TargetUserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}

	cmd, err := h.Commands.Issue(c.Request.Context(), user.ID, model.CommandType(body.Type), body.Reason)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"commandId": cmd.ID})
}

type acknowledgeBody struct {
	CommandIDs []string `json:"commandIds"`
}

func (h *CommandHandler) Acknowledge(c *gin.Context) {
	var body acknowledgeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	n, err := h.Commands.Acknowledge(c.Request.Context(), body.CommandIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Acknowledgment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"acknowledgedCount": n})
}
