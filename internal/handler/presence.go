package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"lookout-server/internal/engine"
	"lookout-server/internal/store"
)

// PresenceHandler serves presence and session reads for dashboards.
type PresenceHandler struct {
	Tracker  *engine.Tracker
	Sessions *engine.Sessions
	Store    *store.Store
}

func (h *PresenceHandler) Status(c *gin.Context) {
	userID := c.Param("userId")
	rec, err := h.Tracker.StatusOf(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":        rec.UserID,
		"status":        rec.Status,
		"lastChangedAt": rec.LastChangedAt,
	})
}

func (h *PresenceHandler) Roster(c *gin.Context) {
	online, err := h.Store.ListOnline(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	resp := make([]gin.H, 0, len(online))
	for _, rec := range online {
		resp = append(resp, gin.H{
			"userId":        rec.UserID,
			"status":        rec.Status,
			"lastChangedAt": rec.LastChangedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"online": resp})
}

func (h *PresenceHandler) History(c *gin.Context) {
	userID := c.Param("userId")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = v
	}

	entries, err := h.Store.ListHistory(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	resp := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, gin.H{
			"startedAt": entry.StartedAt,
			"endedAt":   entry.EndedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": resp})
}

func (h *PresenceHandler) ActiveSession(c *gin.Context) {
	userID := c.Param("userId")
	sess, err := h.Sessions.Active(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": gin.H{
		"sessionId": sess.ID,
		"startedAt": sess.StartedAt,
	}})
}

func (h *PresenceHandler) SessionHistory(c *gin.Context) {
	userID := c.Param("userId")
	sessions, err := h.Store.ListSessions(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	resp := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, gin.H{
			"sessionId":  sess.ID,
			"startedAt":  sess.StartedAt,
			"stoppedAt":  sess.StoppedAt,
			"stopReason": sess.StopReason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}
