package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lookout-server/internal/auth"
	"lookout-server/internal/engine"
	"lookout-server/internal/hub"
)

// WebSocketHandler serves the monitored-client socket. The socket open and
// close are the transport's connect/disconnect notifications: they drive
// the lifecycle coordinator directly.
type WebSocketHandler struct {
	Hub         *hub.Hub
	Lifecycle   *engine.Lifecycle
	Commands    *engine.Commands
	TokenConfig auth.TokenConfig
	Logger      *zap.Logger
}

type clientMessage struct {
	Type       string   `json:"type"`
	CommandIDs []string `json:"commandIds,omitempty"`
}

type serverMessage struct {
	Type  string      `json:"type"`
	Count int         `json:"count,omitempty"`
	Body  interface{} `json:"body,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	claims, err := auth.VerifyToken(tokenString, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connectionID := uuid.NewString()
	conn := &hub.Connection{UserID: claims.UserID, ConnectionID: connectionID, Writer: &wsWriter{conn: ws}}
	h.Hub.Register(conn)
	h.Hub.Join(engine.CommandGroup(claims.UserID), conn)
	if claims.Role == auth.RoleOperator {
		// Operator dashboards also follow the presence feed.
		h.Hub.Join(engine.PresenceGroup, conn)
	}

	ctx := c.Request.Context()
	if err := h.Lifecycle.Connect(ctx, claims.UserID, connectionID); err != nil {
		h.Logger.Error("connect handling failed",
			zap.String("userId", claims.UserID), zap.Error(err))
		h.Hub.Unregister(conn)
		_ = ws.Close()
		return
	}

	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
		// The request context dies with the socket; the offline writes
		// still have to land.
		if err := h.Lifecycle.Disconnect(context.WithoutCancel(ctx), claims.UserID, connectionID); err != nil {
			h.Logger.Error("disconnect handling failed",
				zap.String("userId", claims.UserID), zap.Error(err))
		}
	}()

	// Commands broadcast while the client was away go out again now.
	if n, err := h.Commands.Redeliver(ctx, claims.UserID); err != nil {
		h.Logger.Warn("command redelivery failed",
			zap.String("userId", claims.UserID), zap.Error(err))
	} else if n > 0 {
		h.Logger.Info("redelivered pending commands",
			zap.String("userId", claims.UserID), zap.Int("count", n))
	}

	ws.SetReadLimit(1024 * 1024)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			out, _ := json.Marshal(serverMessage{Type: "pong"})
			_ = conn.Writer.Write(out)
		case "ack":
			if len(msg.CommandIDs) == 0 {
				continue
			}
			n, err := h.Commands.Acknowledge(ctx, msg.CommandIDs)
			if err != nil {
				h.Logger.Warn("acknowledgment failed",
					zap.String("userId", claims.UserID), zap.Error(err))
				continue
			}
			out, _ := json.Marshal(serverMessage{Type: "ack-result", Count: n})
			_ = conn.Writer.Write(out)
		}
	}
}
