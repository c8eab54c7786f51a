package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lookout-server/internal/auth"
	"lookout-server/internal/engine"
	"lookout-server/internal/handler"
	"lookout-server/internal/hub"
	"lookout-server/internal/middleware"
	"lookout-server/internal/store"
)

type Deps struct {
	Store       *store.Store
	Hub         *hub.Hub
	Tracker     *engine.Tracker
	Sessions    *engine.Sessions
	Lifecycle   *engine.Lifecycle
	Commands    *engine.Commands
	TokenConfig auth.TokenConfig
	Logger      *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	connectionHandler := &handler.ConnectionHandler{Lifecycle: deps.Lifecycle}
	commandHandler := &handler.CommandHandler{
		Commands: deps.Commands,
		Store:    deps.Store,
		Limiter:  middleware.NewRateLimiter(30, time.Minute),
	}
	presenceHandler := &handler.PresenceHandler{
		Tracker:  deps.Tracker,
		Sessions: deps.Sessions,
		Store:    deps.Store,
	}

	authed := r.Group("/v1")
	authed.Use(middleware.RequireAuth(deps.TokenConfig))

	eventLimiter := middleware.NewRateLimiter(600, time.Minute)

	operator := authed.Group("")
	operator.Use(middleware.RequireRole(auth.RoleOperator))
	operator.POST("/connections/events", middleware.RateLimitMiddleware(eventLimiter), connectionHandler.Event)
	operator.POST("/commands", commandHandler.Issue)
	operator.GET("/presence", presenceHandler.Roster)
	operator.GET("/presence/:userId", presenceHandler.Status)
	operator.GET("/presence/:userId/history", presenceHandler.History)
	operator.GET("/sessions/:userId", presenceHandler.SessionHistory)
	operator.GET("/sessions/:userId/active", presenceHandler.ActiveSession)

	authed.POST("/commands/ack", commandHandler.Acknowledge)

	wsHandler := &handler.WebSocketHandler{
		Hub:         deps.Hub,
		Lifecycle:   deps.Lifecycle,
		Commands:    deps.Commands,
		TokenConfig: deps.TokenConfig,
		Logger:      deps.Logger,
	}
	r.GET("/ws", wsHandler.Serve)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
