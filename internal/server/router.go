package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/theravox/theravox-backend/internal/handlers"
	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/middleware"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *middleware.AuthMiddleware
	VoiceHandler   *handlers.VoiceHandler
	SessionHandler *handlers.SessionHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("theravox-backend"))
	r.Use(middleware.CORS())
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.RequestLogger(cfg.Log))

	// Public
	r.GET("/healthcheck", handlers.HealthCheck)

	// Protected
	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if cfg.VoiceHandler != nil {
		api.POST("/voice/clone", cfg.VoiceHandler.CloneVoice)
		api.GET("/voice/:therapistProfileId/status", cfg.VoiceHandler.GetVoiceStatus)
		api.GET("/voice/:therapistProfileId/progress", cfg.VoiceHandler.GetCloneProgress)
	}

	if cfg.SessionHandler != nil {
		api.POST("/sessions/:sessionId/combine-audio", cfg.SessionHandler.CombineSessionAudio)
	}

	return r
}
