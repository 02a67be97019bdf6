package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"VoiceForge/internal/voice"
	"VoiceForge/pkg/middleware"
)

type Handlers struct {
	db           *gorm.DB
	lifecycle    *voice.Lifecycle
	orchestrator *voice.Orchestrator
	limiter      *middleware.RateLimiter
	upgrader     websocket.Upgrader
}

func NewHandlers(db *gorm.DB, lc *voice.Lifecycle, orch *voice.Orchestrator, limiter *middleware.RateLimiter) *Handlers {
	return &Handlers{
		db:           db,
		lifecycle:    lc,
		orchestrator: orch,
		limiter:      limiter,
		upgrader:     newUpgrader(),
	}
}

func (h *Handlers) Register(engine *gin.Engine, apiPrefix string) {
	r := engine.Group(apiPrefix)

	// Register System Module Routes
	h.registerSystemRoutes(r)

	// Register Voice Module Routes
	h.registerVoiceRoutes(r)
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)
	}
}

func (h *Handlers) registerVoiceRoutes(r *gin.RouterGroup) {
	v := r.Group("voice")
	if h.limiter != nil {
		v.Use(h.limiter.Middleware())
	}
	{
		v.GET("/voices", h.handleListVoices)

		v.POST("/consents", h.handleRecordConsent)

		// clone
		v.POST("/clones", h.handleCloneVoice)

		v.GET("/clones", h.handleListCloneJobs)

		v.GET("/clones/:id", h.handleGetCloneJob)

		v.GET("/quota", h.handleRemainingClones)

		// persona binding
		v.PUT("/personas/:id/voice", h.handleSelectPersonaVoice)

		v.POST("/preview", h.handlePreview)

		// turn audio
		v.GET("/turns/ws", h.handleTurnSocket)

		v.POST("/turns", h.handleTurnEvents)
	}
}
