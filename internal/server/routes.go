package server

import (
	"github.com/gin-gonic/gin"

	"github.com/xpanvictor/evermore/internal/config"
	"github.com/xpanvictor/evermore/internal/domains/session"
	"github.com/xpanvictor/evermore/internal/handlers"
	wshandler "github.com/xpanvictor/evermore/internal/handlers/websocket"
	"github.com/xpanvictor/evermore/internal/repository/persona"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

type Dependencies struct {
	Logger         *Logger.Logger
	Settings       *config.Settings
	Personas       persona.Repository
	NewSessionDeps func() session.Deps
}

func NewServerDependencies(
	logger *Logger.Logger,
	settings *config.Settings,
	personas persona.Repository,
	newSessionDeps func() session.Deps,
) Dependencies {
	return Dependencies{
		Logger:         logger,
		Settings:       settings,
		Personas:       personas,
		NewSessionDeps: newSessionDeps,
	}
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	handlers.NewPersonaHandler(dep.Personas, dep.Logger).RegisterRoutes(r)
	wshandler.NewHandler(dep.Logger, dep.NewSessionDeps).RegisterRoutes(r)
}
