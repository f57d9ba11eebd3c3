package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xpanvictor/evermore/internal/config"
	"github.com/xpanvictor/evermore/internal/database"
	memorydomain "github.com/xpanvictor/evermore/internal/domains/memory"
	"github.com/xpanvictor/evermore/internal/domains/session"
	"github.com/xpanvictor/evermore/internal/repository/memory"
	"github.com/xpanvictor/evermore/internal/repository/persona"
	"github.com/xpanvictor/evermore/internal/repository/transcript"
	"github.com/xpanvictor/evermore/internal/runtime/embedding"
	"github.com/xpanvictor/evermore/internal/server"
	"github.com/xpanvictor/evermore/pkg/Logger"
	"github.com/xpanvictor/evermore/pkg/realtime"
	"github.com/xpanvictor/evermore/pkg/tts"
)

// This is the main entry point for the API server.
// Loads in all system components
// Exposes functionalities
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	// fetch database connection
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// handle migrations
	if err := database.MigrateDB(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	embedder := embedding.NewTEIEmbedder(cfg.Embedding.TEIBaseURL)

	personaRepo := persona.NewRepository(db)
	memoryStore := memory.NewStore(db, rdb, embedder, logger)
	transcripts := transcript.NewRepository(rdb)

	// Each connection gets its own session deps: the memory scheduler is
	// rate-limited per session, not globally.
	newSessionDeps := func() session.Deps {
		var sched *memorydomain.Scheduler
		if cfg.Memory.Enabled {
			extractor := memorydomain.NewOpenAIExtractor(cfg.Voice.OpenAIAPIKey, cfg.Memory.Model)
			sched = memorydomain.NewScheduler(cfg.Memory, extractor, memoryStore, logger)
		}
		return session.Deps{
			Voice:       cfg.Voice,
			Personas:    personaRepo,
			Memories:    memoryStore,
			Transcripts: transcripts,
			MemorySched: sched,
			NewTTS: func(voiceID string) (tts.Provider, error) {
				return tts.NewElevenLabs(tts.ElevenLabsConfig{
					APIKey:  cfg.Voice.ElevenLabsAPIKey,
					VoiceID: voiceID,
					ModelID: cfg.Voice.ElevenLabsModelID,
					Speed:   cfg.Voice.TTSSpeed,
				}, logger)
			},
			DialUpstream: func(ctx context.Context) (session.Upstream, error) {
				return realtime.Dial(ctx, cfg.Voice.OpenAIRealtimeURL, cfg.Voice.OpenAIAPIKey, logger)
			},
			Logger: logger,
		}
	}

	// compose router
	router := gin.Default()
	dep := server.NewServerDependencies(logger, cfg, personaRepo, newSessionDeps)
	server.InitializeRoutes(router, dep)

	// listen with graceful exit
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}
