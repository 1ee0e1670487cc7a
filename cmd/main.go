package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/theravox/theravox-backend/internal/clients/elevenlabs"
	"github.com/theravox/theravox-backend/internal/clients/redis"
	"github.com/theravox/theravox-backend/internal/clients/storage"
	"github.com/theravox/theravox-backend/internal/db"
	"github.com/theravox/theravox-backend/internal/handlers"
	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/middleware"
	"github.com/theravox/theravox-backend/internal/observability"
	"github.com/theravox/theravox-backend/internal/repos"
	"github.com/theravox/theravox-backend/internal/server"
	"github.com/theravox/theravox-backend/internal/services"
	"github.com/theravox/theravox-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "theravox-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     os.Getenv("APP_VERSION"),
	})
	if otelShutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(ctx)
		}()
	}

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	therapistProfileRepo := repos.NewTherapistProfileRepo(thePG, log)
	therapySessionRepo := repos.NewTherapySessionRepo(thePG, log)
	sessionAudioChunkRepo := repos.NewSessionAudioChunkRepo(thePG, log)
	voiceStateRepo := repos.NewVoiceStateRepo(thePG, log)

	// Clients
	log.Info("Setting up Clients from main...")
	storageClient, err := storage.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init storage client", "error", err)
		os.Exit(1)
	}
	voiceClient, err := elevenlabs.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init elevenlabs client", "error", err)
		os.Exit(1)
	}
	progressStore, err := redis.NewProgressStore(log)
	if err != nil {
		log.Warn("Redis progress store unavailable, clone progress reporting disabled", "error", err)
		progressStore = nil
	} else {
		defer progressStore.Close()
	}

	// Services
	log.Info("Setting up Services from main...")
	combineService := services.NewAudioCombineService(
		thePG,
		log,
		therapySessionRepo,
		sessionAudioChunkRepo,
		storageClient,
		services.AudioCombineConfigFromEnv(log),
	)
	voiceCloneService := services.NewVoiceCloneService(
		thePG,
		log,
		therapistProfileRepo,
		therapySessionRepo,
		voiceStateRepo,
		combineService,
		storageClient,
		voiceClient,
		progressStore,
		services.VoiceCloneConfigFromEnv(log),
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	voiceHandler := handlers.NewVoiceHandler(log, voiceCloneService)
	sessionHandler := handlers.NewSessionHandler(log, combineService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, jwtSecretKey)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		AuthMiddleware: authMiddleware,
		VoiceHandler:   voiceHandler,
		SessionHandler: sessionHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
