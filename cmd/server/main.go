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

	"go.uber.org/zap"

	"parallax-connect/internal/config"
	"parallax-connect/internal/database"
	"parallax-connect/internal/handlers"
	"parallax-connect/internal/middleware"
	"parallax-connect/internal/parallax"
	"parallax-connect/internal/repository"
	"parallax-connect/internal/router"
	"parallax-connect/internal/services"
	"parallax-connect/internal/websocket"
	"parallax-connect/internal/worker"
	"parallax-connect/migrations"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.DebugMode)
	if err != nil {
		log.Fatalf("logger initialization failed: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting Parallax Connect", zap.String("mode", cfg.Mode), zap.String("env", cfg.Env))

	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("PostgreSQL connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClients.Close()
	logger.Info("Redis connected")

	if err := database.RunMigrations(pool, migrations.FS); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	logger.Info("database migrations applied")

	historyRepo := repository.NewHistoryRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)

	searchService := services.NewWebSearchService(cfg.SearchProvider, cfg.BraveAPIKey, logger)

	var client parallax.Client
	if cfg.Mode == "MOCK" {
		client = parallax.NewMockClient(searchService, 300*time.Millisecond, logger)
		logger.Info("running in MOCK mode, no inference backend required")
	} else {
		client = parallax.NewHTTPClient(
			cfg.ParallaxURL,
			cfg.DefaultModel,
			time.Duration(cfg.RequestTimeoutSeconds)*time.Second,
			time.Duration(cfg.StreamTimeoutSeconds)*time.Second,
			logger,
		)
	}

	docService := services.NewDocumentService()
	searchRouter := services.NewSearchRouter(client, logger)
	connectivity := services.NewParallaxConnectivity(client)
	publisher := services.NewRedisPublisher(redisClients.Queue)
	jobQueue := worker.NewQueue(redisClients.Queue)

	chatService := services.NewChatService(
		historyRepo,
		sessionRepo,
		client,
		docService,
		searchService,
		searchRouter,
		connectivity,
		jobQueue,
		publisher,
		services.ChatOptions{
			CloudMode:           cfg.Mode != "MOCK",
			DefaultSystemPrompt: cfg.DefaultSystemPrompt,
			DefaultModel:        cfg.DefaultModel,
		},
		logger,
	)

	workerPool := worker.NewPool(
		redisClients.Queue,
		client,
		sessionRepo,
		publisher,
		cfg.DefaultModel,
		cfg.WorkerCount,
		logger,
	)
	workerPool.Start()

	requireAuth := cfg.RequirePassword && cfg.Mode != "MOCK"
	auth, err := middleware.NewAuth(cfg.JWTSecret, cfg.ServerPassword, requireAuth)
	if err != nil {
		logger.Fatal("auth initialization failed", zap.Error(err))
	}

	wsHub := websocket.NewHub(redisClients.PubSub, auth, logger)

	authHandler := handlers.NewAuthHandler(auth)
	chatHandler := handlers.NewChatHandler(chatService, logger)
	sessionsHandler := handlers.NewSessionsHandler(sessionRepo, chatService)
	modelsHandler := handlers.NewModelsHandler(client)

	r := router.New(
		auth,
		authHandler,
		chatHandler,
		sessionsHandler,
		modelsHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Write timeout must cover long-lived SSE streams
		WriteTimeout: time.Duration(cfg.StreamTimeoutSeconds+30) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		chatService.CancelInFlight()
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("Parallax Connect ready",
		zap.String("addr", "http://localhost:"+cfg.Port),
		zap.String("api", "http://localhost:"+cfg.Port+"/api/v1"),
		zap.String("ws", "ws://localhost:"+cfg.Port+"/api/v1/ws"))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
