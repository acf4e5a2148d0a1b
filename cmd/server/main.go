package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/nearme/backend/internal/handlers"
	"github.com/anonto42/nearme/backend/internal/notify"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/router"
	"github.com/anonto42/nearme/backend/internal/validators"
	"github.com/anonto42/nearme/backend/pkg/config"
	"github.com/anonto42/nearme/backend/pkg/firebase"
	"github.com/anonto42/nearme/backend/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log, err := logger.Init(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Initialize database connections
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to initialize databases", zap.Error(err))
	}
	defer db.CloseDB()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Firebase is required for the Firestore store and optional otherwise
	// (it only adds Firebase ID-token login).
	firebaseApp, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, cfg.StoreBackend == config.StoreFirestore)
	if err != nil {
		if cfg.StoreBackend == config.StoreFirestore {
			log.Fatal("Failed to initialize Firebase", zap.Error(err))
		}
		log.Warn("Firebase disabled", zap.Error(err))
	}
	if firebaseApp != nil {
		defer firebaseApp.Close()
	}

	deps := router.Deps{
		Postgres:  db.Postgres,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	}
	if firebaseApp != nil {
		deps.TokenVerifier = firebaseApp.AuthClient
	}

	switch cfg.StoreBackend {
	case config.StoreFirestore:
		deps.Connections = repositories.NewFirestoreConnectionRepository(firebaseApp.Firestore)
	case config.StoreMongo:
		repo := repositories.NewMongoConnectionRepository(db.Mongo.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Fatal("Failed to create MongoDB indexes", zap.Error(err))
		}
		deps.Connections = repo
	case config.StoreMemory:
		log.Warn("Using the in-memory connection store; data is lost on restart")
		deps.Connections = repositories.NewMemoryConnectionRepository()
	default:
		log.Fatal("Unknown STORE_BACKEND", zap.String("backend", cfg.StoreBackend))
	}
	log.Info("Connection store ready", zap.String("backend", cfg.StoreBackend))

	if db.Redis != nil {
		deps.Presence = repositories.NewRedisPresenceRepository(db.Redis, cfg.PresenceTTL)
	}

	if cfg.NatsURL != "" {
		nc, err := notify.ConnectNATS(cfg.NatsURL, "nearme-api")
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		natsNotifier := notify.NewNATSNotifier(nc)
		defer natsNotifier.Close()
		deps.Notifiers = append(deps.Notifiers, natsNotifier)
		log.Info("Publishing notifications to NATS", zap.String("url", cfg.NatsURL))
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()
	e.HTTPErrorHandler = handlers.HTTPErrorHandler(log)

	config.SetupMiddleware(e, log)

	if _, err := router.SetupRoutes(e, deps); err != nil {
		log.Fatal("Failed to set up routes", zap.Error(err))
	}

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", zap.Error(err))
		}
	}()
	log.Info("Server started", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}
