package router

import (
	"fmt"

	"github.com/anonto42/nearme/backend/internal/handlers"
	"github.com/anonto42/nearme/backend/internal/middleware"
	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/notify"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the already-connected backends the routes are built on.
type Deps struct {
	Postgres    *gorm.DB
	Connections repositories.ConnectionRepository
	// Presence is optional; the presence routes are skipped without it.
	Presence repositories.PresenceRepository
	// Notifiers are extra sinks next to the log and the inbox, e.g. NATS.
	Notifiers     []notify.Notifier
	TokenVerifier middleware.TokenVerifier
	JWTSecret     string
	Log           *zap.Logger
}

// SetupRoutes migrates the relational tables, wires every handler and returns
// the connection service so callers can reuse it.
func SetupRoutes(e *echo.Echo, d Deps) (*services.ConnectionService, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	if err := d.Postgres.AutoMigrate(&models.Profile{}, &models.Notification{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("PostgreSQL auto-migrations completed")

	e.GET("/health", handlers.HealthCheck)

	// --- Repositories and services ---
	profileRepo := repositories.NewPostgresProfileRepository(d.Postgres)
	notificationRepo := repositories.NewPostgresNotificationRepository(d.Postgres)

	names, err := services.NewNameResolver(d.Presence, profileRepo, 4096, log)
	if err != nil {
		return nil, fmt.Errorf("name resolver: %w", err)
	}

	notifier := notify.Multi{notify.NewLogNotifier(log), notify.NewInboxNotifier(notificationRepo)}
	notifier = append(notifier, d.Notifiers...)

	svc := services.NewConnectionService(d.Connections, names, notifier, log)

	// --- Unprotected routes for authentication ---
	authGroup := e.Group("/api/v1/auth")
	handlers.NewAuthHandler(profileRepo, d.TokenVerifier, d.JWTSecret).RegisterAuthRoutes(authGroup)

	// --- Protected routes ---
	api := e.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(d.JWTSecret, d.TokenVerifier))

	handlers.NewProfileHandler(profileRepo, names).RegisterProfileRoutes(api)
	handlers.NewConnectionHandler(svc).RegisterConnectionRoutes(api)
	handlers.NewNotificationHandler(notificationRepo, profileRepo).RegisterNotificationRoutes(api)
	handlers.NewStreamHandler(svc, log).RegisterStreamRoutes(api)

	if d.Presence != nil {
		handlers.NewPresenceHandler(d.Presence, svc, names).RegisterPresenceRoutes(api)
		log.Info("Presence routes configured")
	} else {
		log.Warn("Redis not configured, presence routes disabled")
	}

	log.Info("All routes configured")
	return svc, nil
}
