// Package server exposes the request engine and operator tooling over HTTP.
package server

import (
	"context"
	"log/slog"
	"time"

	"lfgkeeper/internal/cleanup"
	"lfgkeeper/internal/config"
	"lfgkeeper/internal/featureflags"
	"lfgkeeper/internal/ledger"
	"lfgkeeper/internal/middleware"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/notifications"
	"lfgkeeper/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the already-initialized collaborators the server routes to.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Requests *service.RequestService
	Sweeper  *cleanup.Sweeper
	Ledger   *ledger.Ledger
	Flags    *featureflags.Manager
	Events   notifications.Publisher
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	requests       *service.RequestService
	sweeper        *cleanup.Sweeper
	ledger         *ledger.Ledger
	featureFlags   *featureflags.Manager
	events         notifications.Publisher
}

var prom = fiberprometheus.New("lfgkeeper-api")

// NewServer builds the server and its fiber app.
func NewServer(d Deps) *Server {
	middleware.InitMiddleware(d.Config)

	s := &Server{
		config:         d.Config,
		db:             d.DB,
		redis:          d.Redis,
		promMiddleware: prom,
		requests:       d.Requests,
		sweeper:        d.Sweeper,
		ledger:         d.Ledger,
		featureFlags:   d.Flags,
		events:         d.Events,
	}

	app := fiber.New(fiber.Config{
		AppName: "lfgkeeper",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			slog.ErrorContext(c.UserContext(), "unhandled request error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, err)
		},
	})
	s.app = app
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return s
}

// App returns the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", middleware.AuthRequired)

	requests := api.Group("/requests")
	requests.Post("/", middleware.RateLimit(s.redis, middleware.Limit{Resource: "create_request", Max: 10, Window: time.Minute}), s.CreateRequest)
	requests.Get("/", s.ListRequests)
	requests.Post("/:id/cancel", s.CancelRequest)
	requests.Post("/:id/resend", s.ResendRequest)
	requests.Post("/:id/transition", middleware.ModeratorRequired, s.TransitionRequest)
	requests.Get("/:id", s.GetRequest)

	ops := api.Group("/ops", middleware.ModeratorRequired)
	ops.Post("/cleanup", s.RunCleanup)
	ops.Get("/ledger", s.GetLedgerStatus)
	ops.Post("/ledger/retry", s.RetryLedger)
	ops.Post("/ledger/:id/requeue", s.RequeueLedgerRecord)
	ops.Get("/feature-flags", s.GetFeatureFlags)
	ops.Post("/artifacts/deleted", s.ReportArtifactDeleted)
}

// LivenessCheck handles liveness checks
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck reports the database and Redis. Redis is optional: without it the
// engine runs on in-process stores, which is reported but not unhealthy.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unhealthy"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// Listen serves on the configured port until Shutdown.
func (s *Server) Listen() error {
	slog.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		slog.ErrorContext(ctx, "error shutting down HTTP server", slog.String("error", err.Error()))
		return err
	}
	return nil
}
