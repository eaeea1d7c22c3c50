package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticketing-admission/internal/config"
	"github.com/iliyamo/ticketing-admission/internal/handler"
	"github.com/iliyamo/ticketing-admission/internal/middleware"
)

// Deps bundles what the routes need.  Redis may be nil, in which case rate
// limiting is skipped.
type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	JWTSecret string
	RateLimit config.RateLimitConfig
	Gate      middleware.Admitter
	Admission *handler.AdmissionHandler
	Holds     *handler.HoldHandler
	Logger    *slog.Logger
}

// RegisterRoutes registers routes that do not require authentication:
// liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterEvents registers the per-event routes.  Every route runs JWTAuth
// and the rate limiter; everything under an event additionally passes the
// admission gate, so seat holds are only reachable by online users.
func RegisterEvents(e *echo.Echo, d Deps) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(d.JWTSecret))
	auth.Use(middleware.RateLimit(d.RateLimit, d.Redis, d.Logger))

	// Leaving does not pass the gate: a waiting user must be able to
	// give up their place.
	auth.DELETE("/events/:event_id/admission", d.Admission.Leave)

	ev := auth.Group("/events/:event_id")
	ev.Use(middleware.Admission(d.Gate, d.Logger))
	ev.GET("/admission", d.Admission.Check)
	ev.POST("/holds", d.Holds.Create)
	ev.GET("/holds/:hold_id", d.Holds.Get)
	ev.DELETE("/holds/:hold_id", d.Holds.Release)
	ev.POST("/holds/:hold_id/complete", d.Holds.Complete)
	ev.POST("/holds/:hold_id/order", d.Holds.Attach)
}

// RegisterAdmin registers operator routes for tuning an event's gate.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(d.JWTSecret))
	g.Use(middleware.RequireRole(middleware.RoleAdmin))
	g.GET("/events/:event_id/admission", d.Admission.Status)
	g.PUT("/events/:event_id/admission", d.Admission.Configure)
}

// Setup installs the global middleware: panic recovery, request IDs and
// structured access logs.
func Setup(e *echo.Echo, logger *slog.Logger) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
}
