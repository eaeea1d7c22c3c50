// Package app wires configuration into the running components shared by
// the HTTP server and the maintenance command.
package app

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticketing-admission/internal/config"
	"github.com/iliyamo/ticketing-admission/internal/database"
	"github.com/iliyamo/ticketing-admission/internal/handler"
	"github.com/iliyamo/ticketing-admission/internal/lock"
	"github.com/iliyamo/ticketing-admission/internal/router"
	"github.com/iliyamo/ticketing-admission/internal/service"
	"github.com/iliyamo/ticketing-admission/internal/sweeper"
)

// Sweep names, also used as lock names and maintenance subcommands.
const (
	SweepSeatHolds = "seat-holds"
	SweepOrders    = "orders"
	SweepAdmission = "admission"
)

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Redis     *redis.Client // nil when Redis is disabled or unreachable
	Locker    lock.Locker
	Publisher service.Publisher
	Gate      *service.AdmissionGate
	Manager   *service.ReservationManager
	Loops     map[string]*sweeper.Loop

	closers []func() error
}

// New opens the database, connects the optional backends and builds the
// services and sweep loops.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		return nil, err
	}
	return NewWithDB(cfg, logger, db), nil
}

// NewWithDB builds the App on an already opened database.  The App takes
// ownership of db.
func NewWithDB(cfg config.Config, logger *slog.Logger, db *sql.DB) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	a.closers = append(a.closers, db.Close)

	a.Redis = config.NewRedisClient(cfg.Redis)
	if a.Redis != nil {
		a.Locker = lock.NewRedisLocker(a.Redis, cfg.Sweep.LockPrefix)
		a.closers = append(a.closers, a.Redis.Close)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	} else {
		a.Locker = lock.NewSQLLocker(db, nil)
		logger.Warn("redis unavailable, sweeps lock through the database and rate limiting is off")
	}

	if cfg.Notify.Enabled {
		pub := service.NewAMQPPublisher(cfg.Notify.URL, cfg.Notify.Exchange, logger)
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	} else {
		a.Publisher = service.NopPublisher{}
	}

	a.Gate = service.NewAdmissionGate(db, service.AdmissionConfig{
		Capacity:   cfg.Admission.Capacity,
		Lease:      cfg.Admission.Lease,
		Tolerance:  cfg.Admission.Tolerance,
		WaitingTTL: cfg.Admission.WaitingTTL,
	}, a.Publisher, logger, nil)
	a.Manager = service.NewReservationManager(db, cfg.HoldTTL, a.Publisher, logger, nil)
	a.Manager.SetMaxHoldTTL(cfg.HoldTTLMax)

	a.Loops = map[string]*sweeper.Loop{
		SweepSeatHolds: a.loop(SweepSeatHolds, cfg.Sweep.SeatHoldsInterval,
			sweeper.SeatHoldSweep(a.Manager, cfg.Sweep.BatchSize, logger)),
		SweepAdmission: a.loop(SweepAdmission, cfg.Sweep.AdmissionInterval,
			sweeper.AdmissionSweep(a.Gate, logger)),
	}
	if cfg.Payment.StatusURL != "" {
		payments := service.NewHTTPPaymentChecker(cfg.Payment.StatusURL, cfg.Payment.Timeout)
		a.Loops[SweepOrders] = a.loop(SweepOrders, cfg.Sweep.OrdersInterval,
			sweeper.OrderSweep(a.Manager, payments, cfg.Sweep.BatchSize, logger))
	} else {
		logger.Warn("PAYMENT_STATUS_URL not set, order sweep disabled")
	}
	return a
}

func (a *App) loop(name string, interval time.Duration, fn sweeper.Func) *sweeper.Loop {
	return &sweeper.Loop{
		Name:     name,
		Interval: interval,
		LockTTL:  a.Config.Sweep.LockTTL,
		Locker:   a.Locker,
		Sweep:    fn,
		Logger:   a.Logger,
	}
}

// Echo builds the HTTP server with every route registered.
func (a *App) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.Setup(e, a.Logger)
	router.RegisterRoutes(e, a.DB)
	deps := router.Deps{
		DB:        a.DB,
		Redis:     a.Redis,
		JWTSecret: a.Config.JWTSecret,
		RateLimit: a.Config.RateLimit,
		Gate:      a.Gate,
		Admission: handler.NewAdmissionHandler(a.Gate, a.Logger),
		Holds:     handler.NewHoldHandler(a.Manager, a.Logger),
		Logger:    a.Logger,
	}
	router.RegisterEvents(e, deps)
	router.RegisterAdmin(e, deps)
	return e
}

// Close releases every backend in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
