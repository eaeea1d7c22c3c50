// Package sweeper runs the periodic reconciliation jobs: hold expiry, order
// expiry and admission promotion.  Each job is a Loop guarded by a named
// distributed lock so that only one node sweeps at a time.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/lock"
)

// Result counts what one sweep did.
type Result struct {
	Scanned   int
	Processed int
	Failed    int
}

// Func performs one sweep.
type Func func(ctx context.Context) (Result, error)

// Loop runs Sweep every Interval while holding the lock "sweep:<Name>".
type Loop struct {
	Name     string
	Interval time.Duration
	LockTTL  time.Duration
	Locker   lock.Locker
	Sweep    Func
	Logger   *slog.Logger
}

// LockName is the name of the distributed lock guarding the loop.
func (l *Loop) LockName() string { return "sweep:" + l.Name }

func (l *Loop) logger() *slog.Logger {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "sweeper", "sweep", l.Name)
}

// Run sweeps on every tick until ctx is cancelled.  Errors and panics of a
// single sweep are logged and never stop the loop.
func (l *Loop) Run(ctx context.Context) {
	logger := l.logger()
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	logger.Info("sweeper started", "interval", l.Interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			_, _, _ = l.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single locked sweep.  ran is false when another owner
// held the lock; that is not an error.  The sweep runs under a deadline
// shorter than the lock TTL so that it stops before another node can take
// the lock over; unfinished records are left for the next run.
func (l *Loop) RunOnce(ctx context.Context) (ran bool, res Result, err error) {
	logger := l.logger()
	started := time.Now()
	ttl := l.lockTTL()
	err = lock.Do(ctx, l.Locker, l.LockName(), ttl, func(lctx context.Context) (err error) {
		sctx, cancel := context.WithTimeout(lctx, sweepBudget(ttl))
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sweep %s panicked: %v", l.Name, r)
			}
		}()
		res, err = l.Sweep(sctx)
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && lctx.Err() == nil {
			logger.Warn("sweep stopped at lock budget", "budget", sweepBudget(ttl), "error", err)
			err = nil
		}
		return err
	})
	if errors.Is(err, lock.ErrLockContention) {
		logger.Debug("lock held elsewhere, skipping")
		return false, Result{}, nil
	}
	attrs := []any{
		"scanned", res.Scanned, "processed", res.Processed, "failed", res.Failed,
		"duration", time.Since(started),
	}
	if err != nil {
		logger.Error("sweep failed", append(attrs, "error", err)...)
		return true, res, err
	}
	if res.Scanned > 0 || res.Failed > 0 {
		logger.Info("sweep done", attrs...)
	} else {
		logger.Debug("sweep done", attrs...)
	}
	return true, res, nil
}

// sweepBudget leaves a fifth of the lock TTL for the release.
func sweepBudget(ttl time.Duration) time.Duration {
	return ttl - ttl/5
}

func (l *Loop) lockTTL() time.Duration {
	if l.LockTTL > 0 {
		return l.LockTTL
	}
	return 30 * time.Second
}
