package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-admission/internal/lock"
	"github.com/iliyamo/ticketing-admission/internal/sweeper"
	"github.com/iliyamo/ticketing-admission/internal/testutil"
)

func TestRun_Usage(t *testing.T) {
	cases := map[string][]string{
		"no command":   nil,
		"two commands": {"migrate", "sweep-orders"},
		"unknown":      {"vacuum"},
		"unknown flag": {"--nope", "migrate"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			assert.Equal(t, exitUsage, run(args, &out, &errOut))
			assert.Contains(t, errOut.String(), "usage: maintenance")
			assert.Empty(t, out.String())
		})
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_SECRET", "")
	var out, errOut bytes.Buffer
	code := run([]string{"--env-file", t.TempDir() + "/absent.env", "sweep-admission"}, &out, &errOut)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut.String(), "JWT_SECRET")
}

func TestRunSweep_ExitCodes(t *testing.T) {
	db := testutil.OpenSQLite(t)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	loop := func(res sweeper.Result, err error) *sweeper.Loop {
		return &sweeper.Loop{
			Name:    "seat-holds",
			LockTTL: time.Minute,
			Locker:  lock.NewSQLLocker(db, nil),
			Sweep:   func(context.Context) (sweeper.Result, error) { return res, err },
		}
	}
	ctx := context.Background()

	assert.Equal(t, exitOK, runSweep(ctx, loop(sweeper.Result{Scanned: 2, Processed: 2}, nil), logger))
	assert.Equal(t, exitOK, runSweep(ctx, loop(sweeper.Result{Scanned: 3, Processed: 2, Failed: 1}, nil), logger),
		"isolated record failures are retried by the next run")
	assert.Equal(t, exitError, runSweep(ctx, loop(sweeper.Result{}, errors.New("store down")), logger))

	held := loop(sweeper.Result{}, nil)
	other := lock.NewSQLLocker(db, nil)
	ok, err := other.Acquire(ctx, held.LockName(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, exitOK, runSweep(ctx, held, logger), "lock held elsewhere")
}
