//go:build integration

package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-admission/internal/database"
	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/repository"
)

// Run with a disposable MySQL database:
//
//	TEST_DB_HOST=localhost TEST_DB_NAME=ticketing_test go test -tags integration ./internal/service/
//
// Unlike OpenSQLite the pool here has many connections, so concurrent
// callers really race on the compare-and-swap updates and gate row locks.

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openMySQL(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("TEST_DB_HOST not set")
	}
	db, err := database.Open(
		getEnv("TEST_DB_USER", "root"),
		getEnv("TEST_DB_PASSWORD", ""),
		os.Getenv("TEST_DB_HOST"),
		getEnv("TEST_DB_PORT", "3306"),
		getEnv("TEST_DB_NAME", "ticketing_test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db, database.MySQL))
	for _, table := range []string{
		"ticket_orders", "orders", "seat_transaction_logs", "seat_holds",
		"seats", "admission_sessions", "admission_gates", "sweep_locks",
	} {
		_, err := db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return db
}

func TestMySQL_ConcurrentHoldsOnOneSeat(t *testing.T) {
	db := openMySQL(t)
	ctx := context.Background()
	seat := model.Seat{VenueID: 1, Label: "A-1", Status: model.SeatAvailable, UpdatedAt: time.Now().UTC()}
	require.NoError(t, repository.NewSeatRepo(db).Create(ctx, &seat))
	m := NewReservationManager(db, time.Minute, nil, nil, nil)

	const callers = 32
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		wins        int
		unavailable int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(user uint64) {
			defer wg.Done()
			_, err := m.BeginHold(ctx, seat.ID, user, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSeatUnavailable):
				unavailable++
			default:
				t.Errorf("user %d: %v", user, err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, unavailable)
	stored, err := repository.NewSeatRepo(db).Get(ctx, seat.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatInTransaction, stored.Status)
}

func TestMySQL_ConcurrentAdmissionsRespectCapacity(t *testing.T) {
	db := openMySQL(t)
	ctx := context.Background()
	g := NewAdmissionGate(db, AdmissionConfig{Capacity: 5, Lease: time.Minute}, nil, nil, nil)

	const users = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		decided = map[model.Decision]int{}
	)
	wg.Add(users)
	for i := 0; i < users; i++ {
		go func(user uint64) {
			defer wg.Done()
			res, err := g.Admit(ctx, 77, user)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("user %d: %v", user, err)
				return
			}
			decided[res.Decision]++
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 5, decided[model.DecisionOnline])
	assert.Equal(t, users-5, decided[model.DecisionWaiting])
	st, err := g.Status(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Online)
	assert.Equal(t, users-5, st.Waiting)
}
