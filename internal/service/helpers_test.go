package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/repository"
	"github.com/iliyamo/ticketing-admission/internal/testutil"
)

type fixture struct {
	db    *sql.DB
	clock *testutil.Clock
	pub   *testutil.RecordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		db:    testutil.OpenSQLite(t),
		clock: testutil.NewClock(time.Time{}),
		pub:   &testutil.RecordingPublisher{},
	}
}

func (f *fixture) gate(cfg AdmissionConfig) *AdmissionGate {
	return NewAdmissionGate(f.db, cfg, f.pub, nil, f.clock.Now)
}

func (f *fixture) manager(ttl time.Duration) *ReservationManager {
	return NewReservationManager(f.db, ttl, f.pub, nil, f.clock.Now)
}

func (f *fixture) seat(t *testing.T, venueID uint64, status model.SeatStatus) model.Seat {
	t.Helper()
	s := model.Seat{VenueID: venueID, Label: "A-1", Status: status, UpdatedAt: f.clock.Now()}
	require.NoError(t, repository.NewSeatRepo(f.db).Create(context.Background(), &s))
	return s
}

func (f *fixture) seatStatus(t *testing.T, id uint64) model.SeatStatus {
	t.Helper()
	s, err := repository.NewSeatRepo(f.db).Get(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func (f *fixture) order(t *testing.T, userID uint64, expiresIn time.Duration) model.Order {
	t.Helper()
	now := f.clock.Now()
	o := model.Order{UserID: userID, ExpiredAt: now.Add(expiresIn), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repository.NewOrderRepo(f.db).Create(context.Background(), &o))
	return o
}
