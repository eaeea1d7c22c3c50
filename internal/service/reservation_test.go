package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/queue"
	"github.com/iliyamo/ticketing-admission/internal/repository"
)

func TestBeginHold_ClaimsAvailableSeat(t *testing.T) {
	f := newFixture(t)
	m := f.manager(10 * time.Minute)
	seat := f.seat(t, 3, model.SeatAvailable)

	h, err := m.BeginHold(context.Background(), seat.ID, 55, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, model.HoldPending, h.Status)
	assert.True(t, h.ExpiresAt.Equal(f.clock.Now().Add(10*time.Minute)))
	assert.Equal(t, model.SeatInTransaction, f.seatStatus(t, seat.ID))

	stored, err := m.GetHold(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), stored.UserID)

	history, err := m.SeatHistory(context.Background(), seat.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ActionHold, history[0].Action)
	assert.Equal(t, model.SeatAvailable, history[0].PreviousStatus)
	assert.Equal(t, model.SeatInTransaction, history[0].NewStatus)
}

func TestBeginHold_ConcurrentCallersOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	m := f.manager(10 * time.Minute)
	seat := f.seat(t, 3, model.SeatAvailable)

	const callers = 8
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		wins        []string
		unavailable int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			h, err := m.BeginHold(context.Background(), seat.ID, user, 0)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins = append(wins, h.ID)
				return
			}
			assert.ErrorIs(t, err, ErrSeatUnavailable)
			unavailable++
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Len(t, wins, 1)
	assert.Equal(t, callers-1, unavailable)
	n, err := repository.NewSeatHoldRepo(f.db).CountPendingBySeat(context.Background(), seat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBeginHold_Errors(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()

	_, err := m.BeginHold(ctx, 999, 1, 0)
	assert.ErrorIs(t, err, ErrSeatNotFound)

	booked := f.seat(t, 1, model.SeatBooked)
	_, err = m.BeginHold(ctx, booked.ID, 1, 0)
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	reserved := f.seat(t, 1, model.SeatReserved)
	_, err = m.BeginHold(ctx, reserved.ID, 1, 0)
	assert.ErrorIs(t, err, ErrSeatUnavailable)
}

func TestBeginHold_RejectsTTLAboveMaximum(t *testing.T) {
	f := newFixture(t)
	m := f.manager(10 * time.Minute)
	seat := f.seat(t, 3, model.SeatAvailable)
	ctx := context.Background()

	assert.Equal(t, 10*time.Minute, m.MaxHoldTTL(), "defaults to the hold TTL")
	_, err := m.BeginHold(ctx, seat.ID, 1, 10*365*24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t, seat.ID), "rejected before touching the seat")

	m.SetMaxHoldTTL(time.Minute)
	assert.Equal(t, 10*time.Minute, m.MaxHoldTTL(), "never below the default")

	m.SetMaxHoldTTL(30 * time.Minute)
	h, err := m.BeginHold(ctx, seat.ID, 1, 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, h.ExpiresAt.Equal(f.clock.Now().Add(30*time.Minute)))
}

func TestBeginHold_ReclaimsStaleHold(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	seat := f.seat(t, 1, model.SeatAvailable)

	old, err := m.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)

	_, err = m.BeginHold(ctx, seat.ID, 2, 0)
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	f.clock.Advance(time.Minute)
	fresh, err := m.BeginHold(ctx, seat.ID, 2, 0)
	require.NoError(t, err)

	prev, err := m.GetHold(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldExpired, prev.Status)
	assert.Equal(t, model.SeatInTransaction, f.seatStatus(t, seat.ID))
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Empty(t, f.pub.Messages(), "a seat re-held in the same transaction is never announced")
}

func TestReleaseHold_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	seat := f.seat(t, 8, model.SeatAvailable)

	h, err := m.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseHold(ctx, h.ID))
	require.NoError(t, m.ReleaseHold(ctx, h.ID))
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t, seat.ID))

	got, err := m.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, got.Status)

	assert.Equal(t, []string{queue.SeatReleasedTopic(8)}, f.pub.Topics())
	ev := f.pub.Messages()[0].Payload.(queue.SeatReleasedEvent)
	assert.Equal(t, queue.ReasonReleased, ev.Reason)
	assert.Equal(t, h.ID, ev.HoldID)

	assert.ErrorIs(t, m.ReleaseHold(ctx, "missing"), ErrHoldNotFound)
}

func TestCompleteHold(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	seat := f.seat(t, 1, model.SeatAvailable)

	h, err := m.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)
	require.NoError(t, m.CompleteHold(ctx, h.ID))
	assert.Equal(t, model.SeatBooked, f.seatStatus(t, seat.ID))

	assert.ErrorIs(t, m.CompleteHold(ctx, h.ID), ErrInvalidTransition)
	require.NoError(t, m.ReleaseHold(ctx, h.ID), "release of a completed hold is a no-op")
	assert.Equal(t, model.SeatBooked, f.seatStatus(t, seat.ID))
}

func TestCompleteHold_AfterExpiryFailsWithoutMutation(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	seat := f.seat(t, 1, model.SeatAvailable)

	h, err := m.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)
	f.clock.Advance(61 * time.Second)

	assert.ErrorIs(t, m.CompleteHold(ctx, h.ID), ErrHoldExpired)
	got, err := m.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldPending, got.Status)
	assert.Equal(t, model.SeatInTransaction, f.seatStatus(t, seat.ID))
}

func TestExpireHold(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	seat := f.seat(t, 4, model.SeatAvailable)

	h, err := m.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)

	ok, err := m.ExpireHold(ctx, h.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a live hold is not expired")

	f.clock.Advance(61 * time.Second)
	expired, err := m.ExpiredHolds(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	ok, err = m.ExpireHold(ctx, h.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t, seat.ID))

	ok, err = m.ExpireHold(ctx, h.ID)
	require.NoError(t, err)
	assert.False(t, ok, "expiring twice changes nothing")
}

func TestAttachHold(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	seat := f.seat(t, 1, model.SeatAvailable)
	h, err := m.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)

	mine := f.order(t, 1, 15*time.Minute)
	theirs := f.order(t, 2, 15*time.Minute)

	assert.ErrorIs(t, m.AttachHold(ctx, h.ID, theirs.ID), repository.ErrForbidden)
	assert.ErrorIs(t, m.AttachHold(ctx, h.ID, 999), ErrOrderNotFound)
	require.NoError(t, m.AttachHold(ctx, h.ID, mine.ID))

	got, err := m.GetHold(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, mine.ID, *got.OrderID)
}

func TestFinalizeOrder_Paid(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Hour)
	ctx := context.Background()
	orders := repository.NewOrderRepo(f.db)

	held := f.seat(t, 1, model.SeatAvailable)
	reserved := f.seat(t, 1, model.SeatReserved)
	o := f.order(t, 7, time.Minute)
	h, err := m.BeginHold(ctx, held.ID, 7, 0)
	require.NoError(t, err)
	require.NoError(t, m.AttachHold(ctx, h.ID, o.ID))
	require.NoError(t, orders.CreateTicket(ctx, &model.TicketOrder{OrderID: o.ID, TicketID: 1, SeatID: reserved.ID}))

	ok, err := m.FinalizeOrder(ctx, o.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, got.Status)
	assert.Equal(t, model.SeatBooked, f.seatStatus(t, held.ID))
	assert.Equal(t, model.SeatBooked, f.seatStatus(t, reserved.ID))
	hold, err := m.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldCompleted, hold.Status)

	ok, err = m.FinalizeOrder(ctx, o.ID, false)
	require.NoError(t, err)
	assert.False(t, ok, "a final order is left alone")
	assert.Equal(t, model.SeatBooked, f.seatStatus(t, held.ID))
}

func TestFinalizeOrder_Unpaid(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Hour)
	ctx := context.Background()
	orders := repository.NewOrderRepo(f.db)

	held := f.seat(t, 2, model.SeatAvailable)
	reserved := f.seat(t, 2, model.SeatReserved)
	o := f.order(t, 7, time.Minute)
	h, err := m.BeginHold(ctx, held.ID, 7, 0)
	require.NoError(t, err)
	require.NoError(t, m.AttachHold(ctx, h.ID, o.ID))
	ticket := model.TicketOrder{OrderID: o.ID, TicketID: 1, SeatID: reserved.ID}
	require.NoError(t, orders.CreateTicket(ctx, &ticket))

	ok, err := m.FinalizeOrder(ctx, o.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t, held.ID))
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t, reserved.ID))

	hold, err := m.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, hold.Status)

	tickets, err := orders.TicketsByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, model.TicketDeactivated, tickets[0].Status)

	assert.Equal(t, []string{queue.SeatReleasedTopic(2), queue.SeatReleasedTopic(2)}, f.pub.Topics())
}

func TestInTransactionMatchesPendingHold(t *testing.T) {
	f := newFixture(t)
	m := f.manager(time.Minute)
	ctx := context.Background()
	holds := repository.NewSeatHoldRepo(f.db)

	seats := []model.Seat{f.seat(t, 1, model.SeatAvailable), f.seat(t, 1, model.SeatAvailable), f.seat(t, 1, model.SeatAvailable)}
	h0, err := m.BeginHold(ctx, seats[0].ID, 1, 0)
	require.NoError(t, err)
	h1, err := m.BeginHold(ctx, seats[1].ID, 1, 0)
	require.NoError(t, err)
	_, err = m.BeginHold(ctx, seats[2].ID, 1, 0)
	require.NoError(t, err)
	require.NoError(t, m.ReleaseHold(ctx, h0.ID))
	require.NoError(t, m.CompleteHold(ctx, h1.ID))

	for _, s := range seats {
		n, err := holds.CountPendingBySeat(ctx, s.ID)
		require.NoError(t, err)
		inTx := f.seatStatus(t, s.ID) == model.SeatInTransaction
		assert.Equal(t, inTx, n == 1, "seat %d", s.ID)
		assert.LessOrEqual(t, n, 1)
	}
}
