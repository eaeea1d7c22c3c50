package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-admission/internal/lock"
	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/queue"
	"github.com/iliyamo/ticketing-admission/internal/repository"
	"github.com/iliyamo/ticketing-admission/internal/service"
	"github.com/iliyamo/ticketing-admission/internal/testutil"
)

type env struct {
	db    *sql.DB
	clock *testutil.Clock
	pub   *testutil.RecordingPublisher
	mgr   *service.ReservationManager
}

func newEnv(t *testing.T, holdTTL time.Duration) *env {
	t.Helper()
	e := &env{
		db:    testutil.OpenSQLite(t),
		clock: testutil.NewClock(time.Time{}),
		pub:   &testutil.RecordingPublisher{},
	}
	e.mgr = service.NewReservationManager(e.db, holdTTL, e.pub, nil, e.clock.Now)
	return e
}

func (e *env) loop(name string, sweep Func) *Loop {
	return &Loop{Name: name, Interval: time.Second, LockTTL: time.Minute, Locker: lock.NewSQLLocker(e.db, e.clock.Now), Sweep: sweep}
}

func (e *env) seat(t *testing.T) model.Seat {
	t.Helper()
	s := model.Seat{VenueID: 1, Label: "C-3", Status: model.SeatAvailable, UpdatedAt: e.clock.Now()}
	require.NoError(t, repository.NewSeatRepo(e.db).Create(context.Background(), &s))
	return s
}

func (e *env) seatStatus(t *testing.T, id uint64) model.SeatStatus {
	t.Helper()
	s, err := repository.NewSeatRepo(e.db).Get(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func TestSeatHoldSweep_ExpiresLapsedHold(t *testing.T) {
	e := newEnv(t, 60*time.Second)
	ctx := context.Background()
	seat := e.seat(t)
	h, err := e.mgr.BeginHold(ctx, seat.ID, 1, 0)
	require.NoError(t, err)

	l := e.loop("seat-holds", SeatHoldSweep(e.mgr, 100, nil))

	ran, res, err := l.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Zero(t, res.Processed, "hold still live")

	e.clock.Advance(61 * time.Second)
	ran, res, err = l.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, Result{Scanned: 1, Processed: 1}, res)

	got, err := e.mgr.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldExpired, got.Status)
	assert.Equal(t, model.SeatAvailable, e.seatStatus(t, seat.ID))
	assert.Equal(t, []string{queue.SeatReleasedTopic(1)}, e.pub.Topics())

	// A second run finds nothing left to do.
	_, res, err = l.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, model.SeatAvailable, e.seatStatus(t, seat.ID))
}

func TestSeatHoldSweep_DrainsBacklogAcrossBatches(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()
	var seats []model.Seat
	for i := 0; i < 5; i++ {
		s := e.seat(t)
		seats = append(seats, s)
		_, err := e.mgr.BeginHold(ctx, s.ID, uint64(i+1), 0)
		require.NoError(t, err)
	}
	e.clock.Advance(2 * time.Minute)

	res, err := SeatHoldSweep(e.mgr, 2, nil)(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	for _, s := range seats {
		assert.Equal(t, model.SeatAvailable, e.seatStatus(t, s.ID))
	}
}

type fakeExpirer struct {
	holds []model.SeatHold // in deadline order
	fail  map[string]bool
	done  map[string]bool
}

func (f *fakeExpirer) ExpiredHolds(_ context.Context, after *model.SeatHold, limit int) ([]model.SeatHold, error) {
	var out []model.SeatHold
	skipping := after != nil
	for _, h := range f.holds {
		if skipping {
			skipping = h.ID != after.ID
			continue
		}
		if !f.done[h.ID] && len(out) < limit {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeExpirer) ExpireHold(_ context.Context, id string) (bool, error) {
	if f.fail[id] {
		return false, errors.New("deadlock")
	}
	f.done[id] = true
	return true, nil
}

func newFakeExpirer(ids []string, failing ...string) *fakeExpirer {
	f := &fakeExpirer{fail: map[string]bool{}, done: map[string]bool{}}
	for _, id := range ids {
		f.holds = append(f.holds, model.SeatHold{ID: id})
	}
	for _, id := range failing {
		f.fail[id] = true
	}
	return f
}

func TestSeatHoldSweep_IsolatesFailures(t *testing.T) {
	f := newFakeExpirer([]string{"a", "b", "c"}, "b")
	res, err := SeatHoldSweep(f, 10, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 3, Processed: 2, Failed: 1}, res)
	assert.True(t, f.done["a"])
	assert.True(t, f.done["c"])
}

func TestSeatHoldSweep_FailingHeadDoesNotStarveLaterHolds(t *testing.T) {
	f := newFakeExpirer([]string{"a", "b", "c", "d"}, "a", "b")
	res, err := SeatHoldSweep(f, 2, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 4, Processed: 2, Failed: 2}, res)
	assert.True(t, f.done["c"])
	assert.True(t, f.done["d"])

	// the next run only retries the failing ones
	res, err = SeatHoldSweep(f, 2, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 2, Failed: 2}, res)
}

func TestSeatHoldSweep_PagesPastFailuresInStore(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()
	var seats []model.Seat
	for i := 0; i < 3; i++ {
		s := e.seat(t)
		seats = append(seats, s)
		_, err := e.mgr.BeginHold(ctx, s.ID, uint64(i+1), 0)
		require.NoError(t, err)
		e.clock.Advance(time.Second)
	}
	e.clock.Advance(2 * time.Minute)

	// the two oldest holds fail every time
	first, err := e.mgr.ExpiredHolds(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	poisoned := map[string]bool{first[0].ID: true, first[1].ID: true}
	exp := failingExpirer{HoldExpirer: e.mgr, fail: poisoned}

	res, err := SeatHoldSweep(exp, 2, nil)(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 3, Processed: 1, Failed: 2}, res)
	assert.Equal(t, model.SeatAvailable, e.seatStatus(t, seats[2].ID))
}

type failingExpirer struct {
	HoldExpirer
	fail map[string]bool
}

func (f failingExpirer) ExpireHold(ctx context.Context, id string) (bool, error) {
	if f.fail[id] {
		return false, errors.New("lock wait timeout")
	}
	return f.HoldExpirer.ExpireHold(ctx, id)
}

func TestOrderSweep_SettlesEachOrderIndependently(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	orders := repository.NewOrderRepo(e.db)

	mk := func(user uint64) (model.Order, model.Seat) {
		now := e.clock.Now()
		o := model.Order{UserID: user, ExpiredAt: now.Add(time.Minute), CreatedAt: now, UpdatedAt: now}
		require.NoError(t, orders.Create(ctx, &o))
		s := e.seat(t)
		h, err := e.mgr.BeginHold(ctx, s.ID, user, 0)
		require.NoError(t, err)
		require.NoError(t, e.mgr.AttachHold(ctx, h.ID, o.ID))
		return o, s
	}
	paidOrder, paidSeat := mk(1)
	unpaidOrder, unpaidSeat := mk(2)
	brokenOrder, brokenSeat := mk(3)
	e.clock.Advance(2 * time.Minute)

	payments := service.PaymentCheckerFunc(func(_ context.Context, o model.Order) (bool, error) {
		switch o.ID {
		case paidOrder.ID:
			return true, nil
		case brokenOrder.ID:
			return false, errors.New("payment service down")
		}
		return false, nil
	})
	l := e.loop("orders", OrderSweep(e.mgr, payments, 100, nil))
	ran, res, err := l.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, Result{Scanned: 3, Processed: 2, Failed: 1}, res)

	status := func(id uint64) model.OrderStatus {
		o, err := orders.Get(ctx, id)
		require.NoError(t, err)
		return o.Status
	}
	assert.Equal(t, model.OrderCompleted, status(paidOrder.ID))
	assert.Equal(t, model.OrderCancelled, status(unpaidOrder.ID))
	assert.Equal(t, model.OrderPending, status(brokenOrder.ID))
	assert.Equal(t, model.SeatBooked, e.seatStatus(t, paidSeat.ID))
	assert.Equal(t, model.SeatAvailable, e.seatStatus(t, unpaidSeat.ID))
	assert.Equal(t, model.SeatInTransaction, e.seatStatus(t, brokenSeat.ID))

	// The broken order is retried and settles once payment answers.
	payments = service.PaymentCheckerFunc(func(context.Context, model.Order) (bool, error) { return false, nil })
	l.Sweep = OrderSweep(e.mgr, payments, 100, nil)
	_, res, err = l.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Processed: 1}, res)
	assert.Equal(t, model.OrderCancelled, status(brokenOrder.ID))
}

func TestOrderSweep_FailingHeadDoesNotStarveLaterOrders(t *testing.T) {
	e := newEnv(t, time.Hour)
	ctx := context.Background()
	orders := repository.NewOrderRepo(e.db)

	var ids []uint64
	for user := uint64(1); user <= 3; user++ {
		now := e.clock.Now()
		o := model.Order{UserID: user, ExpiredAt: now.Add(time.Minute), CreatedAt: now, UpdatedAt: now}
		require.NoError(t, orders.Create(ctx, &o))
		ids = append(ids, o.ID)
		e.clock.Advance(time.Second)
	}
	e.clock.Advance(2 * time.Minute)

	payments := service.PaymentCheckerFunc(func(_ context.Context, o model.Order) (bool, error) {
		if o.ID == ids[0] {
			return false, errors.New("payment service 502")
		}
		return true, nil
	})
	res, err := OrderSweep(e.mgr, payments, 1, nil)(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 3, Processed: 2, Failed: 1}, res)

	for i, want := range []model.OrderStatus{model.OrderPending, model.OrderCompleted, model.OrderCompleted} {
		o, err := orders.Get(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, o.Status, "order %d", i)
	}
}

func TestAdmissionSweep_PromotesWithoutRequests(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()
	gate := service.NewAdmissionGate(e.db, service.AdmissionConfig{
		Capacity: 1, Lease: time.Minute, Tolerance: 10 * time.Second,
	}, e.pub, nil, e.clock.Now)

	for _, event := range []uint64{1, 2} {
		_, err := gate.Admit(ctx, event, 10)
		require.NoError(t, err)
		a, err := gate.Admit(ctx, event, 20)
		require.NoError(t, err)
		require.Equal(t, model.DecisionWaiting, a.Decision)
	}
	e.clock.Advance(71 * time.Second)

	l := e.loop("admission", AdmissionSweep(gate, nil))
	_, res, err := l.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 2, Processed: 2}, res)
	assert.ElementsMatch(t, []string{
		queue.EventTopic(1, queue.KindUserPromoted),
		queue.EventTopic(2, queue.KindUserPromoted),
	}, e.pub.Topics())

	for _, event := range []uint64{1, 2} {
		st, err := gate.Status(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Online)
		assert.Zero(t, st.Waiting)
	}
}
