package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/database"
	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/queue"
	"github.com/iliyamo/ticketing-admission/internal/repository"
)

// AdmissionConfig carries the gate defaults.  Capacity and Lease apply to
// events that were never configured explicitly.
type AdmissionConfig struct {
	Capacity   int
	Lease      time.Duration
	Tolerance  time.Duration // grace added to every lease deadline
	WaitingTTL time.Duration // waiting records older than this are dropped by Reconcile; 0 keeps them
}

// Admission is the result of one admission check.
type Admission struct {
	Decision        model.Decision
	EventID         uint64
	UserID          uint64
	ExpectedEndTime time.Time     // set when Online
	Position        int           // 1-based queue rank, set when Waiting
	Ahead           int           // Position - 1
	EstimatedWait   time.Duration // rough wait derived from lease and capacity
}

// GateStatus summarises an event's gate for operators.
type GateStatus struct {
	EventID  uint64        `json:"event_id"`
	Capacity int           `json:"capacity"`
	Lease    time.Duration `json:"-"`
	Online   int           `json:"online"`
	Waiting  int           `json:"waiting"`
}

// ReconcileResult counts what one reconciliation pass did.
type ReconcileResult struct {
	Evicted  int
	Promoted int
	Dropped  int
}

// AdmissionGate bounds how many users are online per event and queues the
// rest in arrival order.  All decisions for one event are serialized on
// that event's gate row; events never contend with each other.
type AdmissionGate struct {
	db     *sql.DB
	repo   *repository.AdmissionRepo
	cfg    AdmissionConfig
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewAdmissionGate wires a gate.  pub, logger and now may be nil.
func NewAdmissionGate(db *sql.DB, cfg AdmissionConfig, pub Publisher, logger *slog.Logger, now func() time.Time) *AdmissionGate {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &AdmissionGate{
		db:     db,
		repo:   repository.NewAdmissionRepo(db),
		cfg:    cfg,
		pub:    pub,
		logger: logger.With("component", "admission"),
		now:    now,
	}
}

func (g *AdmissionGate) defaults(eventID uint64) model.AdmissionGate {
	return model.AdmissionGate{EventID: eventID, Capacity: g.cfg.Capacity, Lease: g.cfg.Lease}
}

// Admit decides whether userID may use eventID now.  A user without a
// record is admitted when a slot is free and queued otherwise.
func (g *AdmissionGate) Admit(ctx context.Context, eventID, userID uint64) (Admission, error) {
	return g.admit(ctx, eventID, userID, false)
}

// Resume is Admit for a client that claims to already hold a record, for
// example one presenting an admission cookie.  If the record is gone the
// client is evicted instead of silently re-queued.
func (g *AdmissionGate) Resume(ctx context.Context, eventID, userID uint64) (Admission, error) {
	return g.admit(ctx, eventID, userID, true)
}

func (g *AdmissionGate) admit(ctx context.Context, eventID, userID uint64, resume bool) (Admission, error) {
	now := g.now().UTC()
	res := Admission{EventID: eventID, UserID: userID}
	var promoted []model.SessionRecord

	err := g.serialize(ctx, eventID, now, func(tx *sql.Tx, gate model.AdmissionGate) error {

		rec, err := g.repo.GetTx(ctx, tx, eventID, userID)
		found := err == nil
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return storage("load session", err)
		}

		if found && rec.Status == model.AdmissionOnline {
			if !rec.LeaseExpired(now, g.cfg.Tolerance) {
				res.Decision = model.DecisionOnline
				res.ExpectedEndTime = leaseEnd(rec)
				return nil
			}
			if _, err := g.repo.DeleteByIDTx(ctx, tx, rec.ID, model.AdmissionOnline); err != nil {
				return storage("evict session", err)
			}
			_, promoted, err = g.promoteTx(ctx, tx, gate, now)
			if err != nil {
				return err
			}
			res.Decision = model.DecisionEvicted
			return nil
		}

		_, promoted, err = g.promoteTx(ctx, tx, gate, now)
		if err != nil {
			return err
		}

		if found {
			rec, err = g.repo.GetTx(ctx, tx, eventID, userID)
			if err != nil {
				return storage("reload session", err)
			}
			if rec.Status == model.AdmissionOnline {
				res.Decision = model.DecisionOnline
				res.ExpectedEndTime = leaseEnd(rec)
				return nil
			}
			return g.fillWaiting(ctx, tx, gate, rec, &res)
		}

		if resume {
			res.Decision = model.DecisionEvicted
			return nil
		}

		online, err := g.repo.CountByStatusTx(ctx, tx, eventID, model.AdmissionOnline)
		if err != nil {
			return storage("count online", err)
		}
		rec = model.SessionRecord{EventID: eventID, UserID: userID, CreatedAt: now}
		if online < gate.Capacity {
			end := now.Add(gate.Lease)
			rec.Status = model.AdmissionOnline
			rec.StartTime, rec.ExpectedEndTime = &now, &end
		} else {
			rec.Status = model.AdmissionWaiting
		}
		if err := g.repo.CreateTx(ctx, tx, &rec); err != nil {
			return storage("create session", err)
		}
		if rec.Status == model.AdmissionOnline {
			res.Decision = model.DecisionOnline
			res.ExpectedEndTime = leaseEnd(rec)
			return nil
		}
		return g.fillWaiting(ctx, tx, gate, rec, &res)
	})
	if err != nil {
		return Admission{}, storage("admit", err)
	}

	g.notifyPromoted(ctx, promoted, now)
	if res.Decision == model.DecisionEvicted {
		g.logger.Info("session evicted", "event_id", eventID, "user_id", userID, "resume", resume)
	}
	return res, nil
}

// serialize runs fn in a transaction that holds the event's gate row lock.
// The row is created beforehand in its own statement so the locking
// transaction only ever updates an existing row.
func (g *AdmissionGate) serialize(ctx context.Context, eventID uint64, now time.Time, fn func(tx *sql.Tx, gate model.AdmissionGate) error) error {
	if err := g.repo.EnsureGate(ctx, g.defaults(eventID), now); err != nil {
		return storage("create gate", err)
	}
	return database.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		gate, err := g.repo.LockGateTx(ctx, tx, eventID, now)
		if err != nil {
			return storage("lock gate", err)
		}
		return fn(tx, gate)
	})
}

func leaseEnd(rec model.SessionRecord) time.Time {
	if rec.ExpectedEndTime == nil {
		return time.Time{}
	}
	return *rec.ExpectedEndTime
}

func (g *AdmissionGate) fillWaiting(ctx context.Context, tx *sql.Tx, gate model.AdmissionGate, rec model.SessionRecord, res *Admission) error {
	pos, err := g.repo.WaitingPositionTx(ctx, tx, rec)
	if err != nil {
		return storage("queue position", err)
	}
	res.Decision = model.DecisionWaiting
	res.Position = pos
	res.Ahead = pos - 1
	res.EstimatedWait = EstimateWait(pos, gate.Capacity, gate.Lease)
	return nil
}

// EstimateWait approximates how long the user at position waits: every
// lease period frees up to capacity slots.
func EstimateWait(position, capacity int, lease time.Duration) time.Duration {
	if position <= 0 || capacity <= 0 {
		return 0
	}
	rounds := (position + capacity - 1) / capacity
	return time.Duration(rounds) * lease
}

// promoteTx evicts every online record past its deadline plus tolerance and
// then fills free slots from the head of the queue.  The caller must hold
// the event's gate row.
func (g *AdmissionGate) promoteTx(ctx context.Context, tx *sql.Tx, gate model.AdmissionGate, now time.Time) (int, []model.SessionRecord, error) {
	expired, err := g.repo.ExpiredOnlineTx(ctx, tx, gate.EventID, now.Add(-g.cfg.Tolerance))
	if err != nil {
		return 0, nil, storage("list expired sessions", err)
	}
	evicted := 0
	for _, rec := range expired {
		ok, err := g.repo.DeleteByIDTx(ctx, tx, rec.ID, model.AdmissionOnline)
		if err != nil {
			return 0, nil, storage("evict session", err)
		}
		if ok {
			evicted++
		}
	}

	online, err := g.repo.CountByStatusTx(ctx, tx, gate.EventID, model.AdmissionOnline)
	if err != nil {
		return 0, nil, storage("count online", err)
	}
	free := gate.Capacity - online
	if free <= 0 {
		return evicted, nil, nil
	}
	waiting, err := g.repo.OldestWaitingTx(ctx, tx, gate.EventID, free)
	if err != nil {
		return 0, nil, storage("list waiting", err)
	}
	var promoted []model.SessionRecord
	end := now.Add(gate.Lease)
	for _, rec := range waiting {
		ok, err := g.repo.PromoteTx(ctx, tx, rec.ID, now, end)
		if err != nil {
			return 0, nil, storage("promote session", err)
		}
		if !ok {
			continue
		}
		start, stop := now, end
		rec.Status = model.AdmissionOnline
		rec.StartTime, rec.ExpectedEndTime = &start, &stop
		promoted = append(promoted, rec)
	}
	return evicted, promoted, nil
}

func (g *AdmissionGate) notifyPromoted(ctx context.Context, promoted []model.SessionRecord, now time.Time) {
	for _, rec := range promoted {
		g.logger.Info("session promoted", "event_id", rec.EventID, "user_id", rec.UserID)
		g.pub.Publish(ctx, queue.EventTopic(rec.EventID, queue.KindUserPromoted), queue.UserPromotedEvent{
			EventID:         rec.EventID,
			UserID:          rec.UserID,
			ExpectedEndTime: leaseEnd(rec),
			PromotedAt:      now,
		})
	}
}

// Leave removes the user's record, whatever its status, and hands a freed
// slot to the next waiting user.  It reports whether a record existed.
func (g *AdmissionGate) Leave(ctx context.Context, eventID, userID uint64) (bool, error) {
	now := g.now().UTC()
	var (
		removed  bool
		promoted []model.SessionRecord
	)
	err := g.serialize(ctx, eventID, now, func(tx *sql.Tx, gate model.AdmissionGate) (err error) {
		if removed, err = g.repo.DeleteTx(ctx, tx, eventID, userID); err != nil {
			return storage("delete session", err)
		}
		_, promoted, err = g.promoteTx(ctx, tx, gate, now)
		return err
	})
	if err != nil {
		return false, storage("leave", err)
	}
	g.notifyPromoted(ctx, promoted, now)
	return removed, nil
}

// Configure stores capacity and lease for an event.  Lowering capacity
// never evicts anyone; the online count drains as leases run out.
func (g *AdmissionGate) Configure(ctx context.Context, eventID uint64, capacity int, lease time.Duration) error {
	if capacity <= 0 {
		return fmt.Errorf("capacity %d: %w", capacity, ErrInvalidArgument)
	}
	if lease < time.Second {
		return fmt.Errorf("lease %s: %w", lease, ErrInvalidArgument)
	}
	gate := model.AdmissionGate{EventID: eventID, Capacity: capacity, Lease: lease}
	if err := g.repo.UpsertGate(ctx, gate, g.now().UTC()); err != nil {
		return storage("configure gate", err)
	}
	return nil
}

// Status reports the gate settings and current counts of an event.
func (g *AdmissionGate) Status(ctx context.Context, eventID uint64) (GateStatus, error) {
	gate, err := g.repo.Gate(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		gate = g.defaults(eventID)
	} else if err != nil {
		return GateStatus{}, storage("load gate", err)
	}
	online, waiting, err := g.repo.Counts(ctx, eventID)
	if err != nil {
		return GateStatus{}, storage("count sessions", err)
	}
	return GateStatus{EventID: eventID, Capacity: gate.Capacity, Lease: gate.Lease, Online: online, Waiting: waiting}, nil
}

// EventIDs lists events that currently have admission records.
func (g *AdmissionGate) EventIDs(ctx context.Context) ([]uint64, error) {
	ids, err := g.repo.ListEventIDs(ctx)
	if err != nil {
		return nil, storage("list events", err)
	}
	return ids, nil
}

// Reconcile runs one promotion pass for an event without a user request
// and drops abandoned waiting records when a waiting TTL is configured.
func (g *AdmissionGate) Reconcile(ctx context.Context, eventID uint64) (ReconcileResult, error) {
	now := g.now().UTC()
	var (
		out      ReconcileResult
		promoted []model.SessionRecord
	)
	err := g.serialize(ctx, eventID, now, func(tx *sql.Tx, gate model.AdmissionGate) (err error) {
		if g.cfg.WaitingTTL > 0 {
			n, err := g.repo.DeleteWaitingBeforeTx(ctx, tx, eventID, now.Add(-g.cfg.WaitingTTL))
			if err != nil {
				return storage("drop stale waiting", err)
			}
			out.Dropped = int(n)
		}
		out.Evicted, promoted, err = g.promoteTx(ctx, tx, gate, now)
		return err
	})
	if err != nil {
		return ReconcileResult{}, storage("reconcile", err)
	}
	out.Promoted = len(promoted)
	g.notifyPromoted(ctx, promoted, now)
	return out, nil
}
