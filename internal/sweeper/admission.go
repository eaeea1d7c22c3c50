package sweeper

import (
	"context"
	"log/slog"

	"github.com/iliyamo/ticketing-admission/internal/service"
)

// AdmissionReconciler is the part of the admission gate the sweep uses.
type AdmissionReconciler interface {
	EventIDs(ctx context.Context) ([]uint64, error)
	Reconcile(ctx context.Context, eventID uint64) (service.ReconcileResult, error)
}

// AdmissionSweep runs a promotion pass for every event with admission
// records, so a waiting user moves up even when nobody else sends a request
// for that event.
func AdmissionSweep(g AdmissionReconciler, logger *slog.Logger) Func {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Result, error) {
		var res Result
		ids, err := g.EventIDs(ctx)
		if err != nil {
			return res, err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			res.Scanned++
			r, err := g.Reconcile(ctx, id)
			if err != nil {
				res.Failed++
				logger.Error("reconcile event failed", "event_id", id, "error", err)
				continue
			}
			if r.Evicted+r.Promoted+r.Dropped > 0 {
				res.Processed++
				logger.Info("event reconciled", "event_id", id,
					"evicted", r.Evicted, "promoted", r.Promoted, "dropped", r.Dropped)
			}
		}
		return res, nil
	}
}
