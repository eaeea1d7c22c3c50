package sweeper

import (
	"context"
	"log/slog"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// HoldExpirer is the part of the reservation manager the hold sweep uses.
type HoldExpirer interface {
	ExpiredHolds(ctx context.Context, after *model.SeatHold, limit int) ([]model.SeatHold, error)
	ExpireHold(ctx context.Context, holdID string) (bool, error)
}

// SeatHoldSweep expires pending holds past their deadline, batch by batch,
// one transaction per hold.  A hold that fails is logged, skipped for the
// rest of the run and retried on the next one.
func SeatHoldSweep(m HoldExpirer, batch int, logger *slog.Logger) Func {
	if batch <= 0 {
		batch = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Result, error) {
		var (
			res   Result
			after *model.SeatHold
		)
		for ctx.Err() == nil {
			holds, err := m.ExpiredHolds(ctx, after, batch)
			if err != nil {
				return res, err
			}
			for _, h := range holds {
				if ctx.Err() != nil {
					return res, nil
				}
				res.Scanned++
				ok, err := m.ExpireHold(ctx, h.ID)
				if err != nil {
					res.Failed++
					logger.Error("expire hold failed", "hold_id", h.ID, "seat_id", h.SeatID, "error", err)
					continue
				}
				if ok {
					res.Processed++
				}
			}
			// Continue after the last listed hold so that holds failing
			// every time cannot starve the ones behind them.
			if len(holds) < batch {
				break
			}
			after = &holds[len(holds)-1]
		}
		return res, nil
	}
}
