package sweeper

import (
	"context"
	"log/slog"

	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/service"
)

// OrderFinalizer is the part of the reservation manager the order sweep uses.
type OrderFinalizer interface {
	ExpiredOrders(ctx context.Context, after *model.Order, limit int) ([]model.Order, error)
	FinalizeOrder(ctx context.Context, orderID uint64, paid bool) (bool, error)
}

// OrderSweep settles pending orders whose payment window closed.  Each order
// is checked with the payment service and finalized in its own transaction;
// a failing order, including one whose payment lookup errors, is logged and
// retried on the next run.
func OrderSweep(m OrderFinalizer, payments service.PaymentChecker, batch int, logger *slog.Logger) Func {
	if batch <= 0 {
		batch = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Result, error) {
		var (
			res   Result
			after *model.Order
		)
		for ctx.Err() == nil {
			orders, err := m.ExpiredOrders(ctx, after, batch)
			if err != nil {
				return res, err
			}
			for _, o := range orders {
				if ctx.Err() != nil {
					return res, nil
				}
				res.Scanned++
				paid, err := payments.IsPaid(ctx, o)
				if err != nil {
					res.Failed++
					logger.Warn("payment lookup failed", "order_id", o.ID, "error", err)
					continue
				}
				ok, err := m.FinalizeOrder(ctx, o.ID, paid)
				if err != nil {
					res.Failed++
					logger.Error("finalize order failed", "order_id", o.ID, "paid", paid, "error", err)
					continue
				}
				if ok {
					res.Processed++
					logger.Info("order finalized", "order_id", o.ID, "paid", paid)
				}
			}
			if len(orders) < batch {
				break
			}
			after = &orders[len(orders)-1]
		}
		return res, nil
	}
}
