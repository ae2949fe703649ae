package worker

import (
	"context"
	"fmt"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/store"
)

// RefundOperations returns points for finished operations that have not been refunded yet.
func (w *Worker) RefundOperations(ctx context.Context) (Report, error) {
	var ops []*models.Operation
	err := w.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ops, err = tx.ListOperations(ctx, store.OperationFilter{
			Statuses:   []models.OperationStatus{models.OperationPartiallyDone, models.OperationError},
			Unrefunded: true,
			Limit:      w.batch(),
		})
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("list refundable operations: %w", err)
	}

	rep := Report{Checked: len(ops)}
	for _, op := range ops {
		r, done, err := w.Operations.Refund(ctx, op.ID)
		if err != nil {
			logger.Error("refund failed", "operation_id", op.ID, "err", err)
			rep.Failed++
			continue
		}
		if done && r.Points > 0 {
			rep.Applied++
		} else {
			rep.Skipped++
		}
	}
	return rep, nil
}

// ResendNotifications retries notifications for finished orders not yet mailed.
func (w *Worker) ResendNotifications(ctx context.Context) (Report, error) {
	mailed := false
	var orders []*models.Order
	err := w.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, store.OrderFilter{
			Statuses: []models.OrderStatus{models.OrderActivated, models.OrderError},
			Mailed:   &mailed,
			Limit:    w.batch(),
		})
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("list unmailed orders: %w", err)
	}

	rep := Report{Checked: len(orders)}
	for _, o := range orders {
		if err := w.Settlement.NotifyOrder(ctx, o.ID); err != nil {
			logger.Warn("notification retry failed", "order_id", o.ID, "err", err)
			rep.Failed++
			continue
		}
		rep.Applied++
	}
	return rep, nil
}
