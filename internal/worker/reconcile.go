package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/settlement"
	"PointsSettlement/internal/store"
)

// Reconcile re-drives stuck orders and syncs running operations.
func (w *Worker) Reconcile(ctx context.Context) (Report, error) {
	orders, err := w.ReconcileOrders(ctx)
	if err != nil {
		return orders, err
	}
	ops, err := w.ReconcileOperations(ctx)
	return orders.add(ops), err
}

// ReconcileOrders asks settlement about orders left PENDING past the stuck
// threshold, and about recent checkouts still PREPARED whose finish may have
// reached settlement without being recorded locally. Final statuses go
// through ingestion like a live callback.
func (w *Worker) ReconcileOrders(ctx context.Context) (Report, error) {
	cutoff := w.now().Add(-w.StuckAfter)
	transferred := true
	var pending, prepared []*models.Order
	err := w.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		pending, err = tx.ListOrders(ctx, store.OrderFilter{
			Statuses:      []models.OrderStatus{models.OrderPending},
			CreatedBefore: cutoff,
			Transferred:   &transferred,
			Limit:         w.batch(),
		})
		if err != nil || w.PreparedLookback <= 0 {
			return err
		}
		// Listed separately so abandoned checkouts cannot crowd out pending orders.
		prepared, err = tx.ListOrders(ctx, store.OrderFilter{
			Statuses:      []models.OrderStatus{models.OrderPrepared},
			CreatedBefore: cutoff,
			CreatedAfter:  w.now().Add(-w.PreparedLookback),
			Limit:         w.batch(),
		})
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("list stuck orders: %w", err)
	}
	return w.redrive(ctx, append(pending, prepared...))
}

// FinishPending re-drives a single order regardless of its age.
func (w *Worker) FinishPending(ctx context.Context, orderID int64) (Report, error) {
	var order *models.Order
	err := w.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return w.redrive(ctx, []*models.Order{order})
}

func (w *Worker) redrive(ctx context.Context, orders []*models.Order) (Report, error) {
	rep := Report{Checked: len(orders)}
	if len(orders) == 0 {
		return rep, nil
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, strconv.FormatInt(o.ID, 10))
	}
	statuses, err := w.Statuses.GetStatuses(ctx, settlement.KindOrder, ids)
	if err != nil {
		return rep, fmt.Errorf("bulk order status: %w", err)
	}

	for _, o := range orders {
		st, ok := statuses[strconv.FormatInt(o.ID, 10)]
		if !ok {
			if o.Status == models.OrderPrepared {
				// Most PREPARED orders were simply never submitted.
				logger.Debug("prepared order unknown to settlement", "order_id", o.ID)
				rep.Skipped++
				continue
			}
			logger.Warn("order missing from settlement status response", "order_id", o.ID, "status", o.Status)
			rep.Missing++
			continue
		}
		outcome, err := models.OutcomeOf(st.Detail(o.ID))
		if err != nil {
			if errors.Is(err, models.ErrNotSettled) {
				rep.Skipped++
				continue
			}
			logger.Error("unusable settlement status", "order_id", o.ID, "err", err)
			rep.Failed++
			continue
		}
		if alreadyApplied(o, outcome) {
			rep.Skipped++
			continue
		}
		res, err := w.Settlement.Ingest(ctx, outcome)
		if err != nil {
			logger.Error("re-drive failed", "order_id", o.ID, "err", err)
			rep.Failed++
			continue
		}
		if res.Applied {
			rep.Applied++
		} else {
			rep.Skipped++
		}
	}
	return rep, nil
}

func alreadyApplied(o *models.Order, outcome models.Outcome) bool {
	switch outcome.(type) {
	case models.Success:
		return o.Activated
	case models.Failure:
		return o.Status == models.OrderError
	}
	return false
}

// ReconcileOperations copies remote status and progress onto running operations.
func (w *Worker) ReconcileOperations(ctx context.Context) (Report, error) {
	var ops []*models.Operation
	err := w.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ops, err = tx.ListOperations(ctx, store.OperationFilter{
			Statuses: []models.OperationStatus{models.OperationPending, models.OperationProcessing},
			Limit:    w.batch(),
		})
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("list running operations: %w", err)
	}
	rep := Report{Checked: len(ops)}
	if len(ops) == 0 {
		return rep, nil
	}

	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, strconv.FormatInt(op.ID, 10))
	}
	statuses, err := w.Statuses.GetStatuses(ctx, settlement.KindOperation, ids)
	if err != nil {
		return rep, fmt.Errorf("bulk operation status: %w", err)
	}

	for _, op := range ops {
		st, ok := statuses[strconv.FormatInt(op.ID, 10)]
		if !ok {
			logger.Warn("operation missing from status response", "operation_id", op.ID)
			rep.Missing++
			continue
		}
		if st.ExternalID != "" && st.ExternalID != op.ExternalID {
			logger.Error("operation external id mismatch", "operation_id", op.ID,
				"expected", op.ExternalID, "reported", st.ExternalID)
			rep.Failed++
			continue
		}
		changed, err := w.Operations.ApplyStatus(ctx, op.ID, models.OperationStatus(st.Status), st.PercentageDone)
		if err != nil {
			logger.Error("operation status sync failed", "operation_id", op.ID, "err", err)
			rep.Failed++
			continue
		}
		if changed {
			rep.Applied++
		} else {
			rep.Skipped++
		}
	}
	return rep, nil
}
