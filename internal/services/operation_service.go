package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PointsSettlement/internal/ledger"
	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/maintenance"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/notify"
	"PointsSettlement/internal/store"
)

// OperationService runs long external jobs paid for with points up front and
// returns points for the part that was not delivered.
type OperationService struct {
	Store       store.Transactor
	Notifier    notify.Sink
	Maintenance maintenance.Gate
	Now         func() time.Time
}

type StartOperationRequest struct {
	UserID     int64  `json:"-"`
	Points     int64  `json:"points"`
	Kind       string `json:"kind"`
	ExternalID string `json:"externalId"`
}

// StartOperation debits the points and creates a PENDING operation in one transaction.
func (s *OperationService) StartOperation(ctx context.Context, req StartOperationRequest) (*models.Operation, error) {
	if s.Maintenance != nil && s.Maintenance.IsDisabled(ctx) {
		return nil, logicErr(CodeMaintenance, "operations are temporarily disabled")
	}
	if req.UserID <= 0 {
		return nil, logicErr(CodeInvalidPayload, "missing user id")
	}
	if req.Points <= 0 {
		return nil, logicErr(CodeInvalidPayload, "points must be positive")
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" || strings.TrimSpace(req.ExternalID) == "" {
		return nil, logicErr(CodeInvalidPayload, "kind and external id are required")
	}

	var op *models.Operation
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetUser(ctx, req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return logicErr(CodeNotFound, "user %d not found", req.UserID)
			}
			return err
		}
		op = &models.Operation{
			UserID:      req.UserID,
			Kind:        kind,
			ExternalID:  req.ExternalID,
			Status:      models.OperationPending,
			SpentPoints: req.Points,
			CreatedAt:   s.now(),
		}
		if err := tx.CreateOperation(ctx, op); err != nil {
			if errors.Is(err, store.ErrDuplicateEntry) {
				return logicErr(CodeInvalidPayload, "operation %s already exists", req.ExternalID)
			}
			return err
		}
		opID := op.ID
		h, err := ledger.Debit(ctx, tx, ledger.Entry{
			UserID:      req.UserID,
			Points:      req.Points,
			Information: fmt.Sprintf("%s operation %d", kind, op.ID),
			OperationID: &opID,
			ExtraData:   map[string]any{"externalId": req.ExternalID},
		})
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientPoints) {
				return &LogicError{Code: CodeInsufficientPoints, Message: "not enough points", Err: err}
			}
			return err
		}
		op.SpendHistoryID = &h.ID
		return tx.UpdateOperation(ctx, op)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("operation started", "operation_id", op.ID, "user_id", op.UserID, "points", op.SpentPoints)
	return op, nil
}

// ApplyStatus records the remote status of an operation. It returns false
// when nothing changed or the operation already reached a terminal status.
func (s *OperationService) ApplyStatus(ctx context.Context, id int64, status models.OperationStatus, percentageDone int) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("operation %d: unknown status %q", id, status)
	}
	if percentageDone < 0 {
		percentageDone = 0
	}
	if percentageDone > 100 {
		percentageDone = 100
	}

	changed := false
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		op, err := tx.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		if op.Status == status && op.PercentageDone == percentageDone {
			return nil
		}
		if op.Status.IsTerminal() {
			logger.Warn("status change on finished operation ignored", "operation_id", id,
				"status", op.Status, "reported", status)
			return nil
		}
		op.Status = status
		op.PercentageDone = percentageDone
		changed = true
		return tx.UpdateOperation(ctx, op)
	})
	return changed, err
}

// Refund returns the undelivered share of a finished operation's points.
// An operation is refunded at most once; the returned bool reports whether
// this call closed it.
func (s *OperationService) Refund(ctx context.Context, id int64) (ledger.Refund, bool, error) {
	var (
		refund ledger.Refund
		done   bool
		userID int64
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		op, err := tx.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		if op.Refunded() {
			return nil
		}
		if op.Status != models.OperationPartiallyDone && op.Status != models.OperationError {
			return nil
		}
		userID = op.UserID

		refund = ledger.RefundAmount(op.Status, op.SpentPoints, op.PercentageDone)
		if refund.Anomaly {
			logger.Critical("errored operation reports progress, refunding in full",
				"operation_id", op.ID, "user_id", op.UserID, "percentage_done", op.PercentageDone,
				"spent_points", op.SpentPoints)
		}
		if refund.Points <= 0 {
			op.RefundClosed = true
			done = true
			return tx.UpdateOperation(ctx, op)
		}

		if op.SpendHistoryID != nil {
			spend, err := tx.GetHistory(ctx, *op.SpendHistoryID)
			if err != nil {
				return fmt.Errorf("spend entry of operation %d: %w", op.ID, err)
			}
			if spend.ReturnedPointsHistoryID != nil {
				return &FatalError{Code: CodeDoubleRefund, Err: fmt.Errorf(
					"operation %d: spend entry %d already refunded by %d", op.ID, spend.ID, *spend.ReturnedPointsHistoryID)}
			}
			if spend.Type != models.PointsUsed || spend.UserID != op.UserID {
				return &FatalError{Code: CodeDoubleRefund, Err: fmt.Errorf(
					"operation %d: spend entry %d is not a debit of user %d", op.ID, spend.ID, op.UserID)}
			}
		}

		opID := op.ID
		extra := map[string]any{"percentageDone": op.PercentageDone, "status": string(op.Status)}
		if op.SpendHistoryID != nil {
			extra["spendHistoryId"] = *op.SpendHistoryID
		}
		h, err := ledger.Credit(ctx, tx, ledger.Entry{
			UserID:      op.UserID,
			Points:      refund.Points,
			Information: fmt.Sprintf("refund for %s operation %d", op.Kind, op.ID),
			OperationID: &opID,
			ExtraData:   extra,
		})
		if err != nil {
			return err
		}
		if op.SpendHistoryID != nil {
			if err := tx.BindReturnedPoints(ctx, *op.SpendHistoryID, h.ID); err != nil {
				if errors.Is(err, store.ErrAlreadyBound) {
					return &FatalError{Code: CodeDoubleRefund, Err: fmt.Errorf("operation %d: %w", op.ID, err)}
				}
				return err
			}
		}
		op.ReturnedPointsHistoryID = &h.ID
		done = true
		return tx.UpdateOperation(ctx, op)
	})
	if err != nil {
		if IsFatal(err) {
			logger.Critical("refund aborted", "operation_id", id, "err", err)
		}
		return ledger.Refund{}, false, err
	}
	if done && refund.Points > 0 {
		logger.Info("operation refunded", "operation_id", id, "points", refund.Points)
		if s.Notifier != nil {
			payload := map[string]any{"operationId": id, "points": refund.Points}
			if err := s.Notifier.Send(ctx, userID, notify.TemplatePointsRefunded, payload); err != nil {
				logger.Warn("refund notification failed", "operation_id", id, "err", err)
			}
		}
	}
	return refund, done, nil
}

func (s *OperationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
