package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"PointsSettlement/internal/ledger"
	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/notify"
	"PointsSettlement/internal/pricing"
	"PointsSettlement/internal/store"
)

const (
	CodeMissingProduct  = "missing_product"
	CodeDuplicateCredit = "duplicate_credit"

	toolDataSettlementKey = "settlement"
	grantedPointsKey      = "grantedPoints"
)

// SettlementService applies settlement outcomes to orders. It is the single
// entry point for callbacks, the event stream and reconciliation.
type SettlementService struct {
	Store    store.Transactor
	Notifier notify.Sink
}

type IngestResult struct {
	OrderID int64
	Status  models.OrderStatus
	// Applied is false when the outcome was already reflected on the order.
	Applied bool
	Points  int64
}

func (s *SettlementService) Ingest(ctx context.Context, outcome models.Outcome) (IngestResult, error) {
	var (
		res IngestResult
		err error
	)
	switch o := outcome.(type) {
	case models.Success:
		res, err = s.ingestSuccess(ctx, o)
	case models.Failure:
		res, err = s.ingestFailure(ctx, o)
	default:
		return IngestResult{}, fmt.Errorf("unsupported settlement outcome %T", outcome)
	}
	if err != nil {
		var fe *FatalError
		if errors.As(err, &fe) {
			d := outcome.Detail()
			logger.Critical("settlement ingestion aborted", "order_id", d.OrderID, "code", fe.Code,
				"transaction_id", d.TransactionID, "err", fe.Err)
		}
		return res, err
	}
	if res.Applied {
		if err := s.NotifyOrder(ctx, res.OrderID); err != nil {
			logger.Warn("notification deferred", "order_id", res.OrderID, "err", err)
		}
	}
	return res, nil
}

func (s *SettlementService) ingestSuccess(ctx context.Context, in models.Success) (IngestResult, error) {
	d := in.Transaction
	res := IngestResult{OrderID: d.OrderID}
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		order, err := getOrder(ctx, tx, d.OrderID)
		if err != nil {
			return err
		}
		res.Status = order.Status
		if order.Activated {
			return nil
		}
		if order.Status == models.OrderCancelled {
			return logicErr(CodeInvalidState, "order %d is cancelled", order.ID)
		}

		userID, err := order.Owner()
		if err != nil {
			return &FatalError{Code: CodeMissingUser, Err: err}
		}
		product, err := order.Product()
		if err != nil {
			if errors.Is(err, models.ErrMultipleProducts) {
				return &FatalError{Code: CodeMultipleProducts, Err: err}
			}
			return &FatalError{Code: CodeMissingProduct, Err: err}
		}
		points := pricing.GrantedPoints(order.Cost, product, d.MoneyAcknowledged)
		if points <= 0 {
			return &FatalError{Code: CodeNonPositivePoints, Err: fmt.Errorf(
				"order %d: %s %s acknowledged grants %d points", order.ID, d.MoneyAcknowledged, order.Cost.Currency, points)}
		}

		if err := order.TransitionTo(models.OrderActivated); err != nil {
			return logicErr(CodeInvalidState, "%v", err)
		}
		order.Activated = true
		// A PREPARED order can only be settled if its finish reached settlement.
		order.TransferredToSettlement = true
		order.Mailed = false
		order.MergeToolData(map[string]any{toolDataSettlementKey: settlementData(d, points)})
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		orderID := order.ID
		_, err = ledger.Credit(ctx, tx, ledger.Entry{
			UserID:      userID,
			Points:      points,
			Information: fmt.Sprintf("points purchase, order %d", order.ID),
			OrderID:     &orderID,
			ExtraData: map[string]any{
				"transactionId":   d.TransactionID,
				"paymentToolName": d.PaymentToolName,
			},
			InternalData: map[string]any{
				"moneyAcknowledged": d.MoneyAcknowledged.String(),
				"currency":          order.Cost.Currency,
			},
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateEntry) {
				return &FatalError{Code: CodeDuplicateCredit, Err: err}
			}
			return err
		}
		res.Status = order.Status
		res.Applied = true
		res.Points = points
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Applied {
		logger.Info("order activated", "order_id", res.OrderID, "points", res.Points, "transaction_id", d.TransactionID)
	}
	return res, nil
}

func (s *SettlementService) ingestFailure(ctx context.Context, in models.Failure) (IngestResult, error) {
	d := in.Transaction
	res := IngestResult{OrderID: d.OrderID}
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		order, err := getOrder(ctx, tx, d.OrderID)
		if err != nil {
			return err
		}
		res.Status = order.Status
		switch {
		case order.Status == models.OrderError:
			return nil
		case order.Activated, order.Status == models.OrderActivated:
			return logicErr(CodeInvalidState, "order %d is already activated", order.ID)
		case order.Status == models.OrderCancelled:
			return logicErr(CodeInvalidState, "order %d is cancelled", order.ID)
		}
		if _, err := order.Owner(); err != nil {
			return &FatalError{Code: CodeMissingUser, Err: err}
		}
		if err := order.TransitionTo(models.OrderError); err != nil {
			return logicErr(CodeInvalidState, "%v", err)
		}
		order.Mailed = false
		order.MergeToolData(map[string]any{models.ToolDataErrorKey: map[string]any{
			"reason":        in.Reason,
			"status":        string(d.Status),
			"transactionId": d.TransactionID,
			"requestData":   d.RequestData,
		}})
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		res.Status = order.Status
		res.Applied = true
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Applied {
		logger.Warn("order failed in settlement", "order_id", res.OrderID, "reason", in.Reason, "transaction_id", d.TransactionID)
	}
	return res, nil
}

// NotifyOrder sends the terminal-state notification of an order and marks it
// mailed. Orders already mailed or not yet terminal are skipped.
func (s *SettlementService) NotifyOrder(ctx context.Context, orderID int64) error {
	var order *models.Order
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := getOrder(ctx, tx, orderID)
		order = o
		return err
	})
	if err != nil {
		return err
	}
	if order.Mailed {
		return nil
	}

	var template string
	payload := map[string]any{"orderId": order.ID}
	switch order.Status {
	case models.OrderActivated:
		template = notify.TemplateOrderActivated
		if sd, ok := order.Payment.ToolData[toolDataSettlementKey].(map[string]any); ok {
			payload["points"] = sd[grantedPointsKey]
		}
	case models.OrderError:
		template = notify.TemplateOrderFailed
		payload["paymentToolName"] = order.Payment.PaymentToolName
	default:
		return nil
	}
	userID, err := order.Owner()
	if err != nil {
		return err
	}
	if s.Notifier == nil {
		return errors.New("no notification sink configured")
	}
	if err := s.Notifier.Send(ctx, userID, template, payload); err != nil {
		return fmt.Errorf("send %s for order %d: %w", template, order.ID, err)
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		o.Mailed = true
		return tx.UpdateOrder(ctx, o)
	})
}

func getOrder(ctx context.Context, tx store.Tx, orderID int64) (*models.Order, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, logicErr(CodeNotFound, "order %d not found", orderID)
		}
		return nil, err
	}
	return o, nil
}

func settlementData(d models.TransactionDetail, points int64) map[string]any {
	out := map[string]any{
		"transactionId":     d.TransactionID,
		"moneyAcknowledged": d.MoneyAcknowledged.String(),
		grantedPointsKey:    strconv.FormatInt(points, 10),
	}
	if d.PaymentIdentifier != nil {
		out["paymentIdentifier"] = *d.PaymentIdentifier
	}
	if d.PaymentToolContactPage != "" {
		out["paymentToolContactPage"] = d.PaymentToolContactPage
	}
	if d.RequestData != "" {
		out["requestData"] = d.RequestData
	}
	return out
}
