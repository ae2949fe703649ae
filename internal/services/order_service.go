package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/maintenance"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/pricing"
	"PointsSettlement/internal/settlement"
	"PointsSettlement/internal/store"

	"github.com/google/uuid"
)

type OrderService struct {
	Store          store.Transactor
	Gateway        settlement.Gateway
	Pricing        pricing.Service
	Maintenance    maintenance.Gate
	MaxFinishAge   time.Duration
	TargetCurrency string
	Now            func() time.Time
}

type PrepareRequest struct {
	UserID          int64          `json:"-"`
	ProductID       int64          `json:"productId"`
	PaymentToolName string         `json:"paymentToolName"`
	ToolData        map[string]any `json:"paymentToolData"`
	TargetCurrency  string         `json:"currency"`
}

// Prepare validates the request, prices the product and persists a PREPARED
// order together with its snapshots and cost. Nothing is sent to settlement yet.
func (s *OrderService) Prepare(ctx context.Context, req PrepareRequest) (*models.Order, error) {
	if err := s.checkMaintenance(ctx); err != nil {
		return nil, err
	}
	if req.UserID <= 0 {
		return nil, logicErr(CodeInvalidPayload, "missing user id")
	}
	if req.ProductID <= 0 {
		return nil, logicErr(CodeInvalidPayload, "missing product id")
	}
	tool := strings.TrimSpace(req.PaymentToolName)
	if tool == "" {
		return nil, logicErr(CodeInvalidPayload, "missing payment tool name")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.TargetCurrency))
	if currency == "" {
		currency = s.TargetCurrency
	}

	var order *models.Order
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetUser(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return logicErr(CodeNotFound, "user %d not found", req.UserID)
			}
			return err
		}
		product, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return logicErr(CodeProductUnavailable, "product %d not found", req.ProductID)
			}
			return err
		}
		if !product.Active || product.Points <= 0 {
			return logicErr(CodeProductUnavailable, "product %d is not available", product.ID)
		}

		quote, err := s.Pricing.Quote(ctx, product, currency)
		if err != nil {
			return fmt.Errorf("quote product %d: %w", product.ID, err)
		}
		limits, err := s.Gateway.GetMinMaxTransactionLimits(ctx, tool)
		if err != nil {
			return fmt.Errorf("limits for %s: %w", tool, err)
		}
		if !limits.Allows(quote.Cost.TotalGross) {
			return logicErr(CodeLimitExceeded, "amount %s %s is outside the limits of %s",
				quote.Cost.TotalGross, quote.Cost.Currency, tool)
		}

		uid := user.ID
		order = &models.Order{
			UserID:             &uid,
			Status:             models.OrderPrepared,
			TargetCurrencyCode: quote.Cost.Currency,
			Payment: models.PaymentProcessData{
				UnitPriceNet:    quote.UnitPriceNet,
				UnitPriceGross:  quote.UnitPriceGross,
				PaymentToolName: tool,
				ToolData:        models.ToolData(nil).Merge(req.ToolData),
			},
			Cost:      quote.Cost,
			Products:  []models.ProductSnapshot{models.SnapshotProduct(product)},
			UserData:  models.SnapshotUser(user),
			CreatedAt: s.now(),
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("order prepared", "order_id", order.ID, "user_id", req.UserID, "product_id", req.ProductID,
		"total_gross", order.Cost.TotalGross.String(), "currency", order.Cost.Currency)
	return order, nil
}

// Finish hands a PREPARED order over to settlement. The gateway call runs
// inside the transaction: a gateway failure leaves the order PREPARED.
func (s *OrderService) Finish(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	if err := s.checkMaintenance(ctx); err != nil {
		return nil, err
	}

	var order *models.Order
	var txID string
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := loadOwned(ctx, tx, orderID, userID)
		if err != nil {
			return err
		}
		if age := o.Age(s.now()); age > s.MaxFinishAge {
			return logicErr(CodeOrderTooOld, "order %d is %s old, limit is %s", o.ID, age.Round(time.Minute), s.MaxFinishAge)
		}
		if o.Status != models.OrderPrepared {
			return logicErr(CodeInvalidState, "order %d is %s", o.ID, o.Status)
		}
		if err := o.TransitionTo(models.OrderPending); err != nil {
			return logicErr(CodeInvalidState, "%v", err)
		}
		o.TransferredToSettlement = true
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		t := buildTransaction(o, userID, s.now())
		txID = t.TransactionID
		if err := s.Gateway.InsertTransaction(ctx, t); err != nil {
			logger.Error("settlement insert failed", "order_id", o.ID, "status_reached", o.Status,
				"transaction_id", txID, "err", err)
			return fmt.Errorf("insert transaction for order %d: %w", o.ID, err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("order transferred to settlement", "order_id", order.ID, "transaction_id", txID)
	return order, nil
}

// Cancel closes a PREPARED order. Cancelling twice succeeds.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order *models.Order
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := loadOwned(ctx, tx, orderID, userID)
		if err != nil {
			return err
		}
		order = o
		if o.Status == models.OrderCancelled {
			return nil
		}
		if o.Status != models.OrderPrepared {
			return logicErr(CodeInvalidState, "order %d is %s", o.ID, o.Status)
		}
		if err := o.TransitionTo(models.OrderCancelled); err != nil {
			return logicErr(CodeInvalidState, "%v", err)
		}
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// HandleError records a payment tool failure reported by the front end.
func (s *OrderService) HandleError(ctx context.Context, orderID, userID int64, payload map[string]any) (*models.Order, error) {
	var order *models.Order
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := loadOwned(ctx, tx, orderID, userID)
		if err != nil {
			return err
		}
		order = o
		if o.Status == models.OrderCancelled || o.Status == models.OrderError {
			return nil
		}
		if o.Status != models.OrderPrepared {
			return logicErr(CodeInvalidState, "order %d is %s", o.ID, o.Status)
		}
		if err := o.TransitionTo(models.OrderError); err != nil {
			return logicErr(CodeInvalidState, "%v", err)
		}
		o.MergeToolData(map[string]any{models.ToolDataErrorKey: payload})
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdatePaymentToolData merges data into the order's tool data. Status is untouched.
func (s *OrderService) UpdatePaymentToolData(ctx context.Context, orderID, userID int64, data map[string]any) (*models.Order, error) {
	if err := s.checkMaintenance(ctx); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, logicErr(CodeInvalidPayload, "empty payment tool data")
	}

	var order *models.Order
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := loadOwned(ctx, tx, orderID, userID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderPrepared {
			return logicErr(CodeInvalidState, "order %d is %s", o.ID, o.Status)
		}
		o.MergeToolData(data)
		order = o
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order *models.Order
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		o, err := loadOwned(ctx, tx, orderID, userID)
		order = o
		return err
	})
	return order, err
}

func (s *OrderService) checkMaintenance(ctx context.Context) error {
	if s.Maintenance != nil && s.Maintenance.IsDisabled(ctx) {
		return logicErr(CodeMaintenance, "purchases are temporarily disabled")
	}
	return nil
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func loadOwned(ctx context.Context, tx store.Tx, orderID, userID int64) (*models.Order, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, logicErr(CodeNotFound, "order %d not found", orderID)
		}
		return nil, err
	}
	if _, err := o.Owner(); err != nil {
		logger.Critical("order without user", "order_id", orderID)
		return nil, &FatalError{Code: CodeMissingUser, Err: err}
	}
	if !o.IsOwnedBy(userID) {
		return nil, logicErr(CodeNotOwner, "order %d does not belong to user %d", orderID, userID)
	}
	return o, nil
}

func buildTransaction(o *models.Order, userID int64, now time.Time) settlement.Transaction {
	return settlement.Transaction{
		TransactionID:   uuid.NewString(),
		OrderID:         o.ID,
		UserID:          userID,
		Amount:          o.Cost.TotalGross,
		NetAmount:       o.Cost.TotalNet,
		TaxPercentage:   o.Cost.TaxPercentage,
		Currency:        o.Cost.Currency,
		PaymentToolName: o.Payment.PaymentToolName,
		PaymentToolData: o.Payment.ToolData.Clone(),
		Buyer: settlement.Buyer{
			FirstName:   o.UserData.FirstName,
			LastName:    o.UserData.LastName,
			Email:       o.UserData.Email,
			CompanyName: o.UserData.CompanyName,
			TaxID:       o.UserData.TaxID,
			Address:     o.UserData.Address,
		},
		CreatedAt: now,
	}
}
