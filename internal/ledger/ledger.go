// Package ledger applies wallet mutations and records them as append-only
// point history entries in the same transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PointsSettlement/internal/models"
)

var (
	ErrNonPositiveAmount  = errors.New("points amount must be positive")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// WalletTx is the subset of a store transaction the ledger needs.
type WalletTx interface {
	GetWallet(ctx context.Context, userID int64) (int64, error)
	SetWallet(ctx context.Context, userID int64, points int64) error
	AppendHistory(ctx context.Context, h *models.UserPointHistory) error
}

type Entry struct {
	UserID       int64
	Points       int64
	Information  string
	OrderID      *int64
	OperationID  *int64
	ExtraData    map[string]any
	InternalData map[string]any
}

// Credit adds points and appends a RECEIVED entry.
func Credit(ctx context.Context, tx WalletTx, e Entry) (*models.UserPointHistory, error) {
	return apply(ctx, tx, e, models.PointsReceived)
}

// Debit removes points and appends a USED entry. The balance never goes negative.
func Debit(ctx context.Context, tx WalletTx, e Entry) (*models.UserPointHistory, error) {
	return apply(ctx, tx, e, models.PointsUsed)
}

func apply(ctx context.Context, tx WalletTx, e Entry, typ models.PointHistoryType) (*models.UserPointHistory, error) {
	if e.Points <= 0 {
		return nil, fmt.Errorf("user %d: %w (got %d)", e.UserID, ErrNonPositiveAmount, e.Points)
	}
	before, err := tx.GetWallet(ctx, e.UserID)
	if err != nil {
		return nil, fmt.Errorf("read wallet of user %d: %w", e.UserID, err)
	}

	now := before + e.Points
	if typ == models.PointsUsed {
		if before < e.Points {
			return nil, fmt.Errorf("user %d has %d, needs %d: %w", e.UserID, before, e.Points, ErrInsufficientPoints)
		}
		now = before - e.Points
	}

	if err := tx.SetWallet(ctx, e.UserID, now); err != nil {
		return nil, fmt.Errorf("write wallet of user %d: %w", e.UserID, err)
	}

	h := &models.UserPointHistory{
		UserID:       e.UserID,
		AmountBefore: before,
		AmountNow:    now,
		Type:         typ,
		Information:  e.Information,
		OrderID:      e.OrderID,
		OperationID:  e.OperationID,
		ExtraData:    e.ExtraData,
		InternalData: e.InternalData,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.AppendHistory(ctx, h); err != nil {
		return nil, fmt.Errorf("append history of user %d: %w", e.UserID, err)
	}
	return h, nil
}
