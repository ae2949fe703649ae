package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrNotSettled = errors.New("settlement status is not final")

type SettlementStatus string

const (
	SettlementNew      SettlementStatus = "NEW"
	SettlementPending  SettlementStatus = "PENDING"
	SettlementImported SettlementStatus = "IMPORTED"
	SettlementError    SettlementStatus = "ERROR"
	SettlementRejected SettlementStatus = "REJECTED"
)

// TransactionDetail is the inbound settlement payload. It is consumed once and not stored as-is.
type TransactionDetail struct {
	OrderID                int64            `json:"orderId"`
	Status                 SettlementStatus `json:"status"`
	MoneyAcknowledged      decimal.Decimal  `json:"moneyAcknowledged"`
	PaymentToolName        string           `json:"paymentToolName"`
	PaymentIdentifier      *string          `json:"paymentIdentifier,omitempty"`
	TransactionID          string           `json:"transactionId"`
	RequestData            string           `json:"requestData"`
	PaymentToolContactPage string           `json:"paymentToolContactPage"`
}

// Outcome is either Success or Failure.
type Outcome interface {
	outcome()
	Detail() TransactionDetail
}

type Success struct {
	Transaction TransactionDetail
}

type Failure struct {
	Transaction TransactionDetail
	Reason      string
}

func (Success) outcome() {}
func (Failure) outcome() {}

func (s Success) Detail() TransactionDetail { return s.Transaction }
func (f Failure) Detail() TransactionDetail { return f.Transaction }

// OutcomeOf classifies a settlement payload. Non-final statuses return ErrNotSettled.
func OutcomeOf(d TransactionDetail) (Outcome, error) {
	switch d.Status {
	case SettlementImported:
		return Success{Transaction: d}, nil
	case SettlementError, SettlementRejected:
		return Failure{Transaction: d, Reason: fmt.Sprintf("settlement reported %s", d.Status)}, nil
	case SettlementNew, SettlementPending:
		return nil, fmt.Errorf("order %d status %s: %w", d.OrderID, d.Status, ErrNotSettled)
	default:
		return nil, fmt.Errorf("order %d: unknown settlement status %q", d.OrderID, d.Status)
	}
}
