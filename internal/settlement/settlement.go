package settlement

import (
	"context"
	"time"

	"PointsSettlement/internal/models"

	"github.com/shopspring/decimal"
)

// Gateway is the external finances service that settles payments.
type Gateway interface {
	InsertTransaction(ctx context.Context, tx Transaction) error
	GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, error)
	GetTaxPercentage(ctx context.Context) (decimal.Decimal, error)
	GetMinMaxTransactionLimits(ctx context.Context, tool string) (Limits, error)
}

// StatusQuery looks up the settlement state of many orders or operations at
// once. Ids unknown to the remote side are simply absent from the result.
type StatusQuery interface {
	GetStatuses(ctx context.Context, kind string, ids []string) (map[string]Status, error)
}

const (
	KindOrder     = "order"
	KindOperation = "operation"
)

type Transaction struct {
	TransactionID   string          `json:"transactionId"`
	OrderID         int64           `json:"orderId"`
	UserID          int64           `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	NetAmount       decimal.Decimal `json:"netAmount"`
	TaxPercentage   decimal.Decimal `json:"taxPercentage"`
	Currency        string          `json:"currency"`
	PaymentToolName string          `json:"paymentToolName"`
	PaymentToolData map[string]any  `json:"paymentToolData"`
	Buyer           Buyer           `json:"buyer"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type Buyer struct {
	FirstName   string                 `json:"firstName"`
	LastName    string                 `json:"lastName"`
	Email       string                 `json:"email"`
	CompanyName string                 `json:"companyName,omitempty"`
	TaxID       string                 `json:"taxId,omitempty"`
	Address     models.AddressSnapshot `json:"address"`
}

type Limits struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Allows reports whether amount fits the limits. A zero max means unbounded.
func (l Limits) Allows(amount decimal.Decimal) bool {
	if amount.LessThan(l.Min) {
		return false
	}
	if l.Max.IsPositive() && amount.GreaterThan(l.Max) {
		return false
	}
	return true
}

type Status struct {
	Status            string          `json:"status"`
	PercentageDone    int             `json:"percentageDone"`
	ExternalID        string          `json:"externalId"`
	MoneyAcknowledged decimal.Decimal `json:"moneyAcknowledged"`
	PaymentToolName   string          `json:"paymentToolName"`
	TransactionID     string          `json:"transactionId"`
	RequestData       string          `json:"requestData"`
}

// Detail turns an order status into the same payload a live callback carries.
func (s Status) Detail(orderID int64) models.TransactionDetail {
	return models.TransactionDetail{
		OrderID:           orderID,
		Status:            models.SettlementStatus(s.Status),
		MoneyAcknowledged: s.MoneyAcknowledged,
		PaymentToolName:   s.PaymentToolName,
		TransactionID:     s.TransactionID,
		RequestData:       s.RequestData,
	}
}
