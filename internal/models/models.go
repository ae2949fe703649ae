package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingUser       = errors.New("order has no user")
	ErrMultipleProducts  = errors.New("order has more than one product snapshot")
	ErrNoProduct         = errors.New("order has no product snapshot")
	ErrIllegalTransition = errors.New("illegal order transition")
)

type User struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	CompanyName string
	TaxID       string
	Address     AddressSnapshot
}

type Product struct {
	ID       int64
	Name     string
	Points   int64
	PriceNet decimal.Decimal
	Currency string
	Active   bool
}

type Order struct {
	ID                      int64
	UserID                  *int64
	Status                  OrderStatus
	Activated               bool
	Mailed                  bool
	TransferredToSettlement bool
	TargetCurrencyCode      string
	Payment                 PaymentProcessData
	Cost                    Cost
	Products                []ProductSnapshot
	UserData                UserDataSnapshot
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type PaymentProcessData struct {
	UnitPriceNet    decimal.Decimal
	UnitPriceGross  decimal.Decimal
	PaymentToolName string
	ToolData        ToolData
}

type Cost struct {
	TotalNet      decimal.Decimal
	TotalGross    decimal.Decimal
	TaxPercentage decimal.Decimal
	ExchangeRate  decimal.Decimal
	Currency      string
}

type ProductSnapshot struct {
	ProductID int64
	Name      string
	Points    int64
	PriceNet  decimal.Decimal
	Currency  string
}

type AddressSnapshot struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
}

// UserDataSnapshot is the buyer identity frozen at order time.
type UserDataSnapshot struct {
	UserID      int64
	FirstName   string
	LastName    string
	Email       string
	CompanyName string
	TaxID       string
	Address     AddressSnapshot
}

func SnapshotUser(u *User) UserDataSnapshot {
	return UserDataSnapshot{
		UserID:      u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		CompanyName: u.CompanyName,
		TaxID:       u.TaxID,
		Address:     u.Address,
	}
}

func SnapshotProduct(p *Product) ProductSnapshot {
	return ProductSnapshot{
		ProductID: p.ID,
		Name:      p.Name,
		Points:    p.Points,
		PriceNet:  p.PriceNet,
		Currency:  p.Currency,
	}
}

// Owner returns the owning user id; a missing user is an invariant violation.
func (o *Order) Owner() (int64, error) {
	if o.UserID == nil {
		return 0, fmt.Errorf("order %d: %w", o.ID, ErrMissingUser)
	}
	return *o.UserID, nil
}

func (o *Order) IsOwnedBy(userID int64) bool {
	return o.UserID != nil && *o.UserID == userID
}

// Product returns the single product snapshot of the order.
func (o *Order) Product() (ProductSnapshot, error) {
	switch len(o.Products) {
	case 0:
		return ProductSnapshot{}, fmt.Errorf("order %d: %w", o.ID, ErrNoProduct)
	case 1:
		return o.Products[0], nil
	default:
		return ProductSnapshot{}, fmt.Errorf("order %d has %d snapshots: %w", o.ID, len(o.Products), ErrMultipleProducts)
	}
}

func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// TransitionTo moves the order to a new status if the state machine allows it.
func (o *Order) TransitionTo(to OrderStatus) error {
	if !o.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// MergeToolData overwrites top-level keys and keeps everything else.
func (o *Order) MergeToolData(data map[string]any) {
	o.Payment.ToolData = o.Payment.ToolData.Merge(data)
}
