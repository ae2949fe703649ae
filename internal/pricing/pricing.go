package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"PointsSettlement/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RateSource provides exchange rates and the tax percentage applied to points.
type RateSource interface {
	GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, error)
	GetTaxPercentage(ctx context.Context) (decimal.Decimal, error)
}

type Service struct {
	Rates        RateSource
	BaseCurrency string
}

type Quote struct {
	Cost           models.Cost
	UnitPriceNet   decimal.Decimal
	UnitPriceGross decimal.Decimal
}

// Quote prices a product in the target currency. Totals are rounded to cents,
// unit prices to four places.
func (s Service) Quote(ctx context.Context, product *models.Product, targetCurrency string) (Quote, error) {
	if product.Points <= 0 {
		return Quote{}, fmt.Errorf("product %d has no points", product.ID)
	}
	if !product.PriceNet.IsPositive() {
		return Quote{}, fmt.Errorf("product %d has no price", product.ID)
	}

	from := product.Currency
	if from == "" {
		from = s.BaseCurrency
	}
	rate := decimal.NewFromInt(1)
	if !strings.EqualFold(from, targetCurrency) {
		r, err := s.Rates.GetExchangeRate(ctx, from, targetCurrency)
		if err != nil {
			return Quote{}, fmt.Errorf("exchange rate %s->%s: %w", from, targetCurrency, err)
		}
		if !r.IsPositive() {
			return Quote{}, fmt.Errorf("exchange rate %s->%s is %s", from, targetCurrency, r)
		}
		rate = r
	}

	tax, err := s.Rates.GetTaxPercentage(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("tax percentage: %w", err)
	}
	if tax.IsNegative() {
		return Quote{}, errors.New("tax percentage is negative")
	}

	totalNet := product.PriceNet.Mul(rate).Round(2)
	totalGross := totalNet.Mul(hundred.Add(tax)).Div(hundred).Round(2)
	points := decimal.NewFromInt(product.Points)

	return Quote{
		Cost: models.Cost{
			TotalNet:      totalNet,
			TotalGross:    totalGross,
			TaxPercentage: tax,
			ExchangeRate:  rate,
			Currency:      strings.ToUpper(targetCurrency),
		},
		UnitPriceNet:   totalNet.Div(points).Round(4),
		UnitPriceGross: totalGross.Div(points).Round(4),
	}, nil
}

// GrantedPoints converts an acknowledged amount into points using the order's
// frozen cost: floor(money * points / totalGross).
func GrantedPoints(cost models.Cost, product models.ProductSnapshot, money decimal.Decimal) int64 {
	if !cost.TotalGross.IsPositive() || product.Points <= 0 {
		return 0
	}
	return money.Mul(decimal.NewFromInt(product.Points)).Div(cost.TotalGross).Floor().IntPart()
}
