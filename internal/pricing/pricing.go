// Package pricing computes jewelry line prices from weight, gold price and
// percentage markups. It holds no state and performs no I/O.
package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

const moneyPlaces = 2

type Params struct {
	Weight           decimal.Decimal `json:"weight"`
	PricePerGram     decimal.Decimal `json:"price_per_gram"`
	LaborPercentage  decimal.Decimal `json:"labor_percentage"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`
	TaxPercentage    decimal.Decimal `json:"tax_percentage"`
	Quantity         int             `json:"quantity"`
}

type Breakdown struct {
	BaseGoldCost decimal.Decimal `json:"base_gold_cost"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	Profit       decimal.Decimal `json:"profit"`
	Tax          decimal.Decimal `json:"tax"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

// PricingError reports out-of-domain numeric input together with the
// parameters that produced it.
type PricingError struct {
	Params Params
	Errors map[string]string
}

func (e *PricingError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for key := range e.Errors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Errors[key])
	}
	return fmt.Sprintf("invalid pricing parameters: %s", strings.Join(parts, "; "))
}

// ValidatePricingParams returns one message per offending field. Each check
// runs on its own, so a bad weight is reported even when every other field
// is also invalid.
func ValidatePricingParams(p Params) map[string]string {
	errs := make(map[string]string)
	if !p.Weight.IsPositive() {
		errs["weight"] = "weight must be greater than zero"
	}
	if !p.PricePerGram.IsPositive() {
		errs["price_per_gram"] = "price per gram must be greater than zero"
	}
	if p.Quantity <= 0 {
		errs["quantity"] = "quantity must be greater than zero"
	}
	if p.LaborPercentage.IsNegative() {
		errs["labor_percentage"] = "labor percentage cannot be negative"
	}
	if p.ProfitPercentage.IsNegative() {
		errs["profit_percentage"] = "profit percentage cannot be negative"
	}
	if p.TaxPercentage.IsNegative() {
		errs["tax_percentage"] = "tax percentage cannot be negative"
	}
	return errs
}

// CalculateItemPrice applies the markups at unit level and then projects
// them to the requested quantity. Components are multiplied by the quantity
// before rounding; unit and total price are rounded from the unrounded
// running values and are not the sum of the rounded components.
func CalculateItemPrice(p Params) (Breakdown, error) {
	if errs := ValidatePricingParams(p); len(errs) > 0 {
		return Breakdown{}, &PricingError{Params: p, Errors: errs}
	}

	qty := decimal.NewFromInt(int64(p.Quantity))

	baseUnit := p.Weight.Mul(p.PricePerGram)
	laborUnit := baseUnit.Mul(p.LaborPercentage).Div(hundred)
	subtotal1 := baseUnit.Add(laborUnit)
	profitUnit := subtotal1.Mul(p.ProfitPercentage).Div(hundred)
	subtotal2 := subtotal1.Add(profitUnit)
	taxUnit := subtotal2.Mul(p.TaxPercentage).Div(hundred)
	unitPrice := subtotal2.Add(taxUnit)
	totalPrice := unitPrice.Mul(qty)

	return Breakdown{
		BaseGoldCost: roundMoney(baseUnit.Mul(qty)),
		LaborCost:    roundMoney(laborUnit.Mul(qty)),
		Profit:       roundMoney(profitUnit.Mul(qty)),
		Tax:          roundMoney(taxUnit.Mul(qty)),
		UnitPrice:    roundMoney(unitPrice),
		TotalPrice:   roundMoney(totalPrice),
	}, nil
}

// roundMoney rounds half away from zero; every priced amount is positive so
// this is half-up.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}
