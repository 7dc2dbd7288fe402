package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Line is either Dynamic or Static.
type Line interface {
	isLine()
}

// Dynamic prices a line from weight and gold price.
type Dynamic struct {
	Params Params
}

// Static prices a line from the inventory item's stored unit price.
type Static struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

func (Dynamic) isLine() {}
func (Static) isLine()  {}

func PriceLine(line Line) (Breakdown, error) {
	switch l := line.(type) {
	case Dynamic:
		return CalculateItemPrice(l.Params)
	case Static:
		return staticPrice(l)
	default:
		return Breakdown{}, fmt.Errorf("unsupported pricing line %T", line)
	}
}

func staticPrice(l Static) (Breakdown, error) {
	errs := make(map[string]string)
	if l.Quantity <= 0 {
		errs["quantity"] = "quantity must be greater than zero"
	}
	if l.UnitPrice.IsNegative() {
		errs["unit_price"] = "unit price cannot be negative"
	}
	if len(errs) > 0 {
		return Breakdown{}, &PricingError{Params: Params{Quantity: l.Quantity}, Errors: errs}
	}
	unit := roundMoney(l.UnitPrice)
	return Breakdown{
		BaseGoldCost: decimal.Zero,
		LaborCost:    decimal.Zero,
		Profit:       decimal.Zero,
		Tax:          decimal.Zero,
		UnitPrice:    unit,
		TotalPrice:   roundMoney(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))),
	}, nil
}
