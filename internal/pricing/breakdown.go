package pricing

import "github.com/shopspring/decimal"

const (
	ComponentBaseGoldCost = "Base Gold Cost"
	ComponentLaborCost    = "Labor Cost"
	ComponentProfit       = "Profit"
	ComponentTax          = "Tax"
)

type Component struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type PriceBreakdown struct {
	Components []Component     `json:"components"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

func GetPriceBreakdown(p Params) (PriceBreakdown, error) {
	b, err := CalculateItemPrice(p)
	if err != nil {
		return PriceBreakdown{}, err
	}
	return PriceBreakdown{
		Components: []Component{
			{Name: ComponentBaseGoldCost, Amount: b.BaseGoldCost},
			{Name: ComponentLaborCost, Amount: b.LaborCost},
			{Name: ComponentProfit, Amount: b.Profit},
			{Name: ComponentTax, Amount: b.Tax},
		},
		UnitPrice:  b.UnitPrice,
		TotalPrice: b.TotalPrice,
	}, nil
}
