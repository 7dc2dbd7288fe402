package excel

import (
	"fmt"
	"io"
	"math"
	"strings"

	"goldledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var headerAliases = map[string]string{
	"sku":           "sku",
	"code":          "sku",
	"item code":     "sku",
	"کد کالا":       "sku",
	"name":          "name",
	"item name":     "name",
	"product name":  "name",
	"نام کالا":      "name",
	"quantity":      "quantity",
	"qty":           "quantity",
	"counted":       "quantity",
	"تعداد":         "quantity",
	"weight":        "weight",
	"weight g":      "weight",
	"grams":         "weight",
	"وزن":           "weight",
	"gold purity":   "gold_purity",
	"purity":        "gold_purity",
	"karat":         "gold_purity",
	"عیار":          "gold_purity",
	"unit price":    "unit_price",
	"price":         "unit_price",
	"sell price":    "unit_price",
	"قیمت فروش":     "unit_price",
	"cost price":    "cost_price",
	"cost":          "cost_price",
	"قیمت خرید":     "cost_price",
	"minimum stock": "minimum_stock",
	"min stock":     "minimum_stock",
	"reorder level": "minimum_stock",
	"حداقل موجودی":  "minimum_stock",
}

var requiredColumns = []string{"sku", "quantity"}

// ParseStockTakeRows reads the first sheet of a stock-take workbook. The
// quantity column is the counted stock, not a delta. Blank optional cells
// come back as zero values.
func ParseStockTakeRows(reader io.Reader) ([]domain.StockImportRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, column := range requiredColumns {
		if _, ok := colMap[column]; !ok {
			return nil, fmt.Errorf("missing required column: %s", column)
		}
	}

	seen := make(map[string]int)
	result := make([]domain.StockImportRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		line := index + 1
		sku := strings.TrimSpace(readCell(cells, colMap["sku"]))
		if sku == "" {
			continue
		}
		key := strings.ToLower(sku)
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("row %d duplicates sku %q from row %d", line, sku, first)
		}
		seen[key] = line

		qty, err := parseInt(readCell(cells, colMap["quantity"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid quantity: %w", line, err)
		}
		if qty < 0 {
			return nil, fmt.Errorf("row %d invalid quantity: cannot be negative", line)
		}
		if qty > domain.MaxQuantity {
			return nil, fmt.Errorf("row %d invalid quantity: cannot exceed %d", line, domain.MaxQuantity)
		}

		row := domain.StockImportRow{
			SKU:      sku,
			Quantity: qty,
			Weight:   decimal.Zero,
		}
		if idx, ok := colMap["name"]; ok {
			if name := strings.TrimSpace(readCell(cells, idx)); name != "" {
				row.Name = name
			}
		}
		if idx, ok := colMap["gold_purity"]; ok {
			row.GoldPurity = strings.TrimSpace(readCell(cells, idx))
		}
		if idx, ok := colMap["weight"]; ok {
			if raw := strings.TrimSpace(readCell(cells, idx)); raw != "" {
				weight, err := parseDecimal(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid weight: %w", line, err)
				}
				row.Weight = weight
			}
		}
		if row.UnitPrice, err = optionalDecimal(cells, colMap, "unit_price"); err != nil {
			return nil, fmt.Errorf("row %d invalid unit_price: %w", line, err)
		}
		if row.CostPrice, err = optionalDecimal(cells, colMap, "cost_price"); err != nil {
			return nil, fmt.Errorf("row %d invalid cost_price: %w", line, err)
		}
		if idx, ok := colMap["minimum_stock"]; ok {
			if raw := strings.TrimSpace(readCell(cells, idx)); raw != "" {
				minimum, err := parseInt(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid minimum_stock: %w", line, err)
				}
				row.MinimumStock = minimum
			}
		}

		result = append(result, row)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func optionalDecimal(cells []string, colMap map[string]int, column string) (decimal.NullDecimal, error) {
	idx, ok := colMap[column]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	raw := strings.TrimSpace(readCell(cells, idx))
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	value, err := parseDecimal(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if value.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("cannot be negative")
	}
	return decimal.NewNullDecimal(value), nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.NewReplacer("_", " ", "(", " ", ")", " ").Replace(value)
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseInt(raw string) (int, error) {
	value, err := parseDecimal(raw)
	if err != nil {
		return 0, err
	}
	if !value.IsInteger() {
		return 0, fmt.Errorf("must be an integer")
	}
	if value.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, fmt.Errorf("out of range")
	}
	return int(value.IntPart()), nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	return parsed, nil
}
