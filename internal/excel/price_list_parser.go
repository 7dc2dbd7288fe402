package excel

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"goldledger/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	persianDigitsReplacer = strings.NewReplacer(
		"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
		"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
		"٬", ",", "٫", ".",
	)
	arabicDigitsReplacer = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	)
)

// ParsePriceListRows reads sku/unit_price rows from a CSV or Excel file. The
// format is picked from the extension and sniffed when the extension is
// unknown.
func ParsePriceListRows(fileName string, reader io.Reader) ([]domain.PriceListRow, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}

	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(fileName)))
	switch ext {
	case ".csv":
		rows, err := parseCSVRows(data)
		if err != nil {
			return nil, err
		}
		return parsePriceListTable(rows)
	case ".xlsx", ".xlsm":
		rows, err := parseExcelRows(data)
		if err != nil {
			return nil, err
		}
		return parsePriceListTable(rows)
	default:
		if rows, err := parseExcelRows(data); err == nil {
			if items, err := parsePriceListTable(rows); err == nil {
				return items, nil
			}
		}
		if rows, err := parseCSVRows(data); err == nil {
			if items, err := parsePriceListTable(rows); err == nil {
				return items, nil
			}
		}
		return nil, fmt.Errorf("unsupported or invalid price file format")
	}
}

func parseCSVRows(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	return rows, nil
}

func parseExcelRows(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
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
	return rows, nil
}

func parsePriceListTable(rows [][]string) ([]domain.PriceListRow, error) {
	colMap := mapColumns(rows[0])
	if _, ok := colMap["sku"]; !ok {
		return nil, fmt.Errorf("missing required column: sku")
	}
	if _, ok := colMap["unit_price"]; !ok {
		return nil, fmt.Errorf("missing required column: unit_price")
	}

	latest := make(map[string]int)
	result := make([]domain.PriceListRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		sku := strings.TrimSpace(readCell(cells, colMap["sku"]))
		rawPrice := normalizeNumericValue(readCell(cells, colMap["unit_price"]))
		if sku == "" || rawPrice == "" {
			continue
		}
		price, err := parseDecimal(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("row %d invalid unit_price: %w", index+1, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("row %d invalid unit_price: cannot be negative", index+1)
		}
		cost, err := optionalDecimal(normalizeCells(cells), colMap, "cost_price")
		if err != nil {
			return nil, fmt.Errorf("row %d invalid cost_price: %w", index+1, err)
		}

		row := domain.PriceListRow{SKU: sku, UnitPrice: price, CostPrice: cost}
		// a later row for the same sku wins
		key := strings.ToLower(sku)
		if pos, ok := latest[key]; ok {
			result[pos] = row
			continue
		}
		latest[key] = len(result)
		result = append(result, row)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("file has no valid price rows")
	}
	return result, nil
}

func normalizeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = normalizeNumericValue(cell)
	}
	return out
}

func normalizeNumericValue(raw string) string {
	value := strings.TrimSpace(raw)
	value = persianDigitsReplacer.Replace(value)
	value = arabicDigitsReplacer.Replace(value)
	return value
}
