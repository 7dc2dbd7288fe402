package invoice

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"goldledger/internal/domain"
	"goldledger/internal/pricing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

var ErrInvoiceCancelled = errors.New("invoice is cancelled")

// ValidationErrors maps a request field path (items.0.quantity) to a message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+v[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type ItemRequest struct {
	InventoryItemID int64 `json:"inventory_item_id" validate:"required,gt=0"`
	Quantity        int   `json:"quantity" validate:"gte=1,lte=1000000"`
}

type Request struct {
	CustomerID       int64                `json:"customer_id" validate:"required,gt=0"`
	InvoiceDate      string               `json:"invoice_date"`
	DueDate          string               `json:"due_date"`
	Status           domain.InvoiceStatus `json:"status" validate:"omitempty,oneof=draft issued paid"`
	GoldPricePerGram decimal.Decimal      `json:"gold_price_per_gram"`
	LaborPercentage  *decimal.Decimal     `json:"labor_percentage"`
	ProfitPercentage *decimal.Decimal     `json:"profit_percentage"`
	TaxPercentage    *decimal.Decimal     `json:"tax_percentage"`
	Notes            string               `json:"notes" validate:"max=2000"`
	Items            []ItemRequest        `json:"items" validate:"required,min=1,dive"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateInvoiceData checks the request shape, dates, customer and the
// pricing inputs of every line. It reads from the store but never writes.
func (o *Orchestrator) ValidateInvoiceData(ctx context.Context, req Request) ValidationErrors {
	errs := make(ValidationErrors)

	if err := o.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs[fieldPath(fe.Namespace())] = fieldMessage(fe)
			}
		} else {
			errs["request"] = err.Error()
		}
	}

	invoiceDate, dateOK := o.parseDate(req.InvoiceDate, "invoice_date", errs)
	if req.DueDate != "" {
		due, err := time.Parse(DateLayout, req.DueDate)
		if err != nil {
			errs["due_date"] = "due_date must be a date in YYYY-MM-DD format"
		} else if dateOK && due.Before(invoiceDate) {
			errs["due_date"] = "due_date cannot be before invoice_date"
		}
	}

	if req.GoldPricePerGram.IsNegative() {
		errs["gold_price_per_gram"] = "gold price per gram cannot be negative"
	}
	labor, profit, tax := o.percentages(req)
	percentages := pricing.ValidatePricingParams(pricing.Params{
		Weight:           decimal.NewFromInt(1),
		PricePerGram:     decimal.NewFromInt(1),
		LaborPercentage:  labor,
		ProfitPercentage: profit,
		TaxPercentage:    tax,
		Quantity:         1,
	})
	for key, msg := range percentages {
		errs[key] = msg
	}

	if req.CustomerID > 0 {
		exists, err := o.db.CustomerExists(ctx, req.CustomerID)
		switch {
		case err != nil:
			errs["customer_id"] = "customer could not be verified"
		case !exists:
			errs["customer_id"] = "customer does not exist"
		}
	}

	validateItemTotals(req, errs)

	if len(req.Items) > 0 && !req.GoldPricePerGram.IsNegative() {
		o.validateLines(ctx, req, labor, profit, tax, errs)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateLines runs the per-line pricing checks for items that exist.
// Unknown items are left to the availability check.
func (o *Orchestrator) validateLines(ctx context.Context, req Request, labor, profit, tax decimal.Decimal, errs ValidationErrors) {
	ids := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.InventoryItemID)
	}
	items, err := o.db.GetInventoryItems(ctx, ids)
	if err != nil {
		errs["items"] = "inventory items could not be loaded"
		return
	}

	for i, line := range req.Items {
		item, ok := items[line.InventoryItemID]
		if !ok || line.Quantity <= 0 {
			continue
		}
		prefix := fmt.Sprintf("items.%d.", i)
		if req.GoldPricePerGram.IsZero() {
			if !item.UnitPrice.Valid {
				errs[prefix+"inventory_item_id"] = "item has no unit price; gold_price_per_gram is required"
			}
			continue
		}
		lineErrs := pricing.ValidatePricingParams(pricing.Params{
			Weight:           item.Weight,
			PricePerGram:     req.GoldPricePerGram,
			LaborPercentage:  labor,
			ProfitPercentage: profit,
			TaxPercentage:    tax,
			Quantity:         line.Quantity,
		})
		for key, msg := range lineErrs {
			switch key {
			case "weight", "quantity":
				errs[prefix+key] = msg
			}
		}
	}
}

// validateItemTotals rejects requests whose lines for one item add up to more
// than domain.MaxQuantity. The first line that crosses the bound is reported.
func validateItemTotals(req Request, errs ValidationErrors) {
	totals := make(map[int64]int, len(req.Items))
	for i, line := range req.Items {
		if line.Quantity <= 0 || line.Quantity > domain.MaxQuantity {
			continue
		}
		sum, err := domain.AddQuantity(totals[line.InventoryItemID], line.Quantity)
		if err != nil {
			errs[fmt.Sprintf("items.%d.quantity", i)] = fmt.Sprintf("total quantity for this item cannot exceed %d", domain.MaxQuantity)
			continue
		}
		totals[line.InventoryItemID] = sum
	}
}

func (o *Orchestrator) parseDate(value, field string, errs ValidationErrors) (time.Time, bool) {
	if value == "" {
		now := o.now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), true
	}
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		errs[field] = field + " must be a date in YYYY-MM-DD format"
		return time.Time{}, false
	}
	return parsed, true
}

func (o *Orchestrator) percentages(req Request) (labor, profit, tax decimal.Decimal) {
	labor, profit, tax = o.defaults.LaborPercentage, o.defaults.ProfitPercentage, o.defaults.TaxPercentage
	if req.LaborPercentage != nil {
		labor = *req.LaborPercentage
	}
	if req.ProfitPercentage != nil {
		profit = *req.ProfitPercentage
	}
	if req.TaxPercentage != nil {
		tax = *req.TaxPercentage
	}
	return labor, profit, tax
}

// fieldPath turns "Request.items[0].quantity" into "items.0.quantity".
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	namespace = strings.ReplaceAll(namespace, "[", ".")
	return strings.ReplaceAll(namespace, "]", "")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s entries", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}
