package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

type MovementType string

const (
	MovementSale       MovementType = "sale"
	MovementReturn     MovementType = "return"
	MovementAdjustment MovementType = "adjustment"
)

const (
	ReferenceInvoice             = "invoice"
	ReferenceInvoiceCancellation = "invoice_cancellation"
	ReferenceStockImport         = "stock_import"
	ReferenceManualAdjustment    = "manual_adjustment"
)

type PricingMode string

const (
	PricingDynamic PricingMode = "dynamic"
	PricingStatic  PricingMode = "static"
)

type InventoryItem struct {
	ID           int64               `json:"id"`
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	CategoryID   *int64              `json:"category_id,omitempty"`
	Quantity     int                 `json:"quantity"`
	Weight       decimal.Decimal     `json:"weight"`
	GoldPurity   string              `json:"gold_purity"`
	UnitPrice    decimal.NullDecimal `json:"unit_price"`
	CostPrice    decimal.NullDecimal `json:"cost_price"`
	MinimumStock int                 `json:"minimum_stock"`
	IsActive     bool                `json:"is_active"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Shortfall is how many units the item is below its minimum stock.
func (i InventoryItem) Shortfall() int {
	if i.Quantity >= i.MinimumStock {
		return 0
	}
	return i.MinimumStock - i.Quantity
}

type InventoryMovement struct {
	ID              int64        `json:"id"`
	InventoryItemID int64        `json:"inventory_item_id"`
	Type            MovementType `json:"type"`
	Quantity        int          `json:"quantity"`
	ReferenceType   string       `json:"reference_type"`
	ReferenceID     *int64       `json:"reference_id,omitempty"`
	Notes           string       `json:"notes"`
	CreatedAt       time.Time    `json:"created_at"`
}

type Invoice struct {
	ID                 int64           `json:"id"`
	InvoiceNumber      string          `json:"invoice_number"`
	CustomerID         int64           `json:"customer_id"`
	InvoiceDate        time.Time       `json:"invoice_date"`
	DueDate            *time.Time      `json:"due_date,omitempty"`
	Status             InvoiceStatus   `json:"status"`
	GoldPricePerGram   decimal.Decimal `json:"gold_price_per_gram"`
	LaborPercentage    decimal.Decimal `json:"labor_percentage"`
	ProfitPercentage   decimal.Decimal `json:"profit_percentage"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Notes              string          `json:"notes"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Items              []InvoiceItem   `json:"items,omitempty"`
}

func (inv *Invoice) IsCancelled() bool {
	return inv.Status == InvoiceStatusCancelled
}

// RecalculateTotals derives the invoice aggregates from its items.
func (inv *Invoice) RecalculateTotals() {
	tax := decimal.Zero
	total := decimal.Zero
	for _, item := range inv.Items {
		tax = tax.Add(item.TaxAmount)
		total = total.Add(item.TotalPrice)
	}
	inv.TaxAmount = tax
	inv.TotalAmount = total
	inv.Subtotal = total.Sub(tax)
}

// ReservedQuantities sums item quantities per inventory item.
func (inv *Invoice) ReservedQuantities() (map[int64]int, error) {
	result := make(map[int64]int, len(inv.Items))
	for _, item := range inv.Items {
		sum, err := AddQuantity(result[item.InventoryItemID], item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("inventory item %d: %w", item.InventoryItemID, err)
		}
		result[item.InventoryItemID] = sum
	}
	return result, nil
}

type InvoiceItem struct {
	ID              int64           `json:"id"`
	InvoiceID       int64           `json:"invoice_id"`
	InventoryItemID int64           `json:"inventory_item_id"`
	Quantity        int             `json:"quantity"`
	Weight          decimal.Decimal `json:"weight"`
	GoldPurity      string          `json:"gold_purity"`
	PricingMode     PricingMode     `json:"pricing_mode"`
	BaseGoldCost    decimal.Decimal `json:"base_gold_cost"`
	LaborCost       decimal.Decimal `json:"labor_cost"`
	ProfitAmount    decimal.Decimal `json:"profit_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

type InvoiceEventType string

const (
	EventInvoiceCreated   InvoiceEventType = "invoice.created"
	EventInvoiceUpdated   InvoiceEventType = "invoice.updated"
	EventInvoiceCancelled InvoiceEventType = "invoice.cancelled"
)

// InvoiceEvent is an outbox row consumed by downstream bookkeeping.
type InvoiceEvent struct {
	ID          int64            `json:"id"`
	EventID     uuid.UUID        `json:"event_id"`
	InvoiceID   int64            `json:"invoice_id"`
	Type        InvoiceEventType `json:"type"`
	Payload     json.RawMessage  `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

type InvoiceEventLine struct {
	InventoryItemID int64           `json:"inventory_item_id"`
	Quantity        int             `json:"quantity"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

type InvoiceEventPayload struct {
	InvoiceID     int64              `json:"invoice_id"`
	InvoiceNumber string             `json:"invoice_number"`
	CustomerID    int64              `json:"customer_id"`
	Status        InvoiceStatus      `json:"status"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	TaxAmount     decimal.Decimal    `json:"tax_amount"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	Reason        string             `json:"reason,omitempty"`
	Lines         []InvoiceEventLine `json:"lines"`
}

// NewInvoiceEvent snapshots the invoice into an outbox event.
func NewInvoiceEvent(eventType InvoiceEventType, inv *Invoice, reason string) (InvoiceEvent, error) {
	payload := InvoiceEventPayload{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		CustomerID:    inv.CustomerID,
		Status:        inv.Status,
		Subtotal:      inv.Subtotal,
		TaxAmount:     inv.TaxAmount,
		TotalAmount:   inv.TotalAmount,
		Reason:        reason,
		Lines:         make([]InvoiceEventLine, 0, len(inv.Items)),
	}
	for _, item := range inv.Items {
		payload.Lines = append(payload.Lines, InvoiceEventLine{
			InventoryItemID: item.InventoryItemID,
			Quantity:        item.Quantity,
			TaxAmount:       item.TaxAmount,
			TotalPrice:      item.TotalPrice,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return InvoiceEvent{}, err
	}
	return InvoiceEvent{
		EventID:   uuid.New(),
		InvoiceID: inv.ID,
		Type:      eventType,
		Payload:   body,
	}, nil
}

type InvoiceListFilter struct {
	CustomerID *int64
	Status     InvoiceStatus
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type StockImportRow struct {
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	Quantity     int                 `json:"quantity"`
	Weight       decimal.Decimal     `json:"weight"`
	GoldPurity   string              `json:"gold_purity"`
	UnitPrice    decimal.NullDecimal `json:"unit_price"`
	CostPrice    decimal.NullDecimal `json:"cost_price"`
	MinimumStock int                 `json:"minimum_stock"`
}

type StockImportResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Adjusted int `json:"adjusted"`
}

type PriceListRow struct {
	SKU       string              `json:"sku"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
	CostPrice decimal.NullDecimal `json:"cost_price"`
}

type PriceListImportResult struct {
	Updated     int      `json:"updated"`
	UnknownSKUs []string `json:"unknown_skus"`
}
