// Package invoice creates, updates and cancels invoices. Each mutation prices
// its lines, moves stock through the inventory ledger and records an outbox
// event inside a single transaction.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goldledger/internal/domain"
	"goldledger/internal/inventory"
	"goldledger/internal/pricing"
	"goldledger/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PricingDefaults apply when a request leaves a percentage out.
type PricingDefaults struct {
	LaborPercentage  decimal.Decimal
	ProfitPercentage decimal.Decimal
	TaxPercentage    decimal.Decimal
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type Orchestrator struct {
	db       store.Database
	defaults PricingDefaults
	log      logrus.FieldLogger
	validate *validator.Validate
	now      func() time.Time
}

func NewOrchestrator(db store.Database, defaults PricingDefaults, log logrus.FieldLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:       db,
		defaults: defaults,
		log:      log,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) CreateInvoice(ctx context.Context, req Request) (*domain.Invoice, error) {
	if errs := o.ValidateInvoiceData(ctx, req); len(errs) > 0 {
		return nil, errs
	}

	inv, err := o.buildInvoice(ctx, o.db, req)
	if err != nil {
		return nil, err
	}
	if err := o.ensureAvailable(ctx, inventory.NewLedger(o.db, o.log), req); err != nil {
		return nil, err
	}

	err = o.db.RunInTx(ctx, func(tx store.Store) error {
		seq, err := tx.NextInvoiceNumber(ctx)
		if err != nil {
			return fmt.Errorf("next invoice number: %w", err)
		}
		inv.InvoiceNumber = FormatInvoiceNumber(o.now(), seq)
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		if err := inventory.NewLedger(tx, o.log).Reserve(ctx, inv); err != nil {
			return err
		}
		return writeEvent(ctx, tx, domain.EventInvoiceCreated, inv, "")
	})
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"total_amount":   inv.TotalAmount.StringFixed(2),
	}).Info("invoice created")
	return inv, nil
}

// UpdateInvoice swaps the invoice's reservation for the one the new request
// implies. A failure anywhere rolls back to the previous reservation.
func (o *Orchestrator) UpdateInvoice(ctx context.Context, id int64, req Request) (*domain.Invoice, error) {
	if errs := o.ValidateInvoiceData(ctx, req); len(errs) > 0 {
		return nil, errs
	}

	var updated *domain.Invoice
	err := o.db.RunInTx(ctx, func(tx store.Store) error {
		current, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if current.IsCancelled() {
			return ErrInvoiceCancelled
		}

		ledger := inventory.NewLedger(tx, o.log)
		if err := ledger.Restore(ctx, current, "invoice updated"); err != nil {
			return err
		}

		next, err := o.buildInvoice(ctx, tx, req)
		if err != nil {
			return err
		}
		if err := o.ensureAvailable(ctx, ledger, req); err != nil {
			return err
		}

		next.ID = current.ID
		next.InvoiceNumber = current.InvoiceNumber
		next.CreatedAt = current.CreatedAt
		if req.Status == "" {
			next.Status = current.Status
		}
		if err := ledger.Reserve(ctx, next); err != nil {
			return err
		}

		items, err := tx.ReplaceInvoiceItems(ctx, next.ID, next.Items)
		if err != nil {
			return fmt.Errorf("replace invoice items: %w", err)
		}
		next.Items = items
		if err := tx.UpdateInvoice(ctx, next); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		if err := writeEvent(ctx, tx, domain.EventInvoiceUpdated, next, ""); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"invoice_id":   updated.ID,
		"total_amount": updated.TotalAmount.StringFixed(2),
	}).Info("invoice updated")
	return updated, nil
}

// CancelInvoice is idempotent: only the call that moves the invoice into
// the cancelled state restores stock.
func (o *Orchestrator) CancelInvoice(ctx context.Context, id int64, reason string) (*domain.Invoice, error) {
	var result *domain.Invoice
	restored := false
	err := o.db.RunInTx(ctx, func(tx store.Store) error {
		flipped, err := tx.MarkInvoiceCancelled(ctx, id, reason)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		result = inv
		if !flipped {
			return nil
		}

		if err := inventory.NewLedger(tx, o.log).Restore(ctx, inv, reason); err != nil {
			return err
		}
		restored = true
		return writeEvent(ctx, tx, domain.EventInvoiceCancelled, inv, reason)
	})
	if err != nil {
		return nil, err
	}

	if restored {
		o.log.WithField("invoice_id", id).Info("invoice cancelled")
	}
	return result, nil
}

func (o *Orchestrator) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return o.db.GetInvoice(ctx, id)
}

func (o *Orchestrator) ListInvoices(ctx context.Context, filter domain.InvoiceListFilter) ([]domain.Invoice, error) {
	return o.db.ListInvoices(ctx, filter)
}

// buildInvoice prices every line against the current item attributes.
// Lines for unknown items are left out; ensureAvailable reports them.
func (o *Orchestrator) buildInvoice(ctx context.Context, s store.Store, req Request) (*domain.Invoice, error) {
	errs := make(ValidationErrors)
	invoiceDate, _ := o.parseDate(req.InvoiceDate, "invoice_date", errs)
	var dueDate *time.Time
	if req.DueDate != "" {
		if due, err := time.Parse(DateLayout, req.DueDate); err == nil {
			dueDate = &due
		}
	}
	labor, profit, tax := o.percentages(req)

	status := req.Status
	if status == "" {
		status = domain.InvoiceStatusIssued
	}
	inv := &domain.Invoice{
		CustomerID:       req.CustomerID,
		InvoiceDate:      invoiceDate,
		DueDate:          dueDate,
		Status:           status,
		GoldPricePerGram: req.GoldPricePerGram,
		LaborPercentage:  labor,
		ProfitPercentage: profit,
		TaxPercentage:    tax,
		Notes:            req.Notes,
	}

	ids := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.InventoryItemID)
	}
	items, err := s.GetInventoryItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load inventory items: %w", err)
	}

	for i, line := range req.Items {
		item, ok := items[line.InventoryItemID]
		if !ok {
			continue
		}
		priced, err := priceLine(item, line.Quantity, req.GoldPricePerGram, labor, profit, tax)
		if err != nil {
			var missing missingUnitPriceError
			if errors.As(err, &missing) {
				errs[fmt.Sprintf("items.%d.inventory_item_id", i)] = missing.Error()
				continue
			}
			return nil, err
		}
		inv.Items = append(inv.Items, priced)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	inv.RecalculateTotals()
	return inv, nil
}

type missingUnitPriceError struct{}

func (missingUnitPriceError) Error() string {
	return "item has no unit price; gold_price_per_gram is required"
}

func priceLine(item domain.InventoryItem, qty int, goldPrice, labor, profit, tax decimal.Decimal) (domain.InvoiceItem, error) {
	var (
		line pricing.Line
		mode domain.PricingMode
	)
	if goldPrice.IsZero() {
		if !item.UnitPrice.Valid {
			return domain.InvoiceItem{}, missingUnitPriceError{}
		}
		line = pricing.Static{UnitPrice: item.UnitPrice.Decimal, Quantity: qty}
		mode = domain.PricingStatic
	} else {
		line = pricing.Dynamic{Params: pricing.Params{
			Weight:           item.Weight,
			PricePerGram:     goldPrice,
			LaborPercentage:  labor,
			ProfitPercentage: profit,
			TaxPercentage:    tax,
			Quantity:         qty,
		}}
		mode = domain.PricingDynamic
	}

	b, err := pricing.PriceLine(line)
	if err != nil {
		return domain.InvoiceItem{}, err
	}
	return domain.InvoiceItem{
		InventoryItemID: item.ID,
		Quantity:        qty,
		Weight:          item.Weight,
		GoldPurity:      item.GoldPurity,
		PricingMode:     mode,
		BaseGoldCost:    b.BaseGoldCost,
		LaborCost:       b.LaborCost,
		ProfitAmount:    b.Profit,
		TaxAmount:       b.Tax,
		UnitPrice:       b.UnitPrice,
		TotalPrice:      b.TotalPrice,
	}, nil
}

func (o *Orchestrator) ensureAvailable(ctx context.Context, ledger *inventory.Ledger, req Request) error {
	requests := make([]inventory.Request, 0, len(req.Items))
	for _, line := range req.Items {
		requests = append(requests, inventory.Request{ItemID: line.InventoryItemID, Quantity: line.Quantity})
	}
	missing, err := ledger.CheckAvailability(ctx, requests)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &domain.InsufficientInventoryError{Items: missing}
	}
	return nil
}

func writeEvent(ctx context.Context, tx store.Store, eventType domain.InvoiceEventType, inv *domain.Invoice, reason string) error {
	event, err := domain.NewInvoiceEvent(eventType, inv, reason)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if err := tx.InsertInvoiceEvent(ctx, event); err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

// FormatInvoiceNumber renders INV-YYYYMMDD-NNNNNN.
func FormatInvoiceNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%06d", at.UTC().Format("20060102"), seq)
}
