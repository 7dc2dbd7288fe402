package repository

import (
	"fmt"

	"goldledger/internal/domain"

	"github.com/jackc/pgx/v5"
)

func scanInventoryItemRow(row pgx.Row) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	if err := row.Scan(
		&item.ID,
		&item.SKU,
		&item.Name,
		&item.CategoryID,
		&item.Quantity,
		&item.Weight,
		&item.GoldPurity,
		&item.UnitPrice,
		&item.CostPrice,
		&item.MinimumStock,
		&item.IsActive,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return domain.InventoryItem{}, err
	}
	return item, nil
}

func scanMovementRow(row pgx.Row) (domain.InventoryMovement, error) {
	var (
		m            domain.InventoryMovement
		movementType string
	)
	if err := row.Scan(
		&m.ID,
		&m.InventoryItemID,
		&movementType,
		&m.Quantity,
		&m.ReferenceType,
		&m.ReferenceID,
		&m.Notes,
		&m.CreatedAt,
	); err != nil {
		return domain.InventoryMovement{}, fmt.Errorf("scan inventory movement: %w", err)
	}
	m.Type = domain.MovementType(movementType)
	return m, nil
}

func scanInvoiceRow(row pgx.Row) (domain.Invoice, error) {
	var (
		inv    domain.Invoice
		status string
	)
	if err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.CustomerID,
		&inv.InvoiceDate,
		&inv.DueDate,
		&status,
		&inv.GoldPricePerGram,
		&inv.LaborPercentage,
		&inv.ProfitPercentage,
		&inv.TaxPercentage,
		&inv.Subtotal,
		&inv.TaxAmount,
		&inv.TotalAmount,
		&inv.Notes,
		&inv.CancellationReason,
		&inv.CancelledAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return domain.Invoice{}, err
	}
	inv.Status = domain.InvoiceStatus(status)
	return inv, nil
}

func scanInvoiceItemRow(row pgx.Row) (domain.InvoiceItem, error) {
	var (
		item domain.InvoiceItem
		mode string
	)
	if err := row.Scan(
		&item.ID,
		&item.InvoiceID,
		&item.InventoryItemID,
		&item.Quantity,
		&item.Weight,
		&item.GoldPurity,
		&mode,
		&item.BaseGoldCost,
		&item.LaborCost,
		&item.ProfitAmount,
		&item.TaxAmount,
		&item.UnitPrice,
		&item.TotalPrice,
	); err != nil {
		return domain.InvoiceItem{}, fmt.Errorf("scan invoice item: %w", err)
	}
	item.PricingMode = domain.PricingMode(mode)
	return item, nil
}

func scanEventRow(row pgx.Row) (domain.InvoiceEvent, error) {
	var (
		event     domain.InvoiceEvent
		eventType string
		payload   []byte
	)
	if err := row.Scan(
		&event.ID,
		&event.EventID,
		&event.InvoiceID,
		&eventType,
		&payload,
		&event.CreatedAt,
		&event.PublishedAt,
	); err != nil {
		return domain.InvoiceEvent{}, fmt.Errorf("scan invoice event: %w", err)
	}
	event.Type = domain.InvoiceEventType(eventType)
	event.Payload = payload
	return event, nil
}
