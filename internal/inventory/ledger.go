// Package inventory owns stock quantities and their movement trail. Every
// quantity change goes through the Ledger and appends exactly one movement.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"goldledger/internal/domain"
	"goldledger/internal/store"

	"github.com/sirupsen/logrus"
)

type Store interface {
	GetInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error)
	LockInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error)
	DecrementQuantity(ctx context.Context, itemID int64, qty int) (bool, error)
	IncrementQuantity(ctx context.Context, itemID int64, qty int) error
	InsertMovement(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryMovement, error)
	NetInvoiceMovements(ctx context.Context, invoiceID int64) (map[int64]int, error)
	ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error)
	ListMovements(ctx context.Context, itemID int64) ([]domain.InventoryMovement, error)
}

type Request struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"gt=0,lte=1000000"`
}

type Ledger struct {
	store Store
	log   logrus.FieldLogger
}

func NewLedger(s Store, log logrus.FieldLogger) *Ledger {
	return &Ledger{store: s, log: log}
}

// CheckAvailability reports every request that cannot be satisfied. Requests
// for the same item are summed before comparing against stock.
func (l *Ledger) CheckAvailability(ctx context.Context, requests []Request) ([]domain.UnavailableItem, error) {
	wanted, ids, err := aggregate(requests)
	if err != nil {
		return nil, err
	}
	items, err := l.store.GetInventoryItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load inventory items: %w", err)
	}
	return unavailable(ids, wanted, items), nil
}

// Reserve decrements stock for every line of the invoice and records a sale
// movement per item. Nothing is written unless all lines are available.
func (l *Ledger) Reserve(ctx context.Context, invoice *domain.Invoice) error {
	if invoice.ID <= 0 {
		return fmt.Errorf("reserve: invoice has no id")
	}
	wanted, err := invoice.ReservedQuantities()
	if err != nil {
		return err
	}
	ids := sortedKeys(wanted)
	if len(ids) == 0 {
		return nil
	}

	locked, err := l.store.LockInventoryItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("lock inventory items: %w", err)
	}
	if missing := unavailable(ids, wanted, locked); len(missing) > 0 {
		return &domain.InsufficientInventoryError{Items: missing}
	}

	for _, id := range ids {
		qty := wanted[id]
		ok, err := l.store.DecrementQuantity(ctx, id, qty)
		if err != nil {
			return fmt.Errorf("decrement item %d: %w", id, err)
		}
		if !ok {
			item := locked[id]
			return &domain.InsufficientInventoryError{Items: []domain.UnavailableItem{{
				ItemID:    id,
				Name:      item.Name,
				SKU:       item.SKU,
				Requested: qty,
				Available: item.Quantity,
				Error:     domain.ErrMsgInsufficientInventory,
			}}}
		}
		invoiceID := invoice.ID
		if _, err := l.store.InsertMovement(ctx, domain.InventoryMovement{
			InventoryItemID: id,
			Type:            domain.MovementSale,
			Quantity:        -qty,
			ReferenceType:   domain.ReferenceInvoice,
			ReferenceID:     &invoiceID,
			Notes:           fmt.Sprintf("Sold on invoice %s", invoiceLabel(invoice)),
		}); err != nil {
			return fmt.Errorf("record sale movement for item %d: %w", id, err)
		}
	}

	l.log.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"items":      len(ids),
	}).Info("inventory reserved")
	return nil
}

// Restore gives back whatever the invoice still holds. The outstanding amount
// is derived from the invoice's own movements, so a second call finds
// nothing outstanding and changes nothing.
func (l *Ledger) Restore(ctx context.Context, invoice *domain.Invoice, note string) error {
	net, err := l.store.NetInvoiceMovements(ctx, invoice.ID)
	if err != nil {
		return fmt.Errorf("load invoice movements: %w", err)
	}

	restored := 0
	for _, id := range sortedKeys(net) {
		outstanding := -net[id]
		if outstanding <= 0 {
			continue
		}
		if err := l.store.IncrementQuantity(ctx, id, outstanding); err != nil {
			return fmt.Errorf("increment item %d: %w", id, err)
		}
		invoiceID := invoice.ID
		notes := fmt.Sprintf("Returned from invoice %s", invoiceLabel(invoice))
		if note != "" {
			notes += ": " + note
		}
		if _, err := l.store.InsertMovement(ctx, domain.InventoryMovement{
			InventoryItemID: id,
			Type:            domain.MovementReturn,
			Quantity:        outstanding,
			ReferenceType:   domain.ReferenceInvoiceCancellation,
			ReferenceID:     &invoiceID,
			Notes:           notes,
		}); err != nil {
			return fmt.Errorf("record return movement for item %d: %w", id, err)
		}
		restored++
	}

	if restored > 0 {
		l.log.WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
			"items":      restored,
		}).Info("inventory restored")
	}
	return nil
}

// Adjust applies a stock correction outside of invoicing.
func (l *Ledger) Adjust(ctx context.Context, itemID int64, delta int, referenceType string, referenceID *int64, notes string) error {
	if delta == 0 {
		return nil
	}
	if delta > domain.MaxQuantity || delta < -domain.MaxQuantity {
		return fmt.Errorf("adjust item %d by %d: %w", itemID, delta, domain.ErrInvalidQuantity)
	}
	locked, err := l.store.LockInventoryItems(ctx, []int64{itemID})
	if err != nil {
		return fmt.Errorf("lock inventory item: %w", err)
	}
	item, ok := locked[itemID]
	if !ok {
		return store.ErrNotFound
	}

	if delta > 0 {
		if err := l.store.IncrementQuantity(ctx, itemID, delta); err != nil {
			return fmt.Errorf("increment item %d: %w", itemID, err)
		}
	} else {
		ok, err := l.store.DecrementQuantity(ctx, itemID, -delta)
		if err != nil {
			return fmt.Errorf("decrement item %d: %w", itemID, err)
		}
		if !ok {
			return &domain.InsufficientInventoryError{Items: []domain.UnavailableItem{{
				ItemID:    itemID,
				Name:      item.Name,
				SKU:       item.SKU,
				Requested: -delta,
				Available: item.Quantity,
				Error:     domain.ErrMsgInsufficientInventory,
			}}}
		}
	}

	if _, err := l.store.InsertMovement(ctx, domain.InventoryMovement{
		InventoryItemID: itemID,
		Type:            domain.MovementAdjustment,
		Quantity:        delta,
		ReferenceType:   referenceType,
		ReferenceID:     referenceID,
		Notes:           notes,
	}); err != nil {
		return fmt.Errorf("record adjustment movement for item %d: %w", itemID, err)
	}
	return nil
}

func (l *Ledger) GetLowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := l.store.ListLowStockItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list low stock items: %w", err)
	}
	return items, nil
}

func (l *Ledger) GetInventoryMovements(ctx context.Context, itemID int64) ([]domain.InventoryMovement, error) {
	items, err := l.store.GetInventoryItems(ctx, []int64{itemID})
	if err != nil {
		return nil, fmt.Errorf("load inventory item: %w", err)
	}
	if _, ok := items[itemID]; !ok {
		return nil, store.ErrNotFound
	}
	movements, err := l.store.ListMovements(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("list movements for item %d: %w", itemID, err)
	}
	return movements, nil
}

func aggregate(requests []Request) (map[int64]int, []int64, error) {
	wanted := make(map[int64]int, len(requests))
	for _, req := range requests {
		sum, err := domain.AddQuantity(wanted[req.ItemID], req.Quantity)
		if err != nil {
			return nil, nil, fmt.Errorf("inventory item %d: %w", req.ItemID, err)
		}
		wanted[req.ItemID] = sum
	}
	return wanted, sortedKeys(wanted), nil
}

func unavailable(ids []int64, wanted map[int64]int, items map[int64]domain.InventoryItem) []domain.UnavailableItem {
	result := make([]domain.UnavailableItem, 0)
	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			result = append(result, domain.UnavailableItem{
				ItemID:    id,
				Requested: wanted[id],
				Error:     domain.ErrMsgItemNotFound,
			})
			continue
		}
		if item.Quantity < wanted[id] {
			result = append(result, domain.UnavailableItem{
				ItemID:    id,
				Name:      item.Name,
				SKU:       item.SKU,
				Requested: wanted[id],
				Available: item.Quantity,
				Error:     domain.ErrMsgInsufficientInventory,
			})
		}
	}
	return result
}

func sortedKeys(m map[int64]int) []int64 {
	keys := make([]int64, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func invoiceLabel(invoice *domain.Invoice) string {
	if invoice.InvoiceNumber != "" {
		return invoice.InvoiceNumber
	}
	return fmt.Sprintf("#%d", invoice.ID)
}
