// Package store declares the persistence contract shared by the PostgreSQL
// repository and the in-memory store.
package store

import (
	"context"
	"errors"

	"goldledger/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type InventoryStore interface {
	// GetInventoryItems returns the items that exist; missing ids are absent from the map.
	GetInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error)
	// LockInventoryItems is GetInventoryItems holding row locks until the transaction ends.
	LockInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error)
	// DecrementQuantity subtracts qty only while quantity >= qty. It reports
	// whether a row was changed.
	DecrementQuantity(ctx context.Context, itemID int64, qty int) (bool, error)
	IncrementQuantity(ctx context.Context, itemID int64, qty int) error
	InsertMovement(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryMovement, error)
	// NetInvoiceMovements sums sale and return movements referencing the invoice, per item.
	NetInvoiceMovements(ctx context.Context, invoiceID int64) (map[int64]int, error)
	ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error)
	ListMovements(ctx context.Context, itemID int64) ([]domain.InventoryMovement, error)
	GetInventoryItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (domain.InventoryItem, error)
	UpdateInventoryItemDetails(ctx context.Context, item domain.InventoryItem) error
}

type InvoiceStore interface {
	CustomerExists(ctx context.Context, customerID int64) (bool, error)
	NextInvoiceNumber(ctx context.Context) (int64, error)
	InsertInvoice(ctx context.Context, invoice *domain.Invoice) error
	GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error)
	LockInvoice(ctx context.Context, id int64) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error
	// MarkInvoiceCancelled flips the status only from a non-cancelled state and
	// reports whether the flip happened.
	MarkInvoiceCancelled(ctx context.Context, id int64, reason string) (bool, error)
	ReplaceInvoiceItems(ctx context.Context, invoiceID int64, items []domain.InvoiceItem) ([]domain.InvoiceItem, error)
	ListInvoiceItems(ctx context.Context, invoiceID int64) ([]domain.InvoiceItem, error)
	ListInvoices(ctx context.Context, filter domain.InvoiceListFilter) ([]domain.Invoice, error)
}

type OutboxStore interface {
	InsertInvoiceEvent(ctx context.Context, event domain.InvoiceEvent) error
	ListUnpublishedEvents(ctx context.Context, limit int) ([]domain.InvoiceEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error
}

type Store interface {
	InventoryStore
	InvoiceStore
	OutboxStore
}

// Database is a Store that can open a transaction. The Store handed to fn is
// bound to the transaction; fn returning an error rolls everything back.
type Database interface {
	Store
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

const (
	DefaultListLimit = 200
	MaxListLimit     = 1000
)

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
