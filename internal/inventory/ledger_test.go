package inventory

import (
	"context"
	"errors"
	"math"
	"testing"

	"goldledger/internal/domain"
	"goldledger/internal/store"
	"goldledger/internal/store/memory"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *memory.DB
	ledger *Ledger
	hook   *logtest.Hook
}

func newFixture() *fixture {
	logger, hook := logtest.NewNullLogger()
	db := memory.New()
	return &fixture{db: db, ledger: NewLedger(db, logger), hook: hook}
}

func (f *fixture) seed(sku string, qty, minimum int) domain.InventoryItem {
	return f.db.SeedItem(domain.InventoryItem{
		SKU:          sku,
		Name:         sku + " piece",
		MinimumStock: minimum,
		IsActive:     true,
	}, qty)
}

func (f *fixture) quantity(t *testing.T, id int64) int {
	t.Helper()
	items, err := f.db.GetInventoryItems(context.Background(), []int64{id})
	require.NoError(t, err)
	return items[id].Quantity
}

func (f *fixture) movementSum(t *testing.T, id int64) int {
	t.Helper()
	movements, err := f.db.ListMovements(context.Background(), id)
	require.NoError(t, err)
	sum := 0
	for _, m := range movements {
		sum += m.Quantity
	}
	return sum
}

func invoiceFor(id int64, lines map[int64]int) *domain.Invoice {
	inv := &domain.Invoice{ID: id, InvoiceNumber: "INV-TEST"}
	for itemID, qty := range lines {
		inv.Items = append(inv.Items, domain.InvoiceItem{InventoryItemID: itemID, Quantity: qty})
	}
	return inv
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture()
	ring := f.seed("RING", 5, 0)
	chain := f.seed("CHAIN", 1, 0)

	got, err := f.ledger.CheckAvailability(context.Background(), []Request{
		{ItemID: ring.ID, Quantity: 3},
		{ItemID: chain.ID, Quantity: 1},
		{ItemID: chain.ID, Quantity: 1},
		{ItemID: 404, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.UnavailableItem{
		ItemID:    chain.ID,
		Name:      "CHAIN piece",
		SKU:       "CHAIN",
		Requested: 2,
		Available: 1,
		Error:     "Insufficient inventory",
	}, got[0])
	assert.Equal(t, int64(404), got[1].ItemID)
	assert.Equal(t, "Item not found", got[1].Error)

	got, err = f.ledger.CheckAvailability(context.Background(), []Request{{ItemID: ring.ID, Quantity: 5}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 5, f.quantity(t, ring.ID))
}

func TestReserveThenRestore_ReturnsToStart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ring := f.seed("RING", 10, 0)
	chain := f.seed("CHAIN", 4, 0)
	inv := invoiceFor(7, map[int64]int{ring.ID: 3, chain.ID: 4})

	require.NoError(t, f.ledger.Reserve(ctx, inv))
	assert.Equal(t, 7, f.quantity(t, ring.ID))
	assert.Equal(t, 0, f.quantity(t, chain.ID))

	require.NoError(t, f.ledger.Restore(ctx, inv, "cancelled"))
	assert.Equal(t, 10, f.quantity(t, ring.ID))
	assert.Equal(t, 4, f.quantity(t, chain.ID))

	// every quantity change is reflected in the trail
	assert.Equal(t, 10, f.movementSum(t, ring.ID))
	assert.Equal(t, 4, f.movementSum(t, chain.ID))

	movements, err := f.ledger.GetInventoryMovements(ctx, ring.ID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, domain.MovementReturn, movements[0].Type)
	assert.Equal(t, domain.ReferenceInvoiceCancellation, movements[0].ReferenceType)
	assert.Equal(t, 3, movements[0].Quantity)
	assert.Equal(t, domain.MovementSale, movements[1].Type)
	assert.Equal(t, -3, movements[1].Quantity)
	require.NotNil(t, movements[1].ReferenceID)
	assert.Equal(t, int64(7), *movements[1].ReferenceID)
}

func TestRestore_SecondCallIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ring := f.seed("RING", 10, 0)
	inv := invoiceFor(3, map[int64]int{ring.ID: 4})

	require.NoError(t, f.ledger.Reserve(ctx, inv))
	require.NoError(t, f.ledger.Restore(ctx, inv, ""))
	require.NoError(t, f.ledger.Restore(ctx, inv, ""))

	assert.Equal(t, 10, f.quantity(t, ring.ID))
	movements, err := f.ledger.GetInventoryMovements(ctx, ring.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 3)
}

func TestReserve_AllOrNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ring := f.seed("RING", 10, 0)
	chain := f.seed("CHAIN", 1, 0)
	inv := invoiceFor(9, map[int64]int{ring.ID: 2, chain.ID: 2})

	err := f.ledger.Reserve(ctx, inv)
	var insufficient *domain.InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	require.Len(t, insufficient.Items, 1)
	assert.Equal(t, chain.ID, insufficient.Items[0].ItemID)

	assert.Equal(t, 10, f.quantity(t, ring.ID))
	assert.Equal(t, 1, f.quantity(t, chain.ID))
	movements, err := f.ledger.GetInventoryMovements(ctx, ring.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestReserve_InsideFailedTransactionLeavesStockUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ring := f.seed("RING", 6, 0)

	err := f.db.RunInTx(ctx, func(tx store.Store) error {
		ledger := NewLedger(tx, logrus.New())
		if err := ledger.Reserve(ctx, invoiceFor(1, map[int64]int{ring.ID: 6})); err != nil {
			return err
		}
		return errors.New("insert failed")
	})
	require.Error(t, err)
	assert.Equal(t, 6, f.quantity(t, ring.ID))
}

func TestReserve_RejectsOverflowingItemTotal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ring := f.seed("RING", 10, 0)

	huge := math.MaxInt64/2 + 1
	inv := &domain.Invoice{ID: 3, InvoiceNumber: "INV-TEST", Items: []domain.InvoiceItem{
		{InventoryItemID: ring.ID, Quantity: huge},
		{InventoryItemID: ring.ID, Quantity: huge},
	}}
	assert.ErrorIs(t, f.ledger.Reserve(ctx, inv), domain.ErrInvalidQuantity)

	_, err := f.ledger.CheckAvailability(ctx, []Request{
		{ItemID: ring.ID, Quantity: domain.MaxQuantity},
		{ItemID: ring.ID, Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	assert.Equal(t, 10, f.quantity(t, ring.ID))
	assert.Equal(t, 10, f.movementSum(t, ring.ID))
}

func TestAdjust(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ring := f.seed("RING", 2, 0)

	require.NoError(t, f.ledger.Adjust(ctx, ring.ID, 5, domain.ReferenceManualAdjustment, nil, "found in safe"))
	assert.Equal(t, 7, f.quantity(t, ring.ID))

	require.NoError(t, f.ledger.Adjust(ctx, ring.ID, -7, domain.ReferenceManualAdjustment, nil, "stock take"))
	assert.Equal(t, 0, f.quantity(t, ring.ID))

	err := f.ledger.Adjust(ctx, ring.ID, -1, domain.ReferenceManualAdjustment, nil, "")
	var insufficient *domain.InsufficientInventoryError
	assert.ErrorAs(t, err, &insufficient)

	err = f.ledger.Adjust(ctx, 404, 1, domain.ReferenceManualAdjustment, nil, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = f.ledger.Adjust(ctx, ring.ID, domain.MaxQuantity+1, domain.ReferenceManualAdjustment, nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	assert.Equal(t, 0, f.movementSum(t, ring.ID))
}

func TestGetLowStockItems_OrderedByShortfall(t *testing.T) {
	f := newFixture()
	f.seed("B-RING", 1, 4)
	f.seed("A-RING", 0, 3)
	f.seed("CHAIN", 8, 2)
	f.seed("BANGLE", 0, 10)

	items, err := f.ledger.GetLowStockItems(context.Background())
	require.NoError(t, err)

	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	assert.Equal(t, []string{"BANGLE", "A-RING", "B-RING"}, skus)
}

func TestGetInventoryMovements_UnknownItem(t *testing.T) {
	f := newFixture()
	_, err := f.ledger.GetInventoryMovements(context.Background(), 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
