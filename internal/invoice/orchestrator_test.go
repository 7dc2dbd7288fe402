package invoice

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"goldledger/internal/domain"
	"goldledger/internal/inventory"
	"goldledger/internal/store"
	"goldledger/internal/store/memory"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type env struct {
	db   *memory.DB
	orch *Orchestrator
}

func newEnv() *env {
	logger, _ := logtest.NewNullLogger()
	db := memory.New()
	db.AddCustomer(1)
	db.AddCustomer(2)
	orch := NewOrchestrator(db, PricingDefaults{
		LaborPercentage:  decimal.NewFromInt(10),
		ProfitPercentage: decimal.NewFromInt(15),
		TaxPercentage:    decimal.NewFromInt(9),
	}, logger, WithClock(func() time.Time { return fixedNow }))
	return &env{db: db, orch: orch}
}

func (e *env) item(sku string, weight string, unitPrice string, qty int) domain.InventoryItem {
	item := domain.InventoryItem{
		SKU:        sku,
		Name:       sku,
		Weight:     decimal.RequireFromString(weight),
		GoldPurity: "18K",
		IsActive:   true,
	}
	if unitPrice != "" {
		item.UnitPrice = decimal.NewNullDecimal(decimal.RequireFromString(unitPrice))
	}
	return e.db.SeedItem(item, qty)
}

func (e *env) quantity(t *testing.T, id int64) int {
	t.Helper()
	items, err := e.db.GetInventoryItems(context.Background(), []int64{id})
	require.NoError(t, err)
	return items[id].Quantity
}

func (e *env) events(t *testing.T) []domain.InvoiceEvent {
	t.Helper()
	events, err := e.db.ListUnpublishedEvents(context.Background(), 100)
	require.NoError(t, err)
	return events
}

func goldRequest(lines ...ItemRequest) Request {
	return Request{
		CustomerID:       1,
		InvoiceDate:      "2024-03-15",
		GoldPricePerGram: decimal.NewFromInt(60),
		Items:            lines,
	}
}

func TestCreateInvoice_PricesReservesAndRecordsEvent(t *testing.T) {
	e := newEnv()
	ring := e.item("RING", "5", "", 10)

	inv, err := e.orch.CreateInvoice(context.Background(), goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 1}))
	require.NoError(t, err)

	assert.Equal(t, "INV-20240315-000001", inv.InvoiceNumber)
	assert.Equal(t, domain.InvoiceStatusIssued, inv.Status)
	require.Len(t, inv.Items, 1)
	line := inv.Items[0]
	assert.Equal(t, domain.PricingDynamic, line.PricingMode)
	assert.Equal(t, "300.00", line.BaseGoldCost.StringFixed(2))
	assert.Equal(t, "34.16", line.TaxAmount.StringFixed(2))
	assert.Equal(t, "413.66", line.TotalPrice.StringFixed(2))
	assert.Equal(t, "413.66", inv.TotalAmount.StringFixed(2))
	assert.Equal(t, "34.16", inv.TaxAmount.StringFixed(2))
	assert.Equal(t, "379.50", inv.Subtotal.StringFixed(2))

	assert.Equal(t, 9, e.quantity(t, ring.ID))

	events := e.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventInvoiceCreated, events[0].Type)
	assert.Equal(t, inv.ID, events[0].InvoiceID)
}

func TestCreateInvoice_StaticFallbackWhenGoldPriceIsZero(t *testing.T) {
	e := newEnv()
	chain := e.item("CHAIN", "3", "100", 5)

	req := goldRequest(ItemRequest{InventoryItemID: chain.ID, Quantity: 3})
	req.GoldPricePerGram = decimal.Zero
	inv, err := e.orch.CreateInvoice(context.Background(), req)
	require.NoError(t, err)

	line := inv.Items[0]
	assert.Equal(t, domain.PricingStatic, line.PricingMode)
	assert.True(t, line.BaseGoldCost.IsZero())
	assert.True(t, line.TaxAmount.IsZero())
	assert.Equal(t, "100.00", line.UnitPrice.StringFixed(2))
	assert.Equal(t, "300.00", line.TotalPrice.StringFixed(2))
	assert.Equal(t, 2, e.quantity(t, chain.ID))
}

func TestCreateInvoice_InsufficientInventoryPersistsNothing(t *testing.T) {
	e := newEnv()
	ring := e.item("RING", "5", "", 10)
	chain := e.item("CHAIN", "3", "", 1)

	_, err := e.orch.CreateInvoice(context.Background(), goldRequest(
		ItemRequest{InventoryItemID: ring.ID, Quantity: 2},
		ItemRequest{InventoryItemID: chain.ID, Quantity: 2},
		ItemRequest{InventoryItemID: 999, Quantity: 1},
	))
	var insufficient *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Items, 2)
	assert.Equal(t, chain.ID, insufficient.Items[0].ItemID)
	assert.Equal(t, domain.ErrMsgItemNotFound, insufficient.Items[1].Error)

	assert.Equal(t, 10, e.quantity(t, ring.ID))
	assert.Equal(t, 1, e.quantity(t, chain.ID))
	list, err := e.orch.ListInvoices(context.Background(), domain.InvoiceListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, e.events(t))
}

func TestCancelInvoice_IsIdempotent(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ring := e.item("RING", "5", "", 10)

	inv, err := e.orch.CreateInvoice(ctx, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 4}))
	require.NoError(t, err)
	require.Equal(t, 6, e.quantity(t, ring.ID))

	cancelled, err := e.orch.CancelInvoice(ctx, inv.ID, "customer returned")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, e.quantity(t, ring.ID))

	again, err := e.orch.CancelInvoice(ctx, inv.ID, "second click")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, again.Status)
	require.NotNil(t, again.CancellationReason)
	assert.Equal(t, "customer returned", *again.CancellationReason)
	assert.Equal(t, 10, e.quantity(t, ring.ID))

	cancelEvents := 0
	for _, event := range e.events(t) {
		if event.Type == domain.EventInvoiceCancelled {
			cancelEvents++
		}
	}
	assert.Equal(t, 1, cancelEvents)

	_, err = e.orch.CancelInvoice(ctx, 404, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateInvoice_ReplacesReservation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ring := e.item("RING", "5", "", 10)
	chain := e.item("CHAIN", "2", "", 10)

	inv, err := e.orch.CreateInvoice(ctx, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 4}))
	require.NoError(t, err)

	updated, err := e.orch.UpdateInvoice(ctx, inv.ID, goldRequest(
		ItemRequest{InventoryItemID: ring.ID, Quantity: 1},
		ItemRequest{InventoryItemID: chain.ID, Quantity: 3},
	))
	require.NoError(t, err)
	assert.Equal(t, inv.InvoiceNumber, updated.InvoiceNumber)
	require.Len(t, updated.Items, 2)
	assert.Equal(t, 9, e.quantity(t, ring.ID))
	assert.Equal(t, 7, e.quantity(t, chain.ID))

	stored, err := e.orch.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.True(t, stored.TotalAmount.Equal(updated.TotalAmount))

	_, err = e.orch.CancelInvoice(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 10, e.quantity(t, ring.ID))
	assert.Equal(t, 10, e.quantity(t, chain.ID))
}

func TestUpdateInvoice_FailureKeepsOldReservation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ring := e.item("RING", "5", "", 5)

	inv, err := e.orch.CreateInvoice(ctx, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 3}))
	require.NoError(t, err)
	require.Equal(t, 2, e.quantity(t, ring.ID))

	// 6 would only fit if the restored 3 were added to the 2 left, which is 5.
	_, err = e.orch.UpdateInvoice(ctx, inv.ID, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 6}))
	var insufficient *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Items[0].Available)

	assert.Equal(t, 2, e.quantity(t, ring.ID))
	stored, err := e.orch.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 3, stored.Items[0].Quantity)
}

func TestUpdateInvoice_RejectsCancelled(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ring := e.item("RING", "5", "", 5)

	inv, err := e.orch.CreateInvoice(ctx, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = e.orch.CancelInvoice(ctx, inv.ID, "")
	require.NoError(t, err)

	_, err = e.orch.UpdateInvoice(ctx, inv.ID, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 1}))
	assert.ErrorIs(t, err, ErrInvoiceCancelled)
	assert.Equal(t, 5, e.quantity(t, ring.ID))
}

func TestCreateInvoice_ConcurrentRequestsDoNotOversell(t *testing.T) {
	e := newEnv()
	ring := e.item("RING", "5", "", 10)

	quantities := []int{6, 8}
	errs := make([]error, len(quantities))
	var wg sync.WaitGroup
	for i, qty := range quantities {
		wg.Add(1)
		go func(i, qty int) {
			defer wg.Done()
			_, errs[i] = e.orch.CreateInvoice(context.Background(), goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: qty}))
		}(i, qty)
	}
	wg.Wait()

	succeeded := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, succeeded, "both reservations succeeded")
			succeeded = i
			continue
		}
		var insufficient *domain.InsufficientInventoryError
		assert.ErrorAs(t, err, &insufficient)
	}
	require.NotEqual(t, -1, succeeded)
	assert.Equal(t, 10-quantities[succeeded], e.quantity(t, ring.ID))
}

func TestCreateInvoice_LaterRequestSeesCommittedReservation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ring := e.item("RING", "5", "", 10)
	logger, _ := logtest.NewNullLogger()

	var laterErr error
	done := make(chan struct{})
	err := e.db.RunInTx(ctx, func(tx store.Store) error {
		held := &domain.Invoice{
			ID:            900,
			InvoiceNumber: "INV-HELD",
			Items:         []domain.InvoiceItem{{InventoryItemID: ring.ID, Quantity: 6}},
		}
		if err := inventory.NewLedger(tx, logger).Reserve(ctx, held); err != nil {
			return err
		}
		// blocks on the store until this transaction commits
		go func() {
			defer close(done)
			_, laterErr = e.orch.CreateInvoice(ctx, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 8}))
		}()
		return nil
	})
	require.NoError(t, err)
	<-done

	var insufficient *domain.InsufficientInventoryError
	require.ErrorAs(t, laterErr, &insufficient)
	require.Len(t, insufficient.Items, 1)
	assert.Equal(t, 8, insufficient.Items[0].Requested)
	assert.Equal(t, 4, insufficient.Items[0].Available)
	assert.Equal(t, 4, e.quantity(t, ring.ID))
	assert.Empty(t, e.events(t))
}

func TestCreateInvoice_RejectsOverflowingItemTotal(t *testing.T) {
	e := newEnv()
	ring := e.item("RING", "3", "100", 10)

	huge := math.MaxInt64/2 + 1
	req := goldRequest(
		ItemRequest{InventoryItemID: ring.ID, Quantity: huge},
		ItemRequest{InventoryItemID: ring.ID, Quantity: huge},
	)
	req.GoldPricePerGram = decimal.Zero
	inv, err := e.orch.CreateInvoice(context.Background(), req)
	assert.Nil(t, inv)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "quantity must be at most 1000000", verrs["items.0.quantity"])
	assert.Equal(t, "quantity must be at most 1000000", verrs["items.1.quantity"])

	assert.Equal(t, 10, e.quantity(t, ring.ID))
	assert.Empty(t, e.events(t))
}

func TestCreateInvoice_RejectsItemTotalAboveBound(t *testing.T) {
	e := newEnv()
	ring := e.item("RING", "3", "100", 10)

	req := goldRequest(
		ItemRequest{InventoryItemID: ring.ID, Quantity: 600000},
		ItemRequest{InventoryItemID: ring.ID, Quantity: 600000},
	)
	_, err := e.orch.CreateInvoice(context.Background(), req)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.NotContains(t, verrs, "items.0.quantity")
	assert.Equal(t, "total quantity for this item cannot exceed 1000000", verrs["items.1.quantity"])
	assert.Equal(t, 10, e.quantity(t, ring.ID))
}

func TestUpdateInvoice_MarkPaidThenCancel(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	ring := e.item("RING", "5", "", 5)

	inv, err := e.orch.CreateInvoice(ctx, goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 2}))
	require.NoError(t, err)

	req := goldRequest(ItemRequest{InventoryItemID: ring.ID, Quantity: 2})
	req.Status = domain.InvoiceStatusPaid
	paid, err := e.orch.UpdateInvoice(ctx, inv.ID, req)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, paid.Status)
	assert.Equal(t, 3, e.quantity(t, ring.ID))

	stored, err := e.orch.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, stored.Status)

	cancelled, err := e.orch.CancelInvoice(ctx, inv.ID, "refund")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, e.quantity(t, ring.ID))
}

func TestValidateInvoiceData(t *testing.T) {
	e := newEnv()
	ring := e.item("RING", "0", "", 10)
	plain := e.item("PLAIN", "2", "", 10)
	negative := decimal.NewFromInt(-1)

	errs := e.orch.ValidateInvoiceData(context.Background(), Request{
		CustomerID:      77,
		InvoiceDate:     "15/03/2024",
		DueDate:         "2024-01-01",
		Status:          domain.InvoiceStatusCancelled,
		LaborPercentage: &negative,
		Items: []ItemRequest{
			{InventoryItemID: ring.ID, Quantity: 0},
		},
	})
	assert.Equal(t, "customer does not exist", errs["customer_id"])
	assert.Contains(t, errs, "invoice_date")
	assert.Contains(t, errs, "status")
	assert.Contains(t, errs, "labor_percentage")
	assert.Contains(t, errs, "items.0.quantity")
	// the due date cannot be compared with an unparseable invoice date
	assert.NotContains(t, errs, "due_date")

	errs = e.orch.ValidateInvoiceData(context.Background(), goldRequest(
		ItemRequest{InventoryItemID: ring.ID, Quantity: 1},
		ItemRequest{InventoryItemID: plain.ID, Quantity: 1},
	))
	assert.Equal(t, ValidationErrors{"items.0.weight": "weight must be greater than zero"}, errs)

	req := goldRequest(ItemRequest{InventoryItemID: plain.ID, Quantity: 1})
	req.GoldPricePerGram = decimal.Zero
	errs = e.orch.ValidateInvoiceData(context.Background(), req)
	assert.Contains(t, errs, "items.0.inventory_item_id")

	req = goldRequest()
	req.DueDate = "2024-03-01"
	errs = e.orch.ValidateInvoiceData(context.Background(), req)
	assert.Contains(t, errs, "items")
	assert.Equal(t, "due_date cannot be before invoice_date", errs["due_date"])

	assert.Nil(t, e.orch.ValidateInvoiceData(context.Background(), goldRequest(ItemRequest{InventoryItemID: plain.ID, Quantity: 2})))
}

func TestCreateInvoice_ValidationErrorIsReturnedAsError(t *testing.T) {
	e := newEnv()
	_, err := e.orch.CreateInvoice(context.Background(), Request{})
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs, "customer_id")
	assert.Contains(t, verrs, "items")
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-20240102-000042", FormatInvoiceNumber(time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC), 42))
}
