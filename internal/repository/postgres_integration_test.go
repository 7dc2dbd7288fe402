package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"goldledger/internal/db"
	"goldledger/internal/domain"
	"goldledger/internal/invoice"
	"goldledger/internal/store"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a disposable database named by INTEGRATION_DATABASE_URL.
func newIntegrationRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("INTEGRATION_DATABASE_URL")
	if url == "" {
		t.Skip("INTEGRATION_DATABASE_URL not set")
	}
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()

	pool, err := db.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.RunMigrations(ctx, pool, logger))

	_, err = pool.Exec(ctx, `
		TRUNCATE invoice_events, invoice_items, invoices, inventory_movements, inventory_items, customers
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "INSERT INTO customers (name) VALUES ('Walk-in')")
	require.NoError(t, err)
	return New(pool)
}

func seedItem(t *testing.T, repo *Repository, sku string, qty int) domain.InventoryItem {
	t.Helper()
	ctx := context.Background()
	var created domain.InventoryItem
	err := repo.RunInTx(ctx, func(tx store.Store) error {
		item, err := tx.CreateInventoryItem(ctx, domain.InventoryItem{
			SKU:        sku,
			Name:       sku,
			Weight:     decimal.RequireFromString("5"),
			GoldPurity: "18K",
			IsActive:   true,
		})
		if err != nil {
			return err
		}
		if err := tx.IncrementQuantity(ctx, item.ID, qty); err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, domain.InventoryMovement{
			InventoryItemID: item.ID,
			Type:            domain.MovementAdjustment,
			Quantity:        qty,
			ReferenceType:   domain.ReferenceStockImport,
		})
		item.Quantity = qty
		created = item
		return err
	})
	require.NoError(t, err)
	return created
}

func TestPostgres_InvoiceLifecycle(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	ring := seedItem(t, repo, "RING-PG", 10)

	orch := invoice.NewOrchestrator(repo, invoice.PricingDefaults{
		LaborPercentage:  decimal.NewFromInt(10),
		ProfitPercentage: decimal.NewFromInt(15),
		TaxPercentage:    decimal.NewFromInt(9),
	}, logger)

	inv, err := orch.CreateInvoice(ctx, invoice.Request{
		CustomerID:       1,
		GoldPricePerGram: decimal.NewFromInt(60),
		Items:            []invoice.ItemRequest{{InventoryItemID: ring.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "827.31", inv.TotalAmount.StringFixed(2))

	stored, err := repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(inv.TotalAmount))
	require.Len(t, stored.Items, 1)

	_, err = orch.CancelInvoice(ctx, inv.ID, "test")
	require.NoError(t, err)
	_, err = orch.CancelInvoice(ctx, inv.ID, "test")
	require.NoError(t, err)

	items, err := repo.GetInventoryItems(ctx, []int64{ring.ID})
	require.NoError(t, err)
	assert.Equal(t, 10, items[ring.ID].Quantity)

	pending, err := repo.ListUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPostgres_ConcurrentDecrementsNeverOversell(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()
	ring := seedItem(t, repo, "RING-RACE", 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.RunInTx(ctx, func(tx store.Store) error {
				if _, err := tx.LockInventoryItems(ctx, []int64{ring.ID}); err != nil {
					return err
				}
				time.Sleep(5 * time.Millisecond)
				ok, err := tx.DecrementQuantity(ctx, ring.ID, 3)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("worker %d: insufficient", i)
				}
				return nil
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	items, err := repo.GetInventoryItems(ctx, []int64{ring.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, items[ring.ID].Quantity)
}
