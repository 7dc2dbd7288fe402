package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goldledger/internal/domain"
	"goldledger/internal/inventory"
	"goldledger/internal/invoice"
	"goldledger/internal/pricing"
	"goldledger/internal/store"

	"github.com/sirupsen/logrus"
)

type Service struct {
	db       store.Database
	invoices *invoice.Orchestrator
	ledger   *inventory.Ledger
	log      logrus.FieldLogger
}

func New(db store.Database, invoices *invoice.Orchestrator, log logrus.FieldLogger) *Service {
	return &Service{
		db:       db,
		invoices: invoices,
		ledger:   inventory.NewLedger(db, log),
		log:      log,
	}
}

func (s *Service) CreateInvoice(ctx context.Context, req invoice.Request) (*domain.Invoice, error) {
	return s.invoices.CreateInvoice(ctx, req)
}

func (s *Service) UpdateInvoice(ctx context.Context, id int64, req invoice.Request) (*domain.Invoice, error) {
	return s.invoices.UpdateInvoice(ctx, id, req)
}

func (s *Service) CancelInvoice(ctx context.Context, id int64, reason string) (*domain.Invoice, error) {
	return s.invoices.CancelInvoice(ctx, id, strings.TrimSpace(reason))
}

func (s *Service) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return s.invoices.GetInvoice(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, filter domain.InvoiceListFilter) ([]domain.Invoice, error) {
	return s.invoices.ListInvoices(ctx, filter)
}

func (s *Service) CheckAvailability(ctx context.Context, requests []inventory.Request) ([]domain.UnavailableItem, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}
	return s.ledger.CheckAvailability(ctx, requests)
}

func (s *Service) LowStock(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.ledger.GetLowStockItems(ctx)
}

func (s *Service) Movements(ctx context.Context, itemID int64) ([]domain.InventoryMovement, error) {
	return s.ledger.GetInventoryMovements(ctx, itemID)
}

// AdjustStock applies a manual correction and returns the item as it stands
// afterwards.
func (s *Service) AdjustStock(ctx context.Context, itemID int64, delta int, notes string) (domain.InventoryItem, error) {
	if delta == 0 {
		return domain.InventoryItem{}, fmt.Errorf("delta cannot be zero")
	}
	var updated domain.InventoryItem
	err := s.db.RunInTx(ctx, func(tx store.Store) error {
		ledger := inventory.NewLedger(tx, s.log)
		if err := ledger.Adjust(ctx, itemID, delta, domain.ReferenceManualAdjustment, nil, strings.TrimSpace(notes)); err != nil {
			return err
		}
		items, err := tx.GetInventoryItems(ctx, []int64{itemID})
		if err != nil {
			return fmt.Errorf("reload inventory item: %w", err)
		}
		updated = items[itemID]
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.log.WithFields(logrus.Fields{
		"item_id":  itemID,
		"delta":    delta,
		"quantity": updated.Quantity,
	}).Info("stock adjusted")
	return updated, nil
}

// ImportStock applies a stock take: unknown SKUs become new items, known ones
// get their attributes refreshed, and every quantity is moved to the counted
// value through the ledger. The whole file is one transaction.
func (s *Service) ImportStock(ctx context.Context, rows []domain.StockImportRow) (domain.StockImportResult, error) {
	var result domain.StockImportResult
	if len(rows) == 0 {
		return result, fmt.Errorf("import file has no data rows")
	}

	err := s.db.RunInTx(ctx, func(tx store.Store) error {
		result = domain.StockImportResult{}
		ledger := inventory.NewLedger(tx, s.log)
		for _, row := range rows {
			item, created, err := upsertStockItem(ctx, tx, row)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}

			delta := row.Quantity - item.Quantity
			if delta == 0 {
				continue
			}
			if err := ledger.Adjust(ctx, item.ID, delta, domain.ReferenceStockImport, nil, "Stock take"); err != nil {
				return fmt.Errorf("adjust %s: %w", row.SKU, err)
			}
			result.Adjusted++
		}
		return nil
	})
	if err != nil {
		return domain.StockImportResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"rows":     len(rows),
		"created":  result.Created,
		"updated":  result.Updated,
		"adjusted": result.Adjusted,
	}).Info("stock take imported")
	return result, nil
}

func upsertStockItem(ctx context.Context, tx store.Store, row domain.StockImportRow) (domain.InventoryItem, bool, error) {
	existing, err := tx.GetInventoryItemBySKU(ctx, row.SKU)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.InventoryItem{}, false, fmt.Errorf("lookup %s: %w", row.SKU, err)
	}

	if existing == nil {
		name := row.Name
		if name == "" {
			name = row.SKU
		}
		item, err := tx.CreateInventoryItem(ctx, domain.InventoryItem{
			SKU:          row.SKU,
			Name:         name,
			Weight:       row.Weight,
			GoldPurity:   row.GoldPurity,
			UnitPrice:    row.UnitPrice,
			CostPrice:    row.CostPrice,
			MinimumStock: row.MinimumStock,
			IsActive:     true,
		})
		if err != nil {
			return domain.InventoryItem{}, false, fmt.Errorf("create %s: %w", row.SKU, err)
		}
		return item, true, nil
	}

	item := *existing
	if row.Name != "" {
		item.Name = row.Name
	}
	if row.Weight.IsPositive() {
		item.Weight = row.Weight
	}
	if row.GoldPurity != "" {
		item.GoldPurity = row.GoldPurity
	}
	if row.UnitPrice.Valid {
		item.UnitPrice = row.UnitPrice
	}
	if row.CostPrice.Valid {
		item.CostPrice = row.CostPrice
	}
	if row.MinimumStock > 0 {
		item.MinimumStock = row.MinimumStock
	}
	if err := tx.UpdateInventoryItemDetails(ctx, item); err != nil {
		return domain.InventoryItem{}, false, fmt.Errorf("update %s: %w", row.SKU, err)
	}
	return item, false, nil
}

// ImportPriceList sets the static sell price of existing items. SKUs with no
// matching item are reported back and otherwise ignored.
func (s *Service) ImportPriceList(ctx context.Context, rows []domain.PriceListRow) (domain.PriceListImportResult, error) {
	result := domain.PriceListImportResult{UnknownSKUs: []string{}}
	if len(rows) == 0 {
		return result, fmt.Errorf("price file has no data rows")
	}

	err := s.db.RunInTx(ctx, func(tx store.Store) error {
		result = domain.PriceListImportResult{UnknownSKUs: []string{}}
		for _, row := range rows {
			existing, err := tx.GetInventoryItemBySKU(ctx, row.SKU)
			if errors.Is(err, store.ErrNotFound) {
				result.UnknownSKUs = append(result.UnknownSKUs, row.SKU)
				continue
			}
			if err != nil {
				return fmt.Errorf("lookup %s: %w", row.SKU, err)
			}
			item := *existing
			item.UnitPrice.Decimal = row.UnitPrice
			item.UnitPrice.Valid = true
			if row.CostPrice.Valid {
				item.CostPrice = row.CostPrice
			}
			if err := tx.UpdateInventoryItemDetails(ctx, item); err != nil {
				return fmt.Errorf("update %s: %w", row.SKU, err)
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return domain.PriceListImportResult{UnknownSKUs: []string{}}, err
	}

	s.log.WithFields(logrus.Fields{
		"rows":    len(rows),
		"updated": result.Updated,
		"unknown": len(result.UnknownSKUs),
	}).Info("price list imported")
	return result, nil
}

func (s *Service) CalculatePrice(p pricing.Params) (pricing.Breakdown, error) {
	return pricing.CalculateItemPrice(p)
}

func (s *Service) PriceBreakdown(p pricing.Params) (pricing.PriceBreakdown, error) {
	return pricing.GetPriceBreakdown(p)
}
