// Package memory is an in-process implementation of store.Database. A single
// mutex serializes transactions, and a failed transaction restores the
// snapshot taken when it started.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"goldledger/internal/domain"
	"goldledger/internal/store"
)

type state struct {
	items         map[int64]domain.InventoryItem
	movements     []domain.InventoryMovement
	invoices      map[int64]domain.Invoice
	invoiceItems  map[int64][]domain.InvoiceItem
	events        []domain.InvoiceEvent
	customers     map[int64]struct{}
	nextItemID    int64
	nextMoveID    int64
	nextInvoiceID int64
	nextLineID    int64
	nextEventID   int64
	invoiceSeq    int64
}

func newState() *state {
	return &state{
		items:        make(map[int64]domain.InventoryItem),
		invoices:     make(map[int64]domain.Invoice),
		invoiceItems: make(map[int64][]domain.InvoiceItem),
		customers:    make(map[int64]struct{}),
	}
}

func (s *state) clone() *state {
	c := *s
	c.items = make(map[int64]domain.InventoryItem, len(s.items))
	for k, v := range s.items {
		c.items[k] = v
	}
	c.movements = append([]domain.InventoryMovement(nil), s.movements...)
	c.invoices = make(map[int64]domain.Invoice, len(s.invoices))
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	c.invoiceItems = make(map[int64][]domain.InvoiceItem, len(s.invoiceItems))
	for k, v := range s.invoiceItems {
		c.invoiceItems[k] = append([]domain.InvoiceItem(nil), v...)
	}
	c.events = append([]domain.InvoiceEvent(nil), s.events...)
	c.customers = make(map[int64]struct{}, len(s.customers))
	for k := range s.customers {
		c.customers[k] = struct{}{}
	}
	return &c
}

var (
	_ store.Database = (*DB)(nil)
	_ store.Store    = (*txStore)(nil)
)

type DB struct {
	mu  sync.Mutex
	now func() time.Time
	st  *state
}

func New() *DB {
	return &DB{now: time.Now, st: newState()}
}

func (db *DB) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := db.st.clone()
	tx := &txStore{st: db.st, now: db.now}

	committed := false
	defer func() {
		if !committed {
			db.st = snapshot
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// AddCustomer registers a customer id so invoices can reference it.
func (db *DB) AddCustomer(id int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.st.customers[id] = struct{}{}
}

// SeedItem creates an item holding qty units. The opening stock is recorded
// as a stock_import adjustment so the movement trail stays complete. It
// panics when the item cannot be created, e.g. on a duplicate SKU.
func (db *DB) SeedItem(item domain.InventoryItem, qty int) domain.InventoryItem {
	created, err := db.seedItem(item, qty)
	if err != nil {
		panic(fmt.Sprintf("seed item %s: %v", item.SKU, err))
	}
	return created
}

func (db *DB) seedItem(item domain.InventoryItem, qty int) (domain.InventoryItem, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	snapshot := db.st.clone()
	tx := &txStore{st: db.st, now: db.now}
	item.Quantity = 0
	created, err := tx.CreateInventoryItem(context.Background(), item)
	if err == nil && qty != 0 {
		err = tx.IncrementQuantity(context.Background(), created.ID, qty)
		if err == nil {
			_, err = tx.InsertMovement(context.Background(), domain.InventoryMovement{
				InventoryItemID: created.ID,
				Type:            domain.MovementAdjustment,
				Quantity:        qty,
				ReferenceType:   domain.ReferenceStockImport,
				Notes:           "Opening stock",
			})
		}
		created.Quantity = qty
	}
	if err != nil {
		db.st = snapshot
		return domain.InventoryItem{}, err
	}
	return created, nil
}

func (db *DB) view(fn func(tx *txStore) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(&txStore{st: db.st, now: db.now})
}

func (db *DB) GetInventoryItems(ctx context.Context, ids []int64) (result map[int64]domain.InventoryItem, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.GetInventoryItems(ctx, ids)
		return err
	})
	return result, err
}

func (db *DB) LockInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error) {
	return db.GetInventoryItems(ctx, ids)
}

func (db *DB) DecrementQuantity(ctx context.Context, itemID int64, qty int) (ok bool, err error) {
	err = db.view(func(tx *txStore) error {
		ok, err = tx.DecrementQuantity(ctx, itemID, qty)
		return err
	})
	return ok, err
}

func (db *DB) IncrementQuantity(ctx context.Context, itemID int64, qty int) error {
	return db.view(func(tx *txStore) error {
		return tx.IncrementQuantity(ctx, itemID, qty)
	})
}

func (db *DB) InsertMovement(ctx context.Context, movement domain.InventoryMovement) (result domain.InventoryMovement, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.InsertMovement(ctx, movement)
		return err
	})
	return result, err
}

func (db *DB) NetInvoiceMovements(ctx context.Context, invoiceID int64) (result map[int64]int, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.NetInvoiceMovements(ctx, invoiceID)
		return err
	})
	return result, err
}

func (db *DB) ListLowStockItems(ctx context.Context) (result []domain.InventoryItem, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.ListLowStockItems(ctx)
		return err
	})
	return result, err
}

func (db *DB) ListMovements(ctx context.Context, itemID int64) (result []domain.InventoryMovement, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.ListMovements(ctx, itemID)
		return err
	})
	return result, err
}

func (db *DB) GetInventoryItemBySKU(ctx context.Context, sku string) (result *domain.InventoryItem, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.GetInventoryItemBySKU(ctx, sku)
		return err
	})
	return result, err
}

func (db *DB) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (result domain.InventoryItem, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.CreateInventoryItem(ctx, item)
		return err
	})
	return result, err
}

func (db *DB) UpdateInventoryItemDetails(ctx context.Context, item domain.InventoryItem) error {
	return db.view(func(tx *txStore) error {
		return tx.UpdateInventoryItemDetails(ctx, item)
	})
}

func (db *DB) CustomerExists(ctx context.Context, customerID int64) (ok bool, err error) {
	err = db.view(func(tx *txStore) error {
		ok, err = tx.CustomerExists(ctx, customerID)
		return err
	})
	return ok, err
}

func (db *DB) NextInvoiceNumber(ctx context.Context) (n int64, err error) {
	err = db.view(func(tx *txStore) error {
		n, err = tx.NextInvoiceNumber(ctx)
		return err
	})
	return n, err
}

func (db *DB) InsertInvoice(ctx context.Context, invoice *domain.Invoice) error {
	return db.view(func(tx *txStore) error {
		return tx.InsertInvoice(ctx, invoice)
	})
}

func (db *DB) GetInvoice(ctx context.Context, id int64) (result *domain.Invoice, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.GetInvoice(ctx, id)
		return err
	})
	return result, err
}

func (db *DB) LockInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return db.GetInvoice(ctx, id)
}

func (db *DB) UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	return db.view(func(tx *txStore) error {
		return tx.UpdateInvoice(ctx, invoice)
	})
}

func (db *DB) MarkInvoiceCancelled(ctx context.Context, id int64, reason string) (ok bool, err error) {
	err = db.view(func(tx *txStore) error {
		ok, err = tx.MarkInvoiceCancelled(ctx, id, reason)
		return err
	})
	return ok, err
}

func (db *DB) ReplaceInvoiceItems(ctx context.Context, invoiceID int64, items []domain.InvoiceItem) (result []domain.InvoiceItem, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.ReplaceInvoiceItems(ctx, invoiceID, items)
		return err
	})
	return result, err
}

func (db *DB) ListInvoiceItems(ctx context.Context, invoiceID int64) (result []domain.InvoiceItem, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.ListInvoiceItems(ctx, invoiceID)
		return err
	})
	return result, err
}

func (db *DB) ListInvoices(ctx context.Context, filter domain.InvoiceListFilter) (result []domain.Invoice, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.ListInvoices(ctx, filter)
		return err
	})
	return result, err
}

func (db *DB) InsertInvoiceEvent(ctx context.Context, event domain.InvoiceEvent) error {
	return db.view(func(tx *txStore) error {
		return tx.InsertInvoiceEvent(ctx, event)
	})
}

func (db *DB) ListUnpublishedEvents(ctx context.Context, limit int) (result []domain.InvoiceEvent, err error) {
	err = db.view(func(tx *txStore) error {
		result, err = tx.ListUnpublishedEvents(ctx, limit)
		return err
	})
	return result, err
}

func (db *DB) MarkEventsPublished(ctx context.Context, ids []int64) error {
	return db.view(func(tx *txStore) error {
		return tx.MarkEventsPublished(ctx, ids)
	})
}

// txStore operates on the state without locking; the caller holds db.mu.
type txStore struct {
	st  *state
	now func() time.Time
}

func (t *txStore) GetInventoryItems(_ context.Context, ids []int64) (map[int64]domain.InventoryItem, error) {
	result := make(map[int64]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := t.st.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (t *txStore) LockInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error) {
	return t.GetInventoryItems(ctx, ids)
}

func (t *txStore) DecrementQuantity(_ context.Context, itemID int64, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("decrement item %d by %d: %w", itemID, qty, domain.ErrInvalidQuantity)
	}
	item, ok := t.st.items[itemID]
	if !ok || item.Quantity < qty {
		return false, nil
	}
	item.Quantity -= qty
	item.UpdatedAt = t.now()
	t.st.items[itemID] = item
	return true, nil
}

func (t *txStore) IncrementQuantity(_ context.Context, itemID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("increment item %d by %d: %w", itemID, qty, domain.ErrInvalidQuantity)
	}
	item, ok := t.st.items[itemID]
	if !ok {
		return store.ErrNotFound
	}
	item.Quantity += qty
	item.UpdatedAt = t.now()
	t.st.items[itemID] = item
	return nil
}

func (t *txStore) InsertMovement(_ context.Context, movement domain.InventoryMovement) (domain.InventoryMovement, error) {
	if _, ok := t.st.items[movement.InventoryItemID]; !ok {
		return domain.InventoryMovement{}, store.ErrNotFound
	}
	t.st.nextMoveID++
	movement.ID = t.st.nextMoveID
	movement.CreatedAt = t.now()
	t.st.movements = append(t.st.movements, movement)
	return movement, nil
}

func (t *txStore) NetInvoiceMovements(_ context.Context, invoiceID int64) (map[int64]int, error) {
	result := make(map[int64]int)
	for _, m := range t.st.movements {
		if m.ReferenceID == nil || *m.ReferenceID != invoiceID {
			continue
		}
		if m.ReferenceType != domain.ReferenceInvoice && m.ReferenceType != domain.ReferenceInvoiceCancellation {
			continue
		}
		if m.Type != domain.MovementSale && m.Type != domain.MovementReturn {
			continue
		}
		result[m.InventoryItemID] += m.Quantity
	}
	return result, nil
}

func (t *txStore) ListLowStockItems(_ context.Context) ([]domain.InventoryItem, error) {
	result := make([]domain.InventoryItem, 0)
	for _, item := range t.st.items {
		if item.IsActive && item.Quantity < item.MinimumStock {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		si, sj := result[i].Shortfall(), result[j].Shortfall()
		if si != sj {
			return si > sj
		}
		return result[i].SKU < result[j].SKU
	})
	return result, nil
}

func (t *txStore) ListMovements(_ context.Context, itemID int64) ([]domain.InventoryMovement, error) {
	result := make([]domain.InventoryMovement, 0)
	for _, m := range t.st.movements {
		if m.InventoryItemID == itemID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (t *txStore) GetInventoryItemBySKU(_ context.Context, sku string) (*domain.InventoryItem, error) {
	for _, item := range t.st.items {
		if strings.EqualFold(item.SKU, sku) {
			found := item
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *txStore) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (domain.InventoryItem, error) {
	for _, existing := range t.st.items {
		if strings.EqualFold(existing.SKU, item.SKU) {
			return domain.InventoryItem{}, fmt.Errorf("inventory item with sku %q: %w", item.SKU, store.ErrDuplicate)
		}
	}
	t.st.nextItemID++
	now := t.now()
	item.ID = t.st.nextItemID
	item.CreatedAt = now
	item.UpdatedAt = now
	t.st.items[item.ID] = item
	return item, nil
}

func (t *txStore) UpdateInventoryItemDetails(_ context.Context, item domain.InventoryItem) error {
	existing, ok := t.st.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Name = item.Name
	existing.Weight = item.Weight
	existing.GoldPurity = item.GoldPurity
	existing.UnitPrice = item.UnitPrice
	existing.CostPrice = item.CostPrice
	existing.MinimumStock = item.MinimumStock
	existing.IsActive = item.IsActive
	existing.CategoryID = item.CategoryID
	existing.UpdatedAt = t.now()
	t.st.items[item.ID] = existing
	return nil
}

func (t *txStore) CustomerExists(_ context.Context, customerID int64) (bool, error) {
	_, ok := t.st.customers[customerID]
	return ok, nil
}

func (t *txStore) NextInvoiceNumber(_ context.Context) (int64, error) {
	t.st.invoiceSeq++
	return t.st.invoiceSeq, nil
}

func (t *txStore) InsertInvoice(_ context.Context, invoice *domain.Invoice) error {
	for _, existing := range t.st.invoices {
		if existing.InvoiceNumber == invoice.InvoiceNumber {
			return fmt.Errorf("invoice number %s: %w", invoice.InvoiceNumber, store.ErrDuplicate)
		}
	}
	t.st.nextInvoiceID++
	now := t.now()
	invoice.ID = t.st.nextInvoiceID
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	row := *invoice
	row.Items = nil
	t.st.invoices[invoice.ID] = row

	invoice.Items = t.storeItems(invoice.ID, invoice.Items)
	return nil
}

func (t *txStore) storeItems(invoiceID int64, items []domain.InvoiceItem) []domain.InvoiceItem {
	stored := make([]domain.InvoiceItem, 0, len(items))
	for _, item := range items {
		t.st.nextLineID++
		item.ID = t.st.nextLineID
		item.InvoiceID = invoiceID
		stored = append(stored, item)
	}
	t.st.invoiceItems[invoiceID] = stored
	return append([]domain.InvoiceItem(nil), stored...)
}

func (t *txStore) GetInvoice(_ context.Context, id int64) (*domain.Invoice, error) {
	row, ok := t.st.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	row.Items = append([]domain.InvoiceItem(nil), t.st.invoiceItems[id]...)
	return &row, nil
}

func (t *txStore) LockInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return t.GetInvoice(ctx, id)
}

func (t *txStore) UpdateInvoice(_ context.Context, invoice *domain.Invoice) error {
	existing, ok := t.st.invoices[invoice.ID]
	if !ok {
		return store.ErrNotFound
	}
	row := *invoice
	row.Items = nil
	row.InvoiceNumber = existing.InvoiceNumber
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = t.now()
	t.st.invoices[invoice.ID] = row
	invoice.UpdatedAt = row.UpdatedAt
	return nil
}

func (t *txStore) MarkInvoiceCancelled(_ context.Context, id int64, reason string) (bool, error) {
	row, ok := t.st.invoices[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if row.Status == domain.InvoiceStatusCancelled {
		return false, nil
	}
	now := t.now()
	row.Status = domain.InvoiceStatusCancelled
	row.CancelledAt = &now
	if reason != "" {
		r := reason
		row.CancellationReason = &r
	}
	row.UpdatedAt = now
	t.st.invoices[id] = row
	return true, nil
}

func (t *txStore) ReplaceInvoiceItems(_ context.Context, invoiceID int64, items []domain.InvoiceItem) ([]domain.InvoiceItem, error) {
	if _, ok := t.st.invoices[invoiceID]; !ok {
		return nil, store.ErrNotFound
	}
	return t.storeItems(invoiceID, items), nil
}

func (t *txStore) ListInvoiceItems(_ context.Context, invoiceID int64) ([]domain.InvoiceItem, error) {
	return append([]domain.InvoiceItem{}, t.st.invoiceItems[invoiceID]...), nil
}

func (t *txStore) ListInvoices(_ context.Context, filter domain.InvoiceListFilter) ([]domain.Invoice, error) {
	matched := make([]domain.Invoice, 0)
	for _, row := range t.st.invoices {
		if filter.CustomerID != nil && row.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if filter.From != nil && row.InvoiceDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && row.InvoiceDate.After(*filter.To) {
			continue
		}
		matched = append(matched, row)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].InvoiceDate.Equal(matched[j].InvoiceDate) {
			return matched[i].InvoiceDate.After(matched[j].InvoiceDate)
		}
		return matched[i].ID > matched[j].ID
	})

	offset := store.NormalizeOffset(filter.Offset)
	limit := store.NormalizeLimit(filter.Limit)
	if offset >= len(matched) {
		return []domain.Invoice{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (t *txStore) InsertInvoiceEvent(_ context.Context, event domain.InvoiceEvent) error {
	t.st.nextEventID++
	event.ID = t.st.nextEventID
	event.CreatedAt = t.now()
	t.st.events = append(t.st.events, event)
	return nil
}

func (t *txStore) ListUnpublishedEvents(_ context.Context, limit int) ([]domain.InvoiceEvent, error) {
	limit = store.NormalizeLimit(limit)
	result := make([]domain.InvoiceEvent, 0)
	for _, event := range t.st.events {
		if event.PublishedAt != nil {
			continue
		}
		result = append(result, event)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (t *txStore) MarkEventsPublished(_ context.Context, ids []int64) error {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	now := t.now()
	for i := range t.st.events {
		if _, ok := wanted[t.st.events[i].ID]; ok && t.st.events[i].PublishedAt == nil {
			published := now
			t.st.events[i].PublishedAt = &published
		}
	}
	return nil
}
