package repository

import (
	"context"
	"errors"
	"fmt"

	"goldledger/internal/domain"
	"goldledger/internal/store"

	"github.com/jackc/pgx/v5"
)

const inventoryItemColumns = `
	id,
	sku,
	name,
	category_id,
	quantity,
	weight,
	gold_purity,
	unit_price,
	cost_price,
	minimum_stock,
	is_active,
	created_at,
	updated_at
`

func (r *Repository) GetInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error) {
	return r.loadInventoryItems(ctx, ids, "")
}

// LockInventoryItems takes the row locks in id order so two reservations on
// overlapping items cannot deadlock.
func (r *Repository) LockInventoryItems(ctx context.Context, ids []int64) (map[int64]domain.InventoryItem, error) {
	return r.loadInventoryItems(ctx, ids, " FOR UPDATE")
}

func (r *Repository) loadInventoryItems(ctx context.Context, ids []int64, suffix string) (map[int64]domain.InventoryItem, error) {
	result := make(map[int64]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+inventoryItemColumns+`
		FROM inventory_items
		WHERE id = ANY($1)
		ORDER BY id`+suffix, ids)
	if err != nil {
		return nil, fmt.Errorf("query inventory items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanInventoryItemRow(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory items: %w", err)
	}
	return result, nil
}

func (r *Repository) DecrementQuantity(ctx context.Context, itemID int64, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("decrement inventory item %d by %d: %w", itemID, qty, domain.ErrInvalidQuantity)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE inventory_items
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
	`, itemID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement inventory item %d: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) IncrementQuantity(ctx context.Context, itemID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("increment inventory item %d by %d: %w", itemID, qty, domain.ErrInvalidQuantity)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE inventory_items
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1
	`, itemID, qty)
	if err != nil {
		return fmt.Errorf("increment inventory item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) InsertMovement(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryMovement, error) {
	if err := r.q.QueryRow(ctx, `
		INSERT INTO inventory_movements (
			inventory_item_id,
			movement_type,
			quantity,
			reference_type,
			reference_id,
			notes
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		movement.InventoryItemID,
		string(movement.Type),
		movement.Quantity,
		movement.ReferenceType,
		movement.ReferenceID,
		movement.Notes,
	).Scan(&movement.ID, &movement.CreatedAt); err != nil {
		return domain.InventoryMovement{}, fmt.Errorf("insert inventory movement: %w", err)
	}
	return movement, nil
}

func (r *Repository) NetInvoiceMovements(ctx context.Context, invoiceID int64) (map[int64]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT inventory_item_id, SUM(quantity)
		FROM inventory_movements
		WHERE reference_id = $1
			AND reference_type IN ($2, $3)
			AND movement_type IN ('sale', 'return')
		GROUP BY inventory_item_id
	`, invoiceID, domain.ReferenceInvoice, domain.ReferenceInvoiceCancellation)
	if err != nil {
		return nil, fmt.Errorf("sum invoice movements: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]int)
	for rows.Next() {
		var (
			itemID int64
			net    int64
		)
		if err := rows.Scan(&itemID, &net); err != nil {
			return nil, fmt.Errorf("scan invoice movement sum: %w", err)
		}
		result[itemID] = int(net)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice movement sums: %w", err)
	}
	return result, nil
}

func (r *Repository) ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+inventoryItemColumns+`
		FROM inventory_items
		WHERE is_active AND quantity < minimum_stock
		ORDER BY (minimum_stock - quantity) DESC, sku ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list low stock items: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InventoryItem, 0)
	for rows.Next() {
		item, err := scanInventoryItemRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low stock items: %w", err)
	}
	return result, nil
}

func (r *Repository) ListMovements(ctx context.Context, itemID int64) ([]domain.InventoryMovement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT
			id,
			inventory_item_id,
			movement_type,
			quantity,
			reference_type,
			reference_id,
			notes,
			created_at
		FROM inventory_movements
		WHERE inventory_item_id = $1
		ORDER BY created_at DESC, id DESC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list movements for item %d: %w", itemID, err)
	}
	defer rows.Close()

	result := make([]domain.InventoryMovement, 0)
	for rows.Next() {
		movement, err := scanMovementRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movements: %w", err)
	}
	return result, nil
}

func (r *Repository) GetInventoryItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+inventoryItemColumns+`
		FROM inventory_items
		WHERE LOWER(sku) = LOWER($1)
	`, sku)
	item, err := scanInventoryItemRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get inventory item %q: %w", sku, err)
	}
	return &item, nil
}

// CreateInventoryItem always starts the item at zero; stock arrives through
// ledger adjustments.
func (r *Repository) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (domain.InventoryItem, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO inventory_items (
			sku,
			name,
			category_id,
			quantity,
			weight,
			gold_purity,
			unit_price,
			cost_price,
			minimum_stock,
			is_active
		) VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9)
		RETURNING `+inventoryItemColumns,
		item.SKU,
		item.Name,
		item.CategoryID,
		item.Weight,
		item.GoldPurity,
		item.UnitPrice,
		item.CostPrice,
		item.MinimumStock,
		item.IsActive,
	)
	created, err := scanInventoryItemRow(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.InventoryItem{}, fmt.Errorf("inventory item with sku %q: %w", item.SKU, store.ErrDuplicate)
		}
		return domain.InventoryItem{}, fmt.Errorf("insert inventory item %q: %w", item.SKU, err)
	}
	return created, nil
}

func (r *Repository) UpdateInventoryItemDetails(ctx context.Context, item domain.InventoryItem) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE inventory_items
		SET
			name = $2,
			category_id = $3,
			weight = $4,
			gold_purity = $5,
			unit_price = $6,
			cost_price = $7,
			minimum_stock = $8,
			is_active = $9,
			updated_at = NOW()
		WHERE id = $1
	`,
		item.ID,
		item.Name,
		item.CategoryID,
		item.Weight,
		item.GoldPurity,
		item.UnitPrice,
		item.CostPrice,
		item.MinimumStock,
		item.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update inventory item %d: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
