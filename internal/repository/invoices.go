package repository

import (
	"context"
	"errors"
	"fmt"

	"goldledger/internal/domain"
	"goldledger/internal/store"

	"github.com/jackc/pgx/v5"
)

const invoiceColumns = `
	id,
	invoice_number,
	customer_id,
	invoice_date,
	due_date,
	status,
	gold_price_per_gram,
	labor_percentage,
	profit_percentage,
	tax_percentage,
	subtotal,
	tax_amount,
	total_amount,
	notes,
	cancellation_reason,
	cancelled_at,
	created_at,
	updated_at
`

const invoiceItemColumns = `
	id,
	invoice_id,
	inventory_item_id,
	quantity,
	weight,
	gold_purity,
	pricing_mode,
	base_gold_cost,
	labor_cost,
	profit_amount,
	tax_amount,
	unit_price,
	total_price
`

func (r *Repository) CustomerExists(ctx context.Context, customerID int64) (bool, error) {
	var exists bool
	if err := r.q.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)",
		customerID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check customer %d: %w", customerID, err)
	}
	return exists, nil
}

func (r *Repository) NextInvoiceNumber(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.q.QueryRow(ctx, "SELECT nextval('invoice_number_seq')").Scan(&seq); err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return seq, nil
}

func (r *Repository) InsertInvoice(ctx context.Context, invoice *domain.Invoice) error {
	if err := r.q.QueryRow(ctx, `
		INSERT INTO invoices (
			invoice_number,
			customer_id,
			invoice_date,
			due_date,
			status,
			gold_price_per_gram,
			labor_percentage,
			profit_percentage,
			tax_percentage,
			subtotal,
			tax_amount,
			total_amount,
			notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		invoice.InvoiceNumber,
		invoice.CustomerID,
		invoice.InvoiceDate,
		invoice.DueDate,
		string(invoice.Status),
		invoice.GoldPricePerGram,
		invoice.LaborPercentage,
		invoice.ProfitPercentage,
		invoice.TaxPercentage,
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.TotalAmount,
		invoice.Notes,
	).Scan(&invoice.ID, &invoice.CreatedAt, &invoice.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice number %s: %w", invoice.InvoiceNumber, store.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	items, err := r.insertInvoiceItems(ctx, invoice.ID, invoice.Items)
	if err != nil {
		return err
	}
	invoice.Items = items
	return nil
}

func (r *Repository) insertInvoiceItems(ctx context.Context, invoiceID int64, items []domain.InvoiceItem) ([]domain.InvoiceItem, error) {
	stored := make([]domain.InvoiceItem, 0, len(items))
	for _, item := range items {
		item.InvoiceID = invoiceID
		if err := r.q.QueryRow(ctx, `
			INSERT INTO invoice_items (
				invoice_id,
				inventory_item_id,
				quantity,
				weight,
				gold_purity,
				pricing_mode,
				base_gold_cost,
				labor_cost,
				profit_amount,
				tax_amount,
				unit_price,
				total_price
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`,
			invoiceID,
			item.InventoryItemID,
			item.Quantity,
			item.Weight,
			item.GoldPurity,
			string(item.PricingMode),
			item.BaseGoldCost,
			item.LaborCost,
			item.ProfitAmount,
			item.TaxAmount,
			item.UnitPrice,
			item.TotalPrice,
		).Scan(&item.ID); err != nil {
			return nil, fmt.Errorf("insert invoice item: %w", err)
		}
		stored = append(stored, item)
	}
	return stored, nil
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return r.loadInvoice(ctx, id, "")
}

func (r *Repository) LockInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return r.loadInvoice(ctx, id, " FOR UPDATE")
}

func (r *Repository) loadInvoice(ctx context.Context, id int64, suffix string) (*domain.Invoice, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1`+suffix, id)
	invoice, err := scanInvoiceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}

	items, err := r.ListInvoiceItems(ctx, id)
	if err != nil {
		return nil, err
	}
	invoice.Items = items
	return &invoice, nil
}

func (r *Repository) UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	err := r.q.QueryRow(ctx, `
		UPDATE invoices
		SET
			customer_id = $2,
			invoice_date = $3,
			due_date = $4,
			status = $5,
			gold_price_per_gram = $6,
			labor_percentage = $7,
			profit_percentage = $8,
			tax_percentage = $9,
			subtotal = $10,
			tax_amount = $11,
			total_amount = $12,
			notes = $13,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		invoice.ID,
		invoice.CustomerID,
		invoice.InvoiceDate,
		invoice.DueDate,
		string(invoice.Status),
		invoice.GoldPricePerGram,
		invoice.LaborPercentage,
		invoice.ProfitPercentage,
		invoice.TaxPercentage,
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.TotalAmount,
		invoice.Notes,
	).Scan(&invoice.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update invoice %d: %w", invoice.ID, err)
	}
	return nil
}

func (r *Repository) MarkInvoiceCancelled(ctx context.Context, id int64, reason string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices
		SET
			status = 'cancelled',
			cancellation_reason = NULLIF($2, ''),
			cancelled_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("cancel invoice %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check invoice %d: %w", id, err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (r *Repository) ReplaceInvoiceItems(ctx context.Context, invoiceID int64, items []domain.InvoiceItem) ([]domain.InvoiceItem, error) {
	if _, err := r.q.Exec(ctx, "DELETE FROM invoice_items WHERE invoice_id = $1", invoiceID); err != nil {
		return nil, fmt.Errorf("delete invoice items: %w", err)
	}
	return r.insertInvoiceItems(ctx, invoiceID, items)
}

func (r *Repository) ListInvoiceItems(ctx context.Context, invoiceID int64) ([]domain.InvoiceItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+invoiceItemColumns+`
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InvoiceItem, 0)
	for rows.Next() {
		item, err := scanInvoiceItemRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice items: %w", err)
	}
	return result, nil
}

func (r *Repository) ListInvoices(ctx context.Context, filter domain.InvoiceListFilter) ([]domain.Invoice, error) {
	limit := store.NormalizeLimit(filter.Limit)
	offset := store.NormalizeOffset(filter.Offset)

	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE ($1 = '' OR status = $1)
	`
	args := []any{string(filter.Status)}
	idx := 2

	if filter.CustomerID != nil {
		query += fmt.Sprintf(" AND customer_id = $%d", idx)
		args = append(args, *filter.CustomerID)
		idx++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND invoice_date >= $%d", idx)
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND invoice_date <= $%d", idx)
		args = append(args, *filter.To)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY invoice_date DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoiceRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return result, nil
}
