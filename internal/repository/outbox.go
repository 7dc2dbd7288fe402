package repository

import (
	"context"
	"fmt"

	"goldledger/internal/domain"
	"goldledger/internal/store"
)

func (r *Repository) InsertInvoiceEvent(ctx context.Context, event domain.InvoiceEvent) error {
	if _, err := r.q.Exec(ctx, `
		INSERT INTO invoice_events (
			event_id,
			invoice_id,
			event_type,
			payload
		) VALUES ($1, $2, $3, $4)
	`, event.EventID, event.InvoiceID, string(event.Type), string(event.Payload)); err != nil {
		return fmt.Errorf("insert invoice event: %w", err)
	}
	return nil
}

func (r *Repository) ListUnpublishedEvents(ctx context.Context, limit int) ([]domain.InvoiceEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT
			id,
			event_id,
			invoice_id,
			event_type,
			payload,
			created_at,
			published_at
		FROM invoice_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list unpublished events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InvoiceEvent, 0)
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unpublished events: %w", err)
	}
	return result, nil
}

func (r *Repository) MarkEventsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `
		UPDATE invoice_events
		SET published_at = NOW()
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids); err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}
