package events

import (
	"context"
	"fmt"
	"time"

	"goldledger/internal/domain"
	"goldledger/internal/logging"

	"github.com/sirupsen/logrus"
)

const defaultBatchSize = 100

type OutboxStore interface {
	ListUnpublishedEvents(ctx context.Context, limit int) ([]domain.InvoiceEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error
}

// Relay moves committed outbox rows to the publisher. Delivery is at least
// once: a crash between publish and mark sends the batch again.
type Relay struct {
	store     OutboxStore
	publisher Publisher
	interval  time.Duration
	batchSize int
	log       logrus.FieldLogger
}

func NewRelay(store OutboxStore, publisher Publisher, interval time.Duration, log logrus.FieldLogger) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		log:       log,
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				logging.LogError(r.log, "events", "Run", "flush outbox", nil, err)
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many events it sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.store.ListUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, pending); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(pending))
	for _, event := range pending {
		ids = append(ids, event.ID)
	}
	if err := r.store.MarkEventsPublished(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	r.log.WithField("count", len(ids)).Debug("invoice events published")
	return len(ids), nil
}
