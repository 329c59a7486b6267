package outbox

import (
	"context"
	"time"

	"baton/internal/observability"

	"go.uber.org/zap"
)

// Dispatcher drains unpublished outbox rows to the transport. Rows are marked
// sent only after the publisher acknowledges, so delivery is at-least-once;
// consumers dedupe by event id.
type Dispatcher struct {
	store     Store
	publisher Publisher
	log       *zap.Logger
	metrics   *observability.Metrics

	interval  time.Duration
	batchSize int
}

// NewDispatcher constructs a dispatcher polling at the given interval.
func NewDispatcher(store Store, publisher Publisher, interval time.Duration, batchSize int, log *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		log:       log,
		metrics:   metrics,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until the context ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain publishes one batch of pending rows in insertion order and reports
// how many were settled. A publish failure stops the batch so later rows for
// the same key are not reordered ahead of the failed one.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	records, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range records {
		span := d.metrics.Start("outbox.publish")
		err := d.publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload)
		span.End(err)
		if err != nil {
			d.log.Warn("outbox publish failed",
				zap.Int64("outbox_id", rec.ID),
				zap.String("topic", rec.Topic),
				zap.String("event_id", rec.EventID),
				zap.Error(err))
			return sent, err
		}
		if err := d.store.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
