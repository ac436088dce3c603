package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Producer delivers audit records to the event bus. Implemented by the
// platform Kafka client; tests swap in a fake.
type Producer interface {
	Produce(ctx context.Context, topic string, key string, value []byte) error
}

const (
	defaultDrainInterval = 2 * time.Second
	defaultBatchSize     = 100
)

// Worker drains the outbox to Kafka. Events are delivered in outbox order
// and marked published only after the produce succeeds, so a crash between
// the two at worst redelivers (at-least-once).
type Worker struct {
	store    Store
	producer Producer
	topic    string
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithDrainInterval overrides how often the worker polls the outbox.
func WithDrainInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.interval = d
	}
}

// WithBatchSize overrides how many events one drain pass delivers.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		w.batch = n
	}
}

// WithWorkerClock overrides the published-at timestamp source for tests.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(store Store, producer Producer, topic string, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:    store,
		producer: producer,
		topic:    topic,
		logger:   logger,
		interval: defaultDrainInterval,
		batch:    defaultBatchSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the outbox until the context is cancelled. Delivery errors are
// logged and retried on the next tick rather than stopping the worker.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit drain failed", "error", err)
			}
		}
	}
}

// Drain delivers one batch of unpublished events. Exported so tests and
// shutdown paths can flush without running the loop.
func (w *Worker) Drain(ctx context.Context) error {
	events, err := w.store.Unpublished(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]int64, 0, len(events))
	var produceErr error
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal audit event %d: %w", event.ID, err)
		}
		// Key by wallet so one wallet's trail stays ordered per partition.
		if err := w.producer.Produce(ctx, w.topic, event.WalletID.String(), value); err != nil {
			// Deliver a prefix and mark it; the rest retries next tick.
			produceErr = err
			break
		}
		published = append(published, event.ID)
	}
	if len(published) == 0 {
		return fmt.Errorf("produce audit events: none of %d delivered: %w", len(events), produceErr)
	}
	if produceErr != nil {
		w.logger.ErrorContext(ctx, "audit produce failed mid-batch",
			"error", produceErr,
			"delivered", len(published),
			"remaining", len(events)-len(published),
		)
	}

	if err := w.store.MarkPublished(ctx, published, w.now()); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	w.logger.DebugContext(ctx, "audit events published", "count", len(published))
	return nil
}
