package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"custodia/pkg/domain"
)

// Publisher writes audit events to the outbox with fail-closed semantics:
// the caller blocks until the write succeeds, and the calling operation must
// fail if it does not. Emit inside the operation's unit of work so the event
// and the state change commit together.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit appends the event to the outbox. Returns an error when persistence
// fails; the caller must then fail its operation.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Name == "" {
		return fmt.Errorf("audit event requires a name")
	}
	if event.WalletID.IsZero() {
		return fmt.Errorf("audit event requires a wallet id")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now()
	}

	if err := p.store.Append(ctx, &event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"event", event.Name,
				"wallet_id", event.WalletID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}

// Trail returns the wallet's audit trail in append order.
func (p *Publisher) Trail(ctx context.Context, walletID domain.WalletID) ([]*Event, error) {
	return p.store.ListByWallet(ctx, walletID)
}
