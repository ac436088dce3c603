// Package service orchestrates the multisig wallet state machine: proposal
// submission, confirmation, revocation and threshold-gated execution.
//
// Every mutation runs under a per-wallet lock and inside the runner's unit
// of work, so reads within an operation see a consistent snapshot and two
// racing executes cannot both succeed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit"
	"custodia/internal/wallet/cache"
	"custodia/internal/wallet/metrics"
	"custodia/internal/wallet/models"
	"custodia/internal/wallet/store"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// Sharded per-wallet locks. Operations hash the wallet ID onto a shard so
// unrelated wallets rarely contend while one wallet's mutations serialize.
const numWalletShards = 128

// Service implements the wallet operations.
type Service struct {
	wallets       store.WalletStore
	ledger        store.LedgerStore
	confirmations store.ConfirmationStore
	runner        txcontext.Runner
	auditor       *audit.Publisher
	cache         *cache.SnapshotCache
	metrics       *metrics.Metrics
	logger        *slog.Logger
	tracer        trace.Tracer

	shards [numWalletShards]sync.Mutex
}

// Option configures the Service.
type Option func(*Service)

// WithRunner sets the unit-of-work runner. Defaults to NopRunner, which is
// correct for in-memory stores relying on the per-wallet lock.
func WithRunner(runner txcontext.Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

// WithAuditor sets the audit publisher.
func WithAuditor(auditor *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithSnapshotCache sets the Redis-backed wallet snapshot cache.
func WithSnapshotCache(c *cache.SnapshotCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService wires the wallet service.
func NewService(wallets store.WalletStore, ledger store.LedgerStore, confirmations store.ConfirmationStore, opts ...Option) *Service {
	s := &Service{
		wallets:       wallets,
		ledger:        ledger,
		confirmations: confirmations,
		runner:        txcontext.NopRunner{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("custodia/wallet"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(id domain.WalletID) func() {
	shard := &s.shards[hashWalletID(id)%numWalletShards]
	shard.Lock()
	return shard.Unlock
}

// hashWalletID uses FNV-1a over the textual form.
func hashWalletID(id domain.WalletID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	str := id.String()
	h := uint32(fnvOffset)
	for i := 0; i < len(str); i++ {
		h ^= uint32(str[i])
		h *= fnvPrime
	}
	return h
}

// caller extracts the authenticated identity or fails with Unauthorized.
func (s *Service) caller(ctx context.Context) (domain.Address, error) {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return domain.Address{}, dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	return caller, nil
}

// loadWallet reads the wallet from the primary store, translating the
// sentinel. Mutations must use this, never the cache.
func (s *Service) loadWallet(ctx context.Context, id domain.WalletID) (*models.Wallet, error) {
	wallet, err := s.wallets.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "wallet %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load wallet")
	}
	return wallet, nil
}

// loadTransaction reads one ledger entry, translating the sentinel.
func (s *Service) loadTransaction(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	tx, err := s.ledger.Find(ctx, walletID, index)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "transaction %d not found", index)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load transaction")
	}
	return tx, nil
}

func requireOwner(wallet *models.Wallet, caller domain.Address) error {
	if !wallet.IsOwner(caller) {
		return dErrors.Newf(dErrors.CodeNotOwner, "%s is not an owner of wallet %s", caller, wallet.ID).
			WithMeta("caller", caller.String())
	}
	return nil
}

// invalidate drops the wallet's cached snapshot after a committed mutation.
// Failures are logged, not propagated: the TTL bounds staleness.
func (s *Service) invalidate(ctx context.Context, id domain.WalletID) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache invalidation failed",
			"wallet_id", id, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, event)
}
