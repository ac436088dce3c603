package service

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// CreateWallet provisions a new wallet with the given owner set and
// threshold. The wallet address is derived from the creating caller and a
// random nonce; a derivation collision is retried once before giving up.
func (s *Service) CreateWallet(ctx context.Context, owners []domain.Address, threshold int) (*models.Wallet, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Create")
	defer span.End()

	creator, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var wallet *models.Wallet
	for attempt := 0; attempt < 2; attempt++ {
		address := domain.DeriveWalletAddress(creator, randomNonce())
		wallet, err = models.NewWallet(domain.NewWalletID(), address, owners, threshold, now)
		if err != nil {
			return nil, err
		}

		err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.wallets.Create(ctx, wallet); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return err
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "create wallet")
			}
			return s.emit(ctx, audit.Event{
				Name:       audit.EventWalletCreated,
				WalletID:   wallet.ID,
				Actor:      creator,
				OccurredAt: now,
			})
		})
		if err == nil {
			break
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, err
		}
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeConflict, "wallet address collision")
	}

	s.metrics.IncWalletsCreated()
	s.logger.InfoContext(ctx, "wallet created",
		"wallet_id", wallet.ID,
		"address", wallet.Address,
		"owners", len(wallet.Owners),
		"threshold", wallet.Threshold,
		"request_id", requestcontext.RequestID(ctx),
	)
	return wallet, nil
}

func randomNonce() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func formatAmount(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}

// Deposit credits the wallet's custodial balance. Any authenticated caller
// may deposit; ownership is not required.
func (s *Service) Deposit(ctx context.Context, walletID domain.WalletID, amount uint64) (*models.Wallet, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Deposit")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "deposit amount must be positive")
	}
	now := requestcontext.Now(ctx)

	defer s.lock(walletID)()

	var wallet *models.Wallet
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		wallet, err = s.loadWallet(ctx, walletID)
		if err != nil {
			return err
		}
		wallet.ApplyDeposit(amount, now)
		if err := s.wallets.Update(ctx, wallet); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist deposit")
		}
		return s.emit(ctx, audit.Event{
			Name:       audit.EventDepositReceived,
			WalletID:   walletID,
			Actor:      caller,
			OccurredAt: now,
		}.WithDetail("amount", formatAmount(amount)))
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, walletID)
	s.metrics.IncDeposits()
	s.logger.InfoContext(ctx, "deposit credited",
		"wallet_id", walletID,
		"amount", amount,
		"balance", wallet.Balance,
		"request_id", requestcontext.RequestID(ctx),
	)
	return wallet, nil
}

// GetWallet returns a snapshot, preferring the cache for reads.
func (s *Service) GetWallet(ctx context.Context, walletID domain.WalletID) (*models.Wallet, error) {
	if cached, err := s.cache.Get(ctx, walletID); err == nil {
		s.metrics.IncSnapshotCache("hit")
		return cached, nil
	}
	s.metrics.IncSnapshotCache("miss")

	wallet, err := s.loadWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, wallet); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache write failed",
			"wallet_id", walletID, "error", err)
	}
	return wallet, nil
}

// ListWallets returns all wallets in creation order.
func (s *Service) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list wallets")
	}
	return wallets, nil
}

// AuditTrail returns the wallet's audit events in append order.
func (s *Service) AuditTrail(ctx context.Context, walletID domain.WalletID) ([]*audit.Event, error) {
	if s.auditor == nil {
		return nil, nil
	}
	if _, err := s.loadWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return s.auditor.Trail(ctx, walletID)
}
