// Package store persists wallet aggregates, the append-only transaction
// ledger and per-transaction confirmation records.
//
// Stores return sentinel errors for factual states (sentinel.ErrNotFound,
// sentinel.ErrConflict); the service translates them into domain errors.
// Stores never enforce business rules: threshold checks, ownership checks
// and execution gating all live in the service, which serializes mutations
// per wallet.
package store

import (
	"context"

	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
)

// WalletStore holds wallet aggregates: owner set, threshold, balance.
type WalletStore interface {
	// Create persists a new wallet. Returns sentinel.ErrConflict when a
	// wallet with the same id or address already exists.
	Create(ctx context.Context, wallet *models.Wallet) error
	// FindByID returns a snapshot of the wallet or sentinel.ErrNotFound.
	FindByID(ctx context.Context, id domain.WalletID) (*models.Wallet, error)
	// Update overwrites the mutable fields (owners, threshold, balance).
	// Returns sentinel.ErrNotFound for unknown wallets.
	Update(ctx context.Context, wallet *models.Wallet) error
	// List returns all wallets in creation order.
	List(ctx context.Context) ([]*models.Wallet, error)
}

// LedgerStore is the append-only transaction ledger. Entries are never
// deleted; indices are assigned sequentially per wallet and never reused.
type LedgerStore interface {
	// Append assigns the next index for the wallet and persists the
	// transaction, returning the assigned index.
	Append(ctx context.Context, tx *models.Transaction) (uint64, error)
	// Find returns a snapshot of one transaction or sentinel.ErrNotFound.
	Find(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error)
	// List returns all transactions for the wallet in index order.
	List(ctx context.Context, walletID domain.WalletID) ([]*models.Transaction, error)
	// Count returns the total number of transactions ever submitted.
	Count(ctx context.Context, walletID domain.WalletID) (uint64, error)
	// Update overwrites the mutable fields (executed flag, executed-at,
	// confirmation count). Descriptive fields are immutable by contract.
	Update(ctx context.Context, tx *models.Transaction) error
}

// ConfirmationStore tracks which owners have confirmed which transaction.
// Records are keyed (wallet, index, owner) and subordinate to the ledger: a
// record is only ever written for an existing transaction.
type ConfirmationStore interface {
	// Add records a confirmation. Returns sentinel.ErrConflict when the
	// owner already confirmed this transaction.
	Add(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) error
	// Remove withdraws a confirmation. Returns sentinel.ErrNotFound when
	// no confirmation was recorded for this owner.
	Remove(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) error
	// IsConfirmed reports whether the owner has a standing confirmation.
	IsConfirmed(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) (bool, error)
	// Count returns the number of standing confirmations. Votes stand:
	// confirmations by since-removed owners keep counting.
	Count(ctx context.Context, walletID domain.WalletID, index uint64) (int, error)
	// Confirmers lists the owners with standing confirmations, in the
	// order the confirmations were recorded.
	Confirmers(ctx context.Context, walletID domain.WalletID, index uint64) ([]domain.Address, error)
}
