package models

import (
	"time"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Wallet is the aggregate root for one custodial multisig wallet: its owner
// set, confirmation threshold and custodial balance.
//
// Invariants:
//   - 1 <= Threshold <= len(Owners)
//   - len(Owners) >= 1, no duplicate owners, no zero addresses
//   - Owners keeps insertion order (addition order is visible to clients)
//   - Balance is only mutated by deposits and executed value transfers
//
// Owner-set and threshold mutations happen exclusively through the service
// executing a thresholded governance transaction. The Can*/Apply* pairs
// below exist so the service can validate and mutate under one lock.
type Wallet struct {
	ID        domain.WalletID  `json:"id"`
	Address   domain.Address   `json:"address"`
	Owners    []domain.Address `json:"owners"`
	Threshold int              `json:"threshold"`
	Balance   uint64           `json:"balance"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewWallet validates the initial owner set and threshold and returns the
// aggregate.
func NewWallet(id domain.WalletID, address domain.Address, owners []domain.Address, threshold int, now time.Time) (*Wallet, error) {
	if len(owners) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one owner is required")
	}
	seen := make(map[domain.Address]struct{}, len(owners))
	for _, owner := range owners {
		if owner.IsZero() {
			return nil, dErrors.New(dErrors.CodeValidation, "owner must not be the zero address")
		}
		if _, dup := seen[owner]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate owner %s", owner)
		}
		seen[owner] = struct{}{}
	}
	if threshold < 1 || threshold > len(owners) {
		return nil, dErrors.Newf(dErrors.CodeInvalidThreshold,
			"threshold must be between 1 and %d", len(owners))
	}

	ownersCopy := make([]domain.Address, len(owners))
	copy(ownersCopy, owners)
	return &Wallet{
		ID:        id,
		Address:   address,
		Owners:    ownersCopy,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsOwner reports whether id is a current owner.
func (w *Wallet) IsOwner(id domain.Address) bool {
	for _, owner := range w.Owners {
		if owner == id {
			return true
		}
	}
	return false
}

// OwnerCount returns the current owner set size.
func (w *Wallet) OwnerCount() int {
	return len(w.Owners)
}

// CanAddOwner checks whether id may join the owner set.
func (w *Wallet) CanAddOwner(id domain.Address) error {
	if id.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "owner must not be the zero address")
	}
	if w.IsOwner(id) {
		return dErrors.Newf(dErrors.CodeAlreadyOwner, "%s is already an owner", id).
			WithMeta("owner", id.String())
	}
	return nil
}

// ApplyAddOwner appends id to the owner set. Call CanAddOwner first.
func (w *Wallet) ApplyAddOwner(id domain.Address, now time.Time) {
	w.Owners = append(w.Owners, id)
	w.UpdatedAt = now
}

// CanRemoveOwner checks whether id may leave the owner set without breaking
// the threshold invariant.
func (w *Wallet) CanRemoveOwner(id domain.Address) error {
	if !w.IsOwner(id) {
		return dErrors.Newf(dErrors.CodeNotOwner, "%s is not an owner", id).
			WithMeta("owner", id.String())
	}
	if w.Threshold > len(w.Owners)-1 {
		return dErrors.Newf(dErrors.CodeThresholdViolation,
			"removing an owner would leave threshold %d above %d remaining owners",
			w.Threshold, len(w.Owners)-1)
	}
	return nil
}

// ApplyRemoveOwner removes id preserving the order of the remaining owners.
// Call CanRemoveOwner first.
func (w *Wallet) ApplyRemoveOwner(id domain.Address, now time.Time) {
	owners := w.Owners[:0]
	for _, owner := range w.Owners {
		if owner != id {
			owners = append(owners, owner)
		}
	}
	w.Owners = owners
	w.UpdatedAt = now
}

// CanChangeThreshold checks the new threshold against the owner set.
func (w *Wallet) CanChangeThreshold(n int) error {
	if n < 1 || n > len(w.Owners) {
		return dErrors.Newf(dErrors.CodeInvalidThreshold,
			"threshold must be between 1 and %d", len(w.Owners))
	}
	return nil
}

// ApplyChangeThreshold sets the threshold. Call CanChangeThreshold first.
func (w *Wallet) ApplyChangeThreshold(n int, now time.Time) {
	w.Threshold = n
	w.UpdatedAt = now
}

// CanDebit checks the custodial balance covers amount.
func (w *Wallet) CanDebit(amount uint64) error {
	if amount > w.Balance {
		return dErrors.Newf(dErrors.CodeInsufficientBalance,
			"balance %d is below transfer amount %d", w.Balance, amount)
	}
	return nil
}

// ApplyDebit reduces the balance. Call CanDebit first.
func (w *Wallet) ApplyDebit(amount uint64, now time.Time) {
	w.Balance -= amount
	w.UpdatedAt = now
}

// ApplyDeposit credits the custodial balance.
func (w *Wallet) ApplyDeposit(amount uint64, now time.Time) {
	w.Balance += amount
	w.UpdatedAt = now
}

// Clone returns a deep copy so stores can hand out snapshots without
// exposing internal state to concurrent readers.
func (w *Wallet) Clone() *Wallet {
	owners := make([]domain.Address, len(w.Owners))
	copy(owners, w.Owners)
	clone := *w
	clone.Owners = owners
	return &clone
}
