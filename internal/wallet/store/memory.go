package store

import (
	"context"
	"sync"

	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemoryStore backs all three store interfaces with one mutex-guarded
// structure. Default implementation for tests and single node deployments
// without Postgres. Access the individual interfaces through Wallets(),
// Ledger() and Confirmations().
type InMemoryStore struct {
	mu            sync.RWMutex
	wallets       map[domain.WalletID]*models.Wallet
	walletOrder   []domain.WalletID
	addresses     map[domain.Address]struct{}
	ledgers       map[domain.WalletID][]*models.Transaction
	confirmations map[confirmationKey][]domain.Address
}

type confirmationKey struct {
	walletID domain.WalletID
	index    uint64
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		wallets:       make(map[domain.WalletID]*models.Wallet),
		addresses:     make(map[domain.Address]struct{}),
		ledgers:       make(map[domain.WalletID][]*models.Transaction),
		confirmations: make(map[confirmationKey][]domain.Address),
	}
}

// Wallets returns the WalletStore view.
func (s *InMemoryStore) Wallets() WalletStore { return memoryWallets{s} }

// Ledger returns the LedgerStore view.
func (s *InMemoryStore) Ledger() LedgerStore { return memoryLedger{s} }

// Confirmations returns the ConfirmationStore view.
func (s *InMemoryStore) Confirmations() ConfirmationStore { return memoryConfirmations{s} }

// --- WalletStore ---

type memoryWallets struct{ s *InMemoryStore }

func (m memoryWallets) Create(ctx context.Context, wallet *models.Wallet) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, exists := m.s.wallets[wallet.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := m.s.addresses[wallet.Address]; exists {
		return sentinel.ErrConflict
	}
	m.s.wallets[wallet.ID] = wallet.Clone()
	m.s.addresses[wallet.Address] = struct{}{}
	m.s.walletOrder = append(m.s.walletOrder, wallet.ID)
	return nil
}

func (m memoryWallets) FindByID(ctx context.Context, id domain.WalletID) (*models.Wallet, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	wallet, ok := m.s.wallets[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return wallet.Clone(), nil
}

func (m memoryWallets) Update(ctx context.Context, wallet *models.Wallet) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.wallets[wallet.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.s.wallets[wallet.ID] = wallet.Clone()
	return nil
}

func (m memoryWallets) List(ctx context.Context) ([]*models.Wallet, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	out := make([]*models.Wallet, 0, len(m.s.walletOrder))
	for _, id := range m.s.walletOrder {
		out = append(out, m.s.wallets[id].Clone())
	}
	return out, nil
}

// --- LedgerStore ---

type memoryLedger struct{ s *InMemoryStore }

func (m memoryLedger) Append(ctx context.Context, tx *models.Transaction) (uint64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.wallets[tx.WalletID]; !ok {
		return 0, sentinel.ErrNotFound
	}
	ledger := m.s.ledgers[tx.WalletID]
	stored := tx.Clone()
	stored.Index = uint64(len(ledger))
	m.s.ledgers[tx.WalletID] = append(ledger, stored)
	tx.Index = stored.Index
	return stored.Index, nil
}

func (m memoryLedger) Find(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	ledger := m.s.ledgers[walletID]
	if index >= uint64(len(ledger)) {
		return nil, sentinel.ErrNotFound
	}
	return ledger[index].Clone(), nil
}

func (m memoryLedger) List(ctx context.Context, walletID domain.WalletID) ([]*models.Transaction, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	ledger := m.s.ledgers[walletID]
	out := make([]*models.Transaction, 0, len(ledger))
	for _, tx := range ledger {
		out = append(out, tx.Clone())
	}
	return out, nil
}

func (m memoryLedger) Count(ctx context.Context, walletID domain.WalletID) (uint64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return uint64(len(m.s.ledgers[walletID])), nil
}

func (m memoryLedger) Update(ctx context.Context, tx *models.Transaction) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	ledger := m.s.ledgers[tx.WalletID]
	if tx.Index >= uint64(len(ledger)) {
		return sentinel.ErrNotFound
	}
	ledger[tx.Index] = tx.Clone()
	return nil
}

// --- ConfirmationStore ---

type memoryConfirmations struct{ s *InMemoryStore }

func (m memoryConfirmations) Add(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	key := confirmationKey{walletID: walletID, index: index}
	for _, confirmed := range m.s.confirmations[key] {
		if confirmed == owner {
			return sentinel.ErrConflict
		}
	}
	m.s.confirmations[key] = append(m.s.confirmations[key], owner)
	return nil
}

func (m memoryConfirmations) Remove(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	key := confirmationKey{walletID: walletID, index: index}
	confirmers := m.s.confirmations[key]
	for i, confirmed := range confirmers {
		if confirmed == owner {
			m.s.confirmations[key] = append(confirmers[:i:i], confirmers[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (m memoryConfirmations) IsConfirmed(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	for _, confirmed := range m.s.confirmations[confirmationKey{walletID: walletID, index: index}] {
		if confirmed == owner {
			return true, nil
		}
	}
	return false, nil
}

func (m memoryConfirmations) Count(ctx context.Context, walletID domain.WalletID, index uint64) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return len(m.s.confirmations[confirmationKey{walletID: walletID, index: index}]), nil
}

func (m memoryConfirmations) Confirmers(ctx context.Context, walletID domain.WalletID, index uint64) ([]domain.Address, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	confirmers := m.s.confirmations[confirmationKey{walletID: walletID, index: index}]
	out := make([]domain.Address, len(confirmers))
	copy(out, confirmers)
	return out, nil
}
