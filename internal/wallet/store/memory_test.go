package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

func addr(n byte) domain.Address {
	return domain.MustAddress("0x" + strings.Repeat(fmt.Sprintf("%02x", n), domain.AddressLength))
}

func seedWallet(t *testing.T, s *InMemoryStore) *models.Wallet {
	t.Helper()
	w, err := models.NewWallet(domain.NewWalletID(), addr(0xff),
		[]domain.Address{addr(1), addr(2), addr(3)}, 2, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Wallets().Create(context.Background(), w))
	return w
}

func TestInMemoryStore_WalletLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	w := seedWallet(t, s)

	t.Run("duplicate id conflicts", func(t *testing.T) {
		assert.ErrorIs(t, s.Wallets().Create(ctx, w), sentinel.ErrConflict)
	})

	t.Run("duplicate address conflicts", func(t *testing.T) {
		other, err := models.NewWallet(domain.NewWalletID(), w.Address,
			[]domain.Address{addr(1)}, 1, time.Now())
		require.NoError(t, err)
		assert.ErrorIs(t, s.Wallets().Create(ctx, other), sentinel.ErrConflict)
	})

	t.Run("find returns a snapshot", func(t *testing.T) {
		got, err := s.Wallets().FindByID(ctx, w.ID)
		require.NoError(t, err)
		got.ApplyAddOwner(addr(9), time.Now())

		again, err := s.Wallets().FindByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, again.OwnerCount(), "mutating a snapshot must not touch the store")
	})

	t.Run("unknown wallet not found", func(t *testing.T) {
		_, err := s.Wallets().FindByID(ctx, domain.NewWalletID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("update persists mutations", func(t *testing.T) {
		got, err := s.Wallets().FindByID(ctx, w.ID)
		require.NoError(t, err)
		got.ApplyDeposit(500, time.Now())
		require.NoError(t, s.Wallets().Update(ctx, got))

		again, err := s.Wallets().FindByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), again.Balance)
	})
}

func TestInMemoryStore_LedgerAssignsSequentialIndices(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	w := seedWallet(t, s)

	for i := 0; i < 3; i++ {
		tx, err := models.NewTransaction(w.ID, addr(1), addr(0xee), 10, nil, time.Now())
		require.NoError(t, err)
		index, err := s.Ledger().Append(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), index)
		assert.Equal(t, uint64(i), tx.Index)
	}

	count, err := s.Ledger().Count(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	all, err := s.Ledger().List(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, tx := range all {
		assert.Equal(t, uint64(i), tx.Index)
	}

	_, err = s.Ledger().Find(ctx, w.ID, 3)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_LedgerRejectsUnknownWallet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	tx, err := models.NewTransaction(domain.NewWalletID(), addr(1), addr(0xee), 10, nil, time.Now())
	require.NoError(t, err)
	_, err = s.Ledger().Append(ctx, tx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_Confirmations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	w := seedWallet(t, s)

	tx, err := models.NewTransaction(w.ID, addr(1), addr(0xee), 10, nil, time.Now())
	require.NoError(t, err)
	index, err := s.Ledger().Append(ctx, tx)
	require.NoError(t, err)

	confirmations := s.Confirmations()

	require.NoError(t, confirmations.Add(ctx, w.ID, index, addr(1)))
	assert.ErrorIs(t, confirmations.Add(ctx, w.ID, index, addr(1)), sentinel.ErrConflict)
	require.NoError(t, confirmations.Add(ctx, w.ID, index, addr(2)))

	count, err := confirmations.Count(ctx, w.ID, index)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	confirmed, err := confirmations.IsConfirmed(ctx, w.ID, index, addr(1))
	require.NoError(t, err)
	assert.True(t, confirmed)

	confirmers, err := confirmations.Confirmers(ctx, w.ID, index)
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{addr(1), addr(2)}, confirmers)

	require.NoError(t, confirmations.Remove(ctx, w.ID, index, addr(1)))
	assert.ErrorIs(t, confirmations.Remove(ctx, w.ID, index, addr(1)), sentinel.ErrNotFound)

	count, err = confirmations.Count(ctx, w.ID, index)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
