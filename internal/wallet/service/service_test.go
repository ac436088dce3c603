package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/wallet/models"
	"custodia/internal/wallet/store"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

func addr(n byte) domain.Address {
	return domain.MustAddress("0x" + strings.Repeat(fmt.Sprintf("%02x", n), domain.AddressLength))
}

func as(owner domain.Address) context.Context {
	return requestcontext.WithCaller(context.Background(), owner)
}

type fixture struct {
	service *Service
	store   *store.InMemoryStore
	audit   *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewInMemoryStore()
	auditStore := audit.NewMemoryStore()
	svc := NewService(s.Wallets(), s.Ledger(), s.Confirmations(),
		WithAuditor(audit.NewPublisher(auditStore)),
	)
	return &fixture{service: svc, store: s, audit: auditStore}
}

// newWallet creates a wallet owned by addr(1..n) with the given threshold
// and an initial balance.
func (f *fixture) newWallet(t *testing.T, ownerCount, threshold int, balance uint64) *models.Wallet {
	t.Helper()
	owners := make([]domain.Address, ownerCount)
	for i := range owners {
		owners[i] = addr(byte(i + 1))
	}
	wallet, err := f.service.CreateWallet(as(owners[0]), owners, threshold)
	require.NoError(t, err)
	if balance > 0 {
		wallet, err = f.service.Deposit(as(owners[0]), wallet.ID, balance)
		require.NoError(t, err)
	}
	return wallet
}

func TestScenarioTransferLifecycle(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 1000)
	target := addr(0xaa)

	tx, err := f.service.Submit(as(addr(1)), w.ID, target, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tx.Index)

	tx, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Confirmations)

	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientConfirmations), "got %v", err)

	tx, err = f.service.Confirm(as(addr(2)), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, tx.Confirmations)

	tx, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.True(t, tx.Executed)
	require.NotNil(t, tx.ExecutedAt)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), got.Balance)
}

func TestScenarioRevokeThenReconfirm(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 0)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 0, nil)
	require.NoError(t, err)

	tx, err := f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Confirmations)

	tx, err = f.service.Revoke(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, tx.Confirmations)

	// Not AlreadyConfirmed: the revocation cleared the record.
	tx, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Confirmations)
}

func TestScenarioGovernanceRemoveOwner(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 4, 3, 0)

	// Remove owner4; owner4's own confirmation counts toward it.
	_, err := f.service.Submit(as(addr(1)), w.ID, w.Address, 0, models.EncodeRemoveOwner(addr(4)))
	require.NoError(t, err)
	for _, owner := range []domain.Address{addr(1), addr(2), addr(4)} {
		_, err = f.service.Confirm(as(owner), w.ID, 0)
		require.NoError(t, err)
	}
	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.OwnerCount())
	assert.False(t, got.IsOwner(addr(4)))
	assert.Equal(t, 3, got.Threshold)

	// Removing another owner would leave threshold 3 above 2 remaining.
	_, err = f.service.Submit(as(addr(1)), w.ID, w.Address, 0, models.EncodeRemoveOwner(addr(3)))
	require.NoError(t, err)
	for _, owner := range []domain.Address{addr(1), addr(2), addr(3)} {
		_, err = f.service.Confirm(as(owner), w.ID, 1)
		require.NoError(t, err)
	}
	_, err = f.service.Execute(as(addr(1)), w.ID, 1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExecutionFailed), "got %v", err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeThresholdViolation), "got %v", err)

	// The failed execution left the transaction pending.
	tx, err := f.service.GetTransaction(context.Background(), w.ID, 1)
	require.NoError(t, err)
	assert.False(t, tx.Executed)
	assert.Equal(t, 3, tx.Confirmations)
}

func TestScenarioInsufficientBalanceLeavesPending(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 50)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 100, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(2)), w.ID, 0)
	require.NoError(t, err)

	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInsufficientBalance, dErrors.CodeOf(err), "got %v", err)

	// Retry succeeds after a deposit; confirmations were untouched.
	_, err = f.service.Deposit(as(addr(3)), w.ID, 100)
	require.NoError(t, err)
	tx, err := f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.True(t, tx.Executed)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Balance)
}

func TestConfirmIsIdempotentPerOwner(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 0)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 0, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyConfirmed), "got %v", err)

	// The failed second confirm did not change the count.
	tx, err := f.service.GetTransaction(context.Background(), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Confirmations)
}

func TestExecuteAtMostOnce(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 100)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 10, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	_, err = f.service.Execute(as(addr(2)), w.ID, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyExecuted), "got %v", err)

	// Confirm and revoke are rejected on the terminal state too.
	_, err = f.service.Confirm(as(addr(2)), w.ID, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyExecuted), "got %v", err)
	_, err = f.service.Revoke(as(addr(1)), w.ID, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyExecuted), "got %v", err)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), got.Balance, "the transfer applied exactly once")
}

func TestExecuteConcurrentlyExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 100)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 100, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(2)), w.ID, 0)
	require.NoError(t, err)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Execute(as(addr(1+byte(i%3))), w.ID, 0)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyExecuted), "got %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Balance)
}

func TestVotesStandAfterOwnerRemoval(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 100)

	// Transaction 0: a transfer, confirmed by owner3.
	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 10, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(3)), w.ID, 0)
	require.NoError(t, err)

	// Transaction 1: remove owner3; executed by owners 1 and 2.
	_, err = f.service.Submit(as(addr(1)), w.ID, w.Address, 0, models.EncodeRemoveOwner(addr(3)))
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 1)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(2)), w.ID, 1)
	require.NoError(t, err)
	_, err = f.service.Execute(as(addr(1)), w.ID, 1)
	require.NoError(t, err)

	// Owner3's vote on transaction 0 still stands: one more confirmation
	// reaches the threshold of 2.
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	tx, err := f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.True(t, tx.Executed)
	assert.Equal(t, 2, tx.Confirmations)

	// But owner3 itself can no longer act on the wallet.
	_, err = f.service.Submit(as(addr(3)), w.ID, addr(0xaa), 1, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner), "got %v", err)
}

func TestExecuteMalformedPayloadFailsClosed(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 100)

	// The payload is junk; it must never downgrade to a transfer.
	_, err := f.service.Submit(as(addr(1)), w.ID, w.Address, 0, []byte("addOwner(0x05)"))
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeMalformedPayload, dErrors.CodeOf(err), "got %v", err)

	tx, err := f.service.GetTransaction(context.Background(), w.ID, 0)
	require.NoError(t, err)
	assert.False(t, tx.Executed)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Balance)
}

// Each execution failure surfaces under its own code: balance and payload
// failures directly, governance rejections wrapped as execution_failed with
// the causal code still reachable.
func TestExecuteFailureCodesAreDistinct(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 50)

	submit := func(t *testing.T, target domain.Address, amount uint64, payload []byte) uint64 {
		t.Helper()
		tx, err := f.service.Submit(as(addr(1)), w.ID, target, amount, payload)
		require.NoError(t, err)
		_, err = f.service.Confirm(as(addr(1)), w.ID, tx.Index)
		require.NoError(t, err)
		return tx.Index
	}

	t.Run("insufficient balance", func(t *testing.T) {
		index := submit(t, addr(0xaa), 100, nil)
		_, err := f.service.Execute(as(addr(1)), w.ID, index)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInsufficientBalance, dErrors.CodeOf(err), "got %v", err)
		assert.False(t, dErrors.HasCode(err, dErrors.CodeExecutionFailed), "got %v", err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		index := submit(t, w.Address, 0, []byte(`{"action":"self_destruct"}`))
		_, err := f.service.Execute(as(addr(1)), w.ID, index)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeMalformedPayload, dErrors.CodeOf(err), "got %v", err)
		assert.False(t, dErrors.HasCode(err, dErrors.CodeExecutionFailed), "got %v", err)
	})

	t.Run("rejected governance call", func(t *testing.T) {
		index := submit(t, w.Address, 0, models.EncodeAddOwner(addr(1)))
		_, err := f.service.Execute(as(addr(1)), w.ID, index)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeExecutionFailed, dErrors.CodeOf(err), "got %v", err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyOwner), "got %v", err)
	})
}

type flakyAuditStore struct {
	*audit.MemoryStore
	fail bool
}

func (s *flakyAuditStore) Append(ctx context.Context, event *audit.Event) error {
	if s.fail {
		return assert.AnError
	}
	return s.MemoryStore.Append(ctx, event)
}

// A failed audit append during execute must not leave the transaction
// executed, even without a transactional runner underneath.
func TestExecuteFailedAuditLeavesStateUntouched(t *testing.T) {
	s := store.NewInMemoryStore()
	auditStore := &flakyAuditStore{MemoryStore: audit.NewMemoryStore()}
	svc := NewService(s.Wallets(), s.Ledger(), s.Confirmations(),
		WithAuditor(audit.NewPublisher(auditStore)),
	)

	w, err := svc.CreateWallet(as(addr(1)), []domain.Address{addr(1), addr(2)}, 1)
	require.NoError(t, err)
	_, err = svc.Deposit(as(addr(1)), w.ID, 100)
	require.NoError(t, err)
	_, err = svc.Submit(as(addr(1)), w.ID, addr(0xaa), 40, nil)
	require.NoError(t, err)
	_, err = svc.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	auditStore.fail = true
	_, err = svc.Execute(as(addr(1)), w.ID, 0)
	require.Error(t, err)

	tx, err := svc.GetTransaction(context.Background(), w.ID, 0)
	require.NoError(t, err)
	assert.False(t, tx.Executed)
	got, err := svc.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Balance)

	// The same execute succeeds once the audit trail is writable again.
	auditStore.fail = false
	tx, err = svc.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	assert.True(t, tx.Executed)
	got, err = svc.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), got.Balance)
}

func TestGovernanceAddOwnerAndChangeThreshold(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 2, 0)

	_, err := f.service.Submit(as(addr(1)), w.ID, w.Address, 0, models.EncodeAddOwner(addr(9)))
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(2)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	require.True(t, got.IsOwner(addr(9)))
	assert.Equal(t, []domain.Address{addr(1), addr(2), addr(9)}, got.Owners,
		"owners keep insertion order")

	// The new owner participates in raising the threshold.
	_, err = f.service.Submit(as(addr(9)), w.ID, w.Address, 0, models.EncodeChangeThreshold(3))
	require.NoError(t, err)
	for _, owner := range []domain.Address{addr(1), addr(9)} {
		_, err = f.service.Confirm(as(owner), w.ID, 1)
		require.NoError(t, err)
	}
	_, err = f.service.Execute(as(addr(9)), w.ID, 1)
	require.NoError(t, err)

	got, err = f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Threshold)
}

func TestGovernanceAddExistingOwnerFails(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 0)

	_, err := f.service.Submit(as(addr(1)), w.ID, w.Address, 0, models.EncodeAddOwner(addr(2)))
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyOwner), "got %v", err)
}

func TestMutationsRequireOwnership(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 100)
	outsider := addr(0x77)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 1, nil)
	require.NoError(t, err)

	_, err = f.service.Submit(as(outsider), w.ID, addr(0xaa), 1, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner), "got %v", err)
	_, err = f.service.Confirm(as(outsider), w.ID, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner), "got %v", err)
	_, err = f.service.Revoke(as(outsider), w.ID, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner), "got %v", err)
	_, err = f.service.Execute(as(outsider), w.ID, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner), "got %v", err)
}

func TestMutationsRequireAuthenticatedCaller(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 0)

	_, err := f.service.Submit(context.Background(), w.ID, addr(0xaa), 1, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), "got %v", err)
	_, err = f.service.CreateWallet(context.Background(), []domain.Address{addr(1)}, 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), "got %v", err)
}

func TestRevokeWithoutConfirmation(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 0)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 0, nil)
	require.NoError(t, err)

	_, err = f.service.Revoke(as(addr(1)), w.ID, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotConfirmed), "got %v", err)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 0)

	_, err := f.service.Deposit(as(addr(1)), w.ID, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)

	// Deposits accumulate, and non-owners may deposit.
	_, err = f.service.Deposit(as(addr(0x50)), w.ID, 30)
	require.NoError(t, err)
	wallet, err := f.service.Deposit(as(addr(1)), w.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), wallet.Balance)
}

func TestCreateWalletValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateWallet(as(addr(1)), []domain.Address{addr(1), addr(1)}, 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)

	_, err = f.service.CreateWallet(as(addr(1)), []domain.Address{addr(1), addr(2)}, 3)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidThreshold), "got %v", err)

	_, err = f.service.CreateWallet(as(addr(1)), nil, 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
}

func TestListTransactionsPendingFilter(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 100)

	for i := 0; i < 3; i++ {
		_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 10, nil)
		require.NoError(t, err)
	}
	_, err := f.service.Confirm(as(addr(1)), w.ID, 1)
	require.NoError(t, err)
	_, err = f.service.Execute(as(addr(1)), w.ID, 1)
	require.NoError(t, err)

	all, err := f.service.ListTransactions(context.Background(), w.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := f.service.ListTransactions(context.Background(), w.ID, true)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, tx := range pending {
		assert.False(t, tx.Executed)
	}

	count, err := f.service.TransactionCount(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count, "executed transactions stay counted")
}

func TestIsConfirmedByAndConfirmers(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 2, 0)

	_, err := f.service.Submit(as(addr(1)), w.ID, addr(0xaa), 0, nil)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(2)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	confirmed, err := f.service.IsConfirmedBy(context.Background(), w.ID, 0, addr(2))
	require.NoError(t, err)
	assert.True(t, confirmed)
	confirmed, err = f.service.IsConfirmedBy(context.Background(), w.ID, 0, addr(3))
	require.NoError(t, err)
	assert.False(t, confirmed)

	confirmers, err := f.service.Confirmers(context.Background(), w.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{addr(2), addr(1)}, confirmers)

	_, err = f.service.IsConfirmedBy(context.Background(), w.ID, 9, addr(1))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
}

func TestUnknownWalletAndTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetWallet(context.Background(), domain.NewWalletID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)

	w := f.newWallet(t, 2, 1, 0)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 5)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
	_, err = f.service.Execute(as(addr(1)), w.ID, 5)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 2, 1, 100)

	_, err := f.service.Submit(as(addr(1)), w.ID, w.Address, 0, models.EncodeAddOwner(addr(9)))
	require.NoError(t, err)
	_, err = f.service.Confirm(as(addr(1)), w.ID, 0)
	require.NoError(t, err)
	_, err = f.service.Execute(as(addr(1)), w.ID, 0)
	require.NoError(t, err)

	trail, err := f.service.AuditTrail(context.Background(), w.ID)
	require.NoError(t, err)

	names := make([]audit.EventName, len(trail))
	for i, event := range trail {
		names[i] = event.Name
	}
	assert.Equal(t, []audit.EventName{
		audit.EventWalletCreated,
		audit.EventDepositReceived,
		audit.EventSubmission,
		audit.EventConfirmation,
		audit.EventExecution,
		audit.EventOwnerAdded,
	}, names)
}

func TestThresholdInvariantHoldsAcrossGovernance(t *testing.T) {
	f := newFixture(t)
	w := f.newWallet(t, 3, 3, 0)

	// Threshold equals owner count: removal must fail, lowering first works.
	submitGov := func(payload []byte) uint64 {
		tx, err := f.service.Submit(as(addr(1)), w.ID, w.Address, 0, payload)
		require.NoError(t, err)
		return tx.Index
	}
	confirmAll := func(index uint64, owners ...byte) {
		for _, o := range owners {
			_, err := f.service.Confirm(as(addr(o)), w.ID, index)
			require.NoError(t, err)
		}
	}

	removal := submitGov(models.EncodeRemoveOwner(addr(3)))
	confirmAll(removal, 1, 2, 3)
	_, err := f.service.Execute(as(addr(1)), w.ID, removal)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeThresholdViolation), "got %v", err)

	lower := submitGov(models.EncodeChangeThreshold(2))
	confirmAll(lower, 1, 2, 3)
	_, err = f.service.Execute(as(addr(1)), w.ID, lower)
	require.NoError(t, err)

	// Now the removal goes through on its standing confirmations.
	_, err = f.service.Execute(as(addr(1)), w.ID, removal)
	require.NoError(t, err)

	got, err := f.service.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.OwnerCount())
	assert.Equal(t, 2, got.Threshold)
	assert.GreaterOrEqual(t, got.OwnerCount(), got.Threshold)
}

func TestRequestTimeInjection(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(as(addr(1)), fixed)

	w, err := f.service.CreateWallet(ctx, []domain.Address{addr(1)}, 1)
	require.NoError(t, err)
	assert.Equal(t, fixed, w.CreatedAt)

	tx, err := f.service.Submit(ctx, w.ID, addr(0xaa), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, fixed, tx.SubmittedAt)
}
