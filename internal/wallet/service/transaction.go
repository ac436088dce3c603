package service

import (
	"context"
	"errors"
	"time"

	"custodia/internal/audit"
	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Submit appends a new proposal to the wallet's ledger. Only owners may
// submit. The payload is stored verbatim; governance payloads are validated
// strictly at execution time, not here.
func (s *Service) Submit(ctx context.Context, walletID domain.WalletID, target domain.Address, amount uint64, payload []byte) (*models.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Submit")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	defer s.lock(walletID)()

	var tx *models.Transaction
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		wallet, err := s.loadWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireOwner(wallet, caller); err != nil {
			return err
		}

		tx, err = models.NewTransaction(walletID, caller, target, amount, payload, now)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Append(ctx, tx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append transaction")
		}
		return s.emit(ctx, audit.Event{
			Name:       audit.EventSubmission,
			WalletID:   walletID,
			Actor:      caller,
			OccurredAt: now,
		}.WithIndex(tx.Index).WithDetail("action", string(models.PayloadKind(payload))))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncSubmissions()
	s.logger.InfoContext(ctx, "transaction submitted",
		"wallet_id", walletID,
		"index", tx.Index,
		"target", target,
		"amount", amount,
		"request_id", requestcontext.RequestID(ctx),
	)
	return tx, nil
}

// Confirm records the caller's confirmation on a pending transaction.
// Confirming twice fails with AlreadyConfirmed; confirming an executed
// transaction fails with AlreadyExecuted.
func (s *Service) Confirm(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Confirm")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	defer s.lock(walletID)()

	var tx *models.Transaction
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		wallet, err := s.loadWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireOwner(wallet, caller); err != nil {
			return err
		}
		tx, err = s.loadTransaction(ctx, walletID, index)
		if err != nil {
			return err
		}
		if tx.Executed {
			return dErrors.New(dErrors.CodeAlreadyExecuted, "transaction already executed")
		}

		if err := s.confirmations.Add(ctx, walletID, index, caller); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeAlreadyConfirmed,
					"%s already confirmed transaction %d", caller, index)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "record confirmation")
		}
		if err := s.syncConfirmations(ctx, tx); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Name:       audit.EventConfirmation,
			WalletID:   walletID,
			Actor:      caller,
			OccurredAt: now,
		}.WithIndex(index))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncConfirmations()
	s.logger.InfoContext(ctx, "transaction confirmed",
		"wallet_id", walletID,
		"index", index,
		"confirmations", tx.Confirmations,
		"request_id", requestcontext.RequestID(ctx),
	)
	return tx, nil
}

// Revoke withdraws the caller's standing confirmation. Revoking without a
// standing confirmation fails with NotConfirmed; the executed state is
// terminal here too.
func (s *Service) Revoke(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Revoke")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	defer s.lock(walletID)()

	var tx *models.Transaction
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		wallet, err := s.loadWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireOwner(wallet, caller); err != nil {
			return err
		}
		tx, err = s.loadTransaction(ctx, walletID, index)
		if err != nil {
			return err
		}
		if tx.Executed {
			return dErrors.New(dErrors.CodeAlreadyExecuted, "transaction already executed")
		}

		if err := s.confirmations.Remove(ctx, walletID, index, caller); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotConfirmed,
					"%s has no standing confirmation on transaction %d", caller, index)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "remove confirmation")
		}
		if err := s.syncConfirmations(ctx, tx); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Name:       audit.EventRevocation,
			WalletID:   walletID,
			Actor:      caller,
			OccurredAt: now,
		}.WithIndex(index))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRevocations()
	s.logger.InfoContext(ctx, "confirmation revoked",
		"wallet_id", walletID,
		"index", index,
		"confirmations", tx.Confirmations,
		"request_id", requestcontext.RequestID(ctx),
	)
	return tx, nil
}

// Execute applies a transaction's effect once its confirmation count meets
// the wallet's threshold. The whole operation is atomic: when the effect
// cannot be applied (insufficient balance, malformed payload, governance
// rule violation) the unit of work rolls back and the transaction stays
// pending and executable later.
//
// Confirmations by owners removed since they voted still count.
func (s *Service) Execute(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Execute")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	start := time.Now()

	defer s.lock(walletID)()

	var (
		tx     *models.Transaction
		action = models.ActionTransfer
	)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		wallet, err := s.loadWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if err := requireOwner(wallet, caller); err != nil {
			return err
		}
		tx, err = s.loadTransaction(ctx, walletID, index)
		if err != nil {
			return err
		}
		if tx.Executed {
			return dErrors.New(dErrors.CodeAlreadyExecuted, "transaction already executed")
		}
		if err := s.syncConfirmations(ctx, tx); err != nil {
			return err
		}
		if err := tx.CanExecute(wallet.Threshold); err != nil {
			return err
		}

		// Decode and balance failures surface under their own codes;
		// only a rejected governance call is wrapped as execution_failed.
		call, err := models.DecodePayload(tx.Payload)
		if err != nil {
			return err
		}
		if call == nil {
			if err := wallet.CanDebit(tx.Amount); err != nil {
				return err
			}
			wallet.ApplyDebit(tx.Amount, now)
		} else {
			action = call.Action
			if err := applyGovernance(wallet, call, now); err != nil {
				return dErrors.Wrap(err, dErrors.CodeExecutionFailed, "execution failed")
			}
		}

		tx.ApplyExecuted(now)
		// The audit append precedes the store writes: without a rollback
		// runner a failed emit must leave no executed state behind.
		if err := s.emit(ctx, audit.Event{
			Name:       audit.EventExecution,
			WalletID:   walletID,
			Actor:      caller,
			OccurredAt: now,
		}.WithIndex(index).WithDetail("action", string(action))); err != nil {
			return err
		}
		if err := s.emitGovernance(ctx, walletID, caller, index, call, now); err != nil {
			return err
		}

		if err := s.ledger.Update(ctx, tx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist execution")
		}
		if err := s.wallets.Update(ctx, wallet); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist wallet state")
		}
		return nil
	})

	s.metrics.ObserveExecuteDuration(time.Since(start).Seconds())
	if err != nil {
		s.metrics.IncExecutions("failure", string(action))
		return nil, err
	}
	s.metrics.IncExecutions("success", string(action))

	s.invalidate(ctx, walletID)
	s.logger.InfoContext(ctx, "transaction executed",
		"wallet_id", walletID,
		"index", index,
		"action", action,
		"request_id", requestcontext.RequestID(ctx),
	)
	return tx, nil
}

// applyGovernance mutates the wallet's registry according to the decoded
// call.
func applyGovernance(wallet *models.Wallet, call *models.GovernanceCall, now time.Time) error {
	switch call.Action {
	case models.ActionAddOwner:
		if err := wallet.CanAddOwner(*call.Owner); err != nil {
			return err
		}
		wallet.ApplyAddOwner(*call.Owner, now)
	case models.ActionRemoveOwner:
		if err := wallet.CanRemoveOwner(*call.Owner); err != nil {
			return err
		}
		wallet.ApplyRemoveOwner(*call.Owner, now)
	case models.ActionChangeThreshold:
		if err := wallet.CanChangeThreshold(*call.Threshold); err != nil {
			return err
		}
		wallet.ApplyChangeThreshold(*call.Threshold, now)
	}
	return nil
}

// emitGovernance records the governance-specific event alongside the
// generic execution event.
func (s *Service) emitGovernance(ctx context.Context, walletID domain.WalletID, caller domain.Address, index uint64, call *models.GovernanceCall, now time.Time) error {
	if call == nil {
		return nil
	}
	event := audit.Event{
		WalletID:   walletID,
		Actor:      caller,
		OccurredAt: now,
	}.WithIndex(index)

	switch call.Action {
	case models.ActionAddOwner:
		event.Name = audit.EventOwnerAdded
		event = event.WithDetail("owner", call.Owner.String())
	case models.ActionRemoveOwner:
		event.Name = audit.EventOwnerRemoved
		event = event.WithDetail("owner", call.Owner.String())
	case models.ActionChangeThreshold:
		event.Name = audit.EventThresholdChanged
		event = event.WithDetail("threshold", formatAmount(uint64(*call.Threshold)))
	}
	return s.emit(ctx, event)
}

// syncConfirmations refreshes the transaction's denormalized confirmation
// count from the confirmation store and persists it.
func (s *Service) syncConfirmations(ctx context.Context, tx *models.Transaction) error {
	count, err := s.confirmations.Count(ctx, tx.WalletID, tx.Index)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "count confirmations")
	}
	tx.Confirmations = count
	if err := s.ledger.Update(ctx, tx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist confirmation count")
	}
	return nil
}

// GetTransaction returns one ledger entry with a live confirmation count.
func (s *Service) GetTransaction(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error) {
	tx, err := s.loadTransaction(ctx, walletID, index)
	if err != nil {
		return nil, err
	}
	count, err := s.confirmations.Count(ctx, walletID, index)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count confirmations")
	}
	tx.Confirmations = count
	return tx, nil
}

// ListTransactions returns the wallet's ledger in index order. With
// pendingOnly set, executed entries are filtered out.
func (s *Service) ListTransactions(ctx context.Context, walletID domain.WalletID, pendingOnly bool) ([]*models.Transaction, error) {
	if _, err := s.loadWallet(ctx, walletID); err != nil {
		return nil, err
	}
	all, err := s.ledger.List(ctx, walletID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list transactions")
	}
	if !pendingOnly {
		return all, nil
	}
	pending := make([]*models.Transaction, 0, len(all))
	for _, tx := range all {
		if !tx.Executed {
			pending = append(pending, tx)
		}
	}
	return pending, nil
}

// TransactionCount returns how many transactions were ever submitted,
// executed or not.
func (s *Service) TransactionCount(ctx context.Context, walletID domain.WalletID) (uint64, error) {
	if _, err := s.loadWallet(ctx, walletID); err != nil {
		return 0, err
	}
	count, err := s.ledger.Count(ctx, walletID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count transactions")
	}
	return count, nil
}

// IsConfirmedBy reports whether the given owner has a standing confirmation
// on the transaction.
func (s *Service) IsConfirmedBy(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) (bool, error) {
	if _, err := s.loadTransaction(ctx, walletID, index); err != nil {
		return false, err
	}
	confirmed, err := s.confirmations.IsConfirmed(ctx, walletID, index, owner)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "check confirmation")
	}
	return confirmed, nil
}

// Confirmers lists the addresses with standing confirmations, in
// confirmation order.
func (s *Service) Confirmers(ctx context.Context, walletID domain.WalletID, index uint64) ([]domain.Address, error) {
	if _, err := s.loadTransaction(ctx, walletID, index); err != nil {
		return nil, err
	}
	confirmers, err := s.confirmations.Confirmers(ctx, walletID, index)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list confirmers")
	}
	return confirmers, nil
}
