package models

import (
	"time"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Transaction is one proposed action in a wallet's append-only ledger.
//
// Index is 0-based, sequential per wallet and never reused. Target, Amount,
// Payload and SubmittedBy are immutable after submission. Executed
// transitions false -> true exactly once; Confirmations changes only through
// confirm/revoke and is frozen once Executed is set.
type Transaction struct {
	WalletID      domain.WalletID `json:"wallet_id"`
	Index         uint64          `json:"index"`
	Target        domain.Address  `json:"target"`
	Amount        uint64          `json:"amount"`
	Payload       []byte          `json:"payload,omitempty"`
	Executed      bool            `json:"executed"`
	Confirmations int             `json:"confirmations"`
	SubmittedBy   domain.Address  `json:"submitted_by"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
}

// NewTransaction validates a proposal. The ledger store assigns the index on
// append.
func NewTransaction(walletID domain.WalletID, proposer, target domain.Address, amount uint64, payload []byte, now time.Time) (*Transaction, error) {
	if target.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "target must not be the zero address")
	}

	var payloadCopy []byte
	if len(payload) > 0 {
		payloadCopy = make([]byte, len(payload))
		copy(payloadCopy, payload)
	}
	return &Transaction{
		WalletID:    walletID,
		Target:      target,
		Amount:      amount,
		Payload:     payloadCopy,
		SubmittedBy: proposer,
		SubmittedAt: now,
	}, nil
}

// IsGovernance reports whether the payload requests a registry mutation
// rather than a plain value transfer.
func (t *Transaction) IsGovernance() bool {
	return len(t.Payload) > 0
}

// CanExecute checks the transaction's own state gates (terminal state and
// threshold). Balance and payload decoding are checked by the service at
// effect-application time.
func (t *Transaction) CanExecute(threshold int) error {
	if t.Executed {
		return dErrors.New(dErrors.CodeAlreadyExecuted, "transaction already executed").
			WithMeta("index", formatIndex(t.Index))
	}
	if t.Confirmations < threshold {
		return dErrors.Newf(dErrors.CodeInsufficientConfirmations,
			"%d of %d required confirmations", t.Confirmations, threshold).
			WithMeta("index", formatIndex(t.Index))
	}
	return nil
}

// ApplyExecuted seals the transaction. Terminal: no confirm, revoke or
// execute is accepted afterwards.
func (t *Transaction) ApplyExecuted(now time.Time) {
	t.Executed = true
	t.ExecutedAt = &now
}

// Clone returns a deep copy for snapshot reads.
func (t *Transaction) Clone() *Transaction {
	clone := *t
	if t.Payload != nil {
		clone.Payload = make([]byte, len(t.Payload))
		copy(clone.Payload, t.Payload)
	}
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		clone.ExecutedAt = &at
	}
	return &clone
}
