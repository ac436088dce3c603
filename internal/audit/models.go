package audit

import (
	"time"

	"custodia/pkg/domain"
)

// EventName identifies what happened to a wallet.
type EventName string

const (
	EventWalletCreated    EventName = "wallet_created"
	EventDepositReceived  EventName = "deposit_received"
	EventSubmission       EventName = "submission"
	EventConfirmation     EventName = "confirmation"
	EventRevocation       EventName = "revocation"
	EventExecution        EventName = "execution"
	EventOwnerAdded       EventName = "owner_added"
	EventOwnerRemoved     EventName = "owner_removed"
	EventThresholdChanged EventName = "threshold_changed"
)

// Event is one entry in the wallet audit trail. Events are written to the
// outbox in the same unit of work as the state change they describe, then
// drained to Kafka by the worker. ID is assigned by the store on append and
// orders the trail; PublishedAt is set once the worker has delivered the
// event.
type Event struct {
	ID          int64             `json:"id"`
	Name        EventName         `json:"name"`
	WalletID    domain.WalletID   `json:"wallet_id"`
	Actor       domain.Address    `json:"actor"`
	TxIndex     *uint64           `json:"tx_index,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	PublishedAt *time.Time        `json:"-"`
}

// WithIndex attaches the ledger index the event refers to.
func (e Event) WithIndex(index uint64) Event {
	e.TxIndex = &index
	return e
}

// WithDetail adds one key to the detail map, copying it first so shared
// events stay immutable.
func (e Event) WithDetail(key, value string) Event {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}
