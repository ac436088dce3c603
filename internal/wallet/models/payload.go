package models

import (
	"bytes"
	"encoding/json"
	"strconv"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Action discriminates what a transaction does when executed.
type Action string

const (
	// ActionTransfer is the implicit action of an empty payload.
	ActionTransfer Action = "transfer"

	ActionAddOwner        Action = "add_owner"
	ActionRemoveOwner     Action = "remove_owner"
	ActionChangeThreshold Action = "change_threshold"
)

// GovernanceCall is the decoded form of a non-empty payload: a mutation of
// the wallet's own owner set or threshold, routed through the same
// submit/confirm/execute pipeline as value transfers.
type GovernanceCall struct {
	Action    Action          `json:"action"`
	Owner     *domain.Address `json:"owner,omitempty"`
	Threshold *int            `json:"threshold,omitempty"`
}

// EncodeAddOwner builds the payload for an add-owner proposal.
func EncodeAddOwner(owner domain.Address) []byte {
	return mustEncode(GovernanceCall{Action: ActionAddOwner, Owner: &owner})
}

// EncodeRemoveOwner builds the payload for a remove-owner proposal.
func EncodeRemoveOwner(owner domain.Address) []byte {
	return mustEncode(GovernanceCall{Action: ActionRemoveOwner, Owner: &owner})
}

// EncodeChangeThreshold builds the payload for a threshold change proposal.
func EncodeChangeThreshold(n int) []byte {
	return mustEncode(GovernanceCall{Action: ActionChangeThreshold, Threshold: &n})
}

func mustEncode(call GovernanceCall) []byte {
	b, err := json.Marshal(call)
	if err != nil {
		// Marshalling a plain struct cannot fail.
		panic(err)
	}
	return b
}

// DecodePayload is the authoritative decoder used at execution time. A
// non-empty payload that does not strictly decode to a valid governance
// call fails closed with CodeMalformedPayload: it is never downgraded to a
// transfer. Unknown fields are rejected.
func DecodePayload(payload []byte) (*GovernanceCall, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var call GovernanceCall
	if err := dec.Decode(&call); err != nil {
		return nil, dErrors.New(dErrors.CodeMalformedPayload, "payload does not decode as a governance call")
	}
	// Reject trailing garbage after the JSON document.
	if dec.More() {
		return nil, dErrors.New(dErrors.CodeMalformedPayload, "payload contains trailing data")
	}

	switch call.Action {
	case ActionAddOwner, ActionRemoveOwner:
		if call.Owner == nil || call.Owner.IsZero() {
			return nil, dErrors.Newf(dErrors.CodeMalformedPayload, "%s requires an owner", call.Action)
		}
		if call.Threshold != nil {
			return nil, dErrors.Newf(dErrors.CodeMalformedPayload, "%s does not take a threshold", call.Action)
		}
	case ActionChangeThreshold:
		if call.Threshold == nil {
			return nil, dErrors.New(dErrors.CodeMalformedPayload, "change_threshold requires a threshold")
		}
		if call.Owner != nil {
			return nil, dErrors.New(dErrors.CodeMalformedPayload, "change_threshold does not take an owner")
		}
	default:
		return nil, dErrors.Newf(dErrors.CodeMalformedPayload, "unknown action %q", call.Action)
	}
	return &call, nil
}

// PayloadKind classifies a payload for display. Lenient by design: a
// malformed payload renders as a transfer in listings, while DecodePayload
// still fails closed at execution time.
func PayloadKind(payload []byte) Action {
	call, err := DecodePayload(payload)
	if err != nil || call == nil {
		return ActionTransfer
	}
	return call.Action
}

func formatIndex(index uint64) string {
	return strconv.FormatUint(index, 10)
}
