// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package ledger implements a durable, concurrent-safe ledger of
// conditional transfers with four monotonic balance aggregates, enforced
// bounds, idempotent preparation, and state-machine-guarded
// fulfill/cancel transitions.
package ledger

import "time"

// State is a TransferRecord's position in the prepared/fulfilled/cancelled
// state machine. Transitions are acyclic: prepared can move to fulfilled
// or cancelled; both are terminal.
type State string

const (
	StatePrepared  State = "prepared"
	StateFulfilled State = "fulfilled"
	StateCancelled State = "cancelled"
)

// Transfer is the immutable conditional-transfer record. NoteToSelf is
// intentionally excluded from any wire-serialized view elsewhere in this
// module (plugin.Engine.SendTransfer strips it before relaying), but it is a regular field here since
// the log itself is not a transport boundary.
type Transfer struct {
	ID                 string `json:"id"`
	Amount             string `json:"amount"`
	Ledger             string `json:"ledger"`
	From               string `json:"from"`
	To                 string `json:"to"`
	ExecutionCondition string `json:"execution_condition"`
	ExpiresAt          string `json:"expires_at"` // ISO-8601 instant
	ILP                []byte `json:"ilp,omitempty"`
	NoteToSelf         []byte `json:"note_to_self,omitempty"`
}

// Equal reports whether two Transfer values are field-for-field equal,
// the test used to make re-preparation under the same id idempotent.
func (t Transfer) Equal(o Transfer) bool {
	return t.ID == o.ID &&
		t.Amount == o.Amount &&
		t.Ledger == o.Ledger &&
		t.From == o.From &&
		t.To == o.To &&
		t.ExecutionCondition == o.ExecutionCondition &&
		t.ExpiresAt == o.ExpiresAt &&
		string(t.ILP) == string(o.ILP) &&
		string(t.NoteToSelf) == string(o.NoteToSelf)
}

// ExpiresAtTime parses Transfer.ExpiresAt as an instant.
func (t Transfer) ExpiresAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, t.ExpiresAt)
}

// Record is a TransferRecord: a Transfer plus direction, state, and the
// data that accumulates as the transfer progresses.
type Record struct {
	Transfer           Transfer  `json:"transfer"`
	IsIncoming         bool      `json:"is_incoming"`
	State              State     `json:"state"`
	Fulfillment        string    `json:"fulfillment,omitempty"`
	CancellationReason any       `json:"cancellation_reason,omitempty"`
	PreparedAt         time.Time `json:"prepared_at"`
}
