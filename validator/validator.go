// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package validator implements stateless structural checks on
// inbound/outbound Transfers and Messages.
package validator

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coilhq/ilp-plugin-bilateral/decimalnum"
	"github.com/coilhq/ilp-plugin-bilateral/errs"
	"github.com/coilhq/ilp-plugin-bilateral/ledger"
)

// conditionLength is the length of a base64url-encoded 32-byte hash
// without padding: 32 bytes -> 43 base64url characters.
const conditionLength = 43

// Addresses carries the expected address triple: the ledger prefix, this
// side's account, and the peer's. ValidateTransfer and ValidateMessage
// compare only Prefix (against the Ledger field); Account and Peer are
// not compared against From or To.
type Addresses struct {
	Prefix  string
	Account string
	Peer    string
}

// Message is the generic {from, to, ledger, data} envelope send_message
// and send_request exchange.
type Message struct {
	Ledger string `json:"ledger"`
	From   string `json:"from"`
	To     string `json:"to"`
	Data   []byte `json:"data"`
}

// ValidateTransfer checks a Transfer's structural validity: required
// fields present, addresses well-formed, amount a nonnegative decimal,
// id a canonical UUID, executionCondition 43 characters of base64url,
// expiresAt a parseable instant.
func ValidateTransfer(t ledger.Transfer, addrs Addresses) error {
	if t.ID == "" {
		return errs.New(errs.KindInvalidFields, "transfer is missing id")
	}
	if _, err := uuid.Parse(t.ID); err != nil {
		return errs.New(errs.KindInvalidFields, "transfer id %q is not a canonical UUID", t.ID)
	}

	if !decimalnum.IsNonnegative(t.Amount) {
		return errs.New(errs.KindInvalidFields, "transfer amount %q is not a nonnegative decimal", t.Amount)
	}

	if t.Ledger == "" {
		return errs.New(errs.KindInvalidFields, "transfer is missing ledger")
	}
	if addrs.Prefix != "" && t.Ledger != addrs.Prefix {
		return errs.New(errs.KindInvalidFields, "transfer ledger %q does not match configured prefix %q", t.Ledger, addrs.Prefix)
	}

	if err := validateAddress(t.From, "from"); err != nil {
		return err
	}
	if err := validateAddress(t.To, "to"); err != nil {
		return err
	}

	if err := validateCondition(t.ExecutionCondition, "executionCondition"); err != nil {
		return err
	}

	if t.ExpiresAt == "" {
		return errs.New(errs.KindInvalidFields, "transfer is missing expiresAt")
	}
	if _, err := t.ExpiresAtTime(); err != nil {
		return errs.New(errs.KindInvalidFields, "transfer expiresAt %q does not parse as an instant: %v", t.ExpiresAt, err)
	}

	return nil
}

// ValidateFulfillment checks that f is 43 characters of base64url (32
// decoded bytes). It does not check the hash match against an
// executionCondition — that is the engine's job, since it needs the
// specific transfer in hand.
func ValidateFulfillment(f string) error {
	return validateCondition(f, "fulfillment")
}

// ValidateMessage checks a Message's required fields and address match.
func ValidateMessage(m Message, addrs Addresses) error {
	if m.Ledger == "" {
		return errs.New(errs.KindInvalidFields, "message is missing ledger")
	}
	if addrs.Prefix != "" && m.Ledger != addrs.Prefix {
		return errs.New(errs.KindInvalidFields, "message ledger %q does not match configured prefix %q", m.Ledger, addrs.Prefix)
	}
	if err := validateAddress(m.From, "from"); err != nil {
		return err
	}
	if err := validateAddress(m.To, "to"); err != nil {
		return err
	}
	return nil
}

func validateAddress(addr, field string) error {
	if addr == "" {
		return errs.New(errs.KindInvalidFields, "missing %s address", field)
	}
	if !strings.HasPrefix(addr, "g.") && !strings.HasPrefix(addr, "peer.") &&
		!strings.HasPrefix(addr, "private.") && !strings.HasPrefix(addr, "self.") &&
		!strings.HasPrefix(addr, "example.") && !strings.HasPrefix(addr, "test.") {
		return errs.New(errs.KindInvalidFields, "%s address %q does not look like an ILP address", field, addr)
	}
	return nil
}

func validateCondition(c, field string) error {
	if len(c) != conditionLength {
		return errs.New(errs.KindInvalidFields, "%s must be %d characters of base64url, got %d", field, conditionLength, len(c))
	}
	decoded, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return errs.New(errs.KindInvalidFields, "%s is not valid base64url: %v", field, err)
	}
	if len(decoded) != 32 {
		return errs.New(errs.KindInvalidFields, "%s must decode to 32 bytes, got %d", field, len(decoded))
	}
	return nil
}

// ParseInstant parses an ISO-8601 instant, accepting the common RFC3339
// variants ILP peers in the wild actually send (with or without
// sub-second precision).
func ParseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
