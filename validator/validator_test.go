package validator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coilhq/ilp-plugin-bilateral/errs"
	"github.com/coilhq/ilp-plugin-bilateral/ledger"
	"github.com/coilhq/ilp-plugin-bilateral/validator"
)

func validTransfer() ledger.Transfer {
	return ledger.Transfer{
		ID:                 "11111111-1111-1111-1111-111111111111",
		Amount:             "100",
		Ledger:             "peer.t.",
		From:               "peer.t.alice",
		To:                 "peer.t.bob",
		ExecutionCondition: "Yze5rhbMcvH8YRSAlsLby-5xy-hpb2Jq0rp_CBYpBjA",
		ExpiresAt:          "2030-01-01T00:00:00Z",
	}
}

func TestValidTransferPasses(t *testing.T) {
	err := validator.ValidateTransfer(validTransfer(), validator.Addresses{Prefix: "peer.t."})
	require.NoError(t, err)
}

func TestTransferBadUUID(t *testing.T) {
	tr := validTransfer()
	tr.ID = "not-a-uuid"
	err := validator.ValidateTransfer(tr, validator.Addresses{})
	require.True(t, errs.Is(err, errs.KindInvalidFields))
}

func TestTransferNegativeAmount(t *testing.T) {
	tr := validTransfer()
	tr.Amount = "-5"
	err := validator.ValidateTransfer(tr, validator.Addresses{})
	require.True(t, errs.Is(err, errs.KindInvalidFields))
}

func TestTransferBadCondition(t *testing.T) {
	tr := validTransfer()
	tr.ExecutionCondition = "too-short"
	err := validator.ValidateTransfer(tr, validator.Addresses{})
	require.True(t, errs.Is(err, errs.KindInvalidFields))
}

func TestTransferLedgerMismatch(t *testing.T) {
	tr := validTransfer()
	err := validator.ValidateTransfer(tr, validator.Addresses{Prefix: "peer.other."})
	require.True(t, errs.Is(err, errs.KindInvalidFields))
}

func TestTransferBadExpiry(t *testing.T) {
	tr := validTransfer()
	tr.ExpiresAt = "not-a-date"
	err := validator.ValidateTransfer(tr, validator.Addresses{})
	require.True(t, errs.Is(err, errs.KindInvalidFields))
}

func TestValidateFulfillment(t *testing.T) {
	require.NoError(t, validator.ValidateFulfillment("Yze5rhbMcvH8YRSAlsLby-5xy-hpb2Jq0rp_CBYpBjA"))
	err := validator.ValidateFulfillment("short")
	require.True(t, errs.Is(err, errs.KindInvalidFields))
}

func TestValidateMessage(t *testing.T) {
	m := validator.Message{Ledger: "peer.t.", From: "peer.t.alice", To: "peer.t.bob", Data: []byte("hi")}
	require.NoError(t, validator.ValidateMessage(m, validator.Addresses{Prefix: "peer.t."}))

	m.From = ""
	require.Error(t, validator.ValidateMessage(m, validator.Addresses{Prefix: "peer.t."}))
}
