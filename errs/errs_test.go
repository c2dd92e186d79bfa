package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindDuplicate, "id %s already exists with different contents", "abc")
	require.Equal(t, "DuplicateError: id abc already exists with different contents", err.Error())
}

func TestIs(t *testing.T) {
	err := New(KindAlreadyRejected, "transfer is cancelled")
	require.True(t, Is(err, KindAlreadyRejected))
	require.False(t, Is(err, KindAlreadyFulfilled))
	require.True(t, errors.Is(err, New(KindAlreadyRejected, "")))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindNotAccepted, cause, "backend refused")
	require.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindNotAccepted, kind)
}

func TestRejectData(t *testing.T) {
	err := New(KindInvalidFields, "amount must be nonnegative")
	require.Equal(t, "InvalidFieldsError: amount must be nonnegative", string(RejectData(err)))
}
