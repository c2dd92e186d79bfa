package decimalnum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	sum, err := Add("100", "30.5")
	require.NoError(t, err)
	require.Equal(t, "130.5", sum)

	diff, err := Sub("100", "30.5")
	require.NoError(t, err)
	require.Equal(t, "69.5", diff)
}

func TestNegate(t *testing.T) {
	cases := map[string]string{
		"100":   "-100",
		"-100":  "100",
		"0":     "0",
		"-0":    "0",
		"0.001": "-0.001",
	}
	for in, want := range cases {
		got, err := Negate(in)
		require.NoError(t, err)
		require.Equal(t, want, got, "Negate(%q)", in)
	}
}

func TestNegateRejectsDoubleNegative(t *testing.T) {
	_, err := Negate("--5")
	require.Error(t, err)
}

func TestIsNonnegative(t *testing.T) {
	require.True(t, IsNonnegative("0"))
	require.True(t, IsNonnegative("100"))
	require.False(t, IsNonnegative("-1"))
	require.False(t, IsNonnegative("not-a-number"))
}

func TestGreaterThan(t *testing.T) {
	gt, err := GreaterThan("70", "50")
	require.NoError(t, err)
	require.True(t, gt)

	gt, err = GreaterThan("50", "70")
	require.NoError(t, err)
	require.False(t, gt)

	gt, err = GreaterThan("50", "50")
	require.NoError(t, err)
	require.False(t, gt)
}
