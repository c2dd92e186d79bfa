// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package decimalnum wraps github.com/shopspring/decimal with the handful
// of operations this module needs explicitly: arbitrary-precision
// add/sub/compare, nonnegative-sum validation, and sign-flip negation that
// handles a leading "-" explicitly rather than via a generic parse. Every
// Transfer.Amount, MaxValueTrackerEntry.Value and TransferLog aggregate in
// this module is a decimal string that flows through here, never through
// float64.
package decimalnum

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the canonical "0" decimal string used for empty aggregates and
// an empty MaxValueTracker, which is semantically equivalent to
// {value: "0", data: null}.
const Zero = "0"

// Parse parses s as an arbitrary-precision decimal. It never widens to a
// native float.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decimalnum: %q is not a valid decimal: %w", s, err)
	}
	return d, nil
}

// IsNonnegative reports whether s parses as a decimal >= 0.
func IsNonnegative(s string) bool {
	d, err := Parse(s)
	if err != nil {
		return false
	}
	return !d.IsNegative()
}

// Add returns a+b as a decimal string.
func Add(a, b string) (string, error) {
	da, err := Parse(a)
	if err != nil {
		return "", err
	}
	db, err := Parse(b)
	if err != nil {
		return "", err
	}
	return da.Add(db).String(), nil
}

// Sub returns a-b as a decimal string.
func Sub(a, b string) (string, error) {
	da, err := Parse(a)
	if err != nil {
		return "", err
	}
	db, err := Parse(b)
	if err != nil {
		return "", err
	}
	return da.Sub(db).String(), nil
}

// Negate returns -s. A leading "-" is stripped explicitly rather than
// relying solely on the decimal library's sign handling, so that a
// malformed double-negative ("--5") is rejected rather than silently
// parsed as a positive value.
func Negate(s string) (string, error) {
	if len(s) > 0 && s[0] == '-' {
		rest := s[1:]
		if len(rest) > 0 && rest[0] == '-' {
			return "", fmt.Errorf("decimalnum: %q is a malformed double-negative", s)
		}
		if _, err := Parse(rest); err != nil {
			return "", fmt.Errorf("decimalnum: %q is not a valid decimal: %w", s, err)
		}
		return rest, nil
	}
	d, err := Parse(s)
	if err != nil {
		return "", err
	}
	if d.IsZero() {
		return d.String(), nil
	}
	return d.Neg().String(), nil
}

// IsZero reports whether s parses as exactly zero.
func IsZero(s string) bool {
	d, err := Parse(s)
	if err != nil {
		return false
	}
	return d.IsZero()
}

// Compare returns -1, 0, or 1 as a compares less than, equal to, or greater
// than b, numerically (not lexicographically).
func Compare(a, b string) (int, error) {
	da, err := Parse(a)
	if err != nil {
		return 0, err
	}
	db, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(db), nil
}

// GreaterThan reports whether a > b numerically. Used by MaxValueTracker's
// monotone setIfMax comparison.
func GreaterThan(a, b string) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
