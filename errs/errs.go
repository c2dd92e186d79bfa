// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.
//
// The ilp-plugin-bilateral library is free software: you can redistribute
// it and/or modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation, either version 3
// of the License, or (at your option) any later version.
//
// The ilp-plugin-bilateral library is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.

// Package errs defines a named-kind error taxonomy, not a type hierarchy,
// so that transport and RPC layers can serialize a {name, message} pair
// and reconstruct an equivalent error on the far side.
package errs

import (
	"errors"
	"fmt"
)

// Kind names one error kind. It is intentionally a plain string, not a
// typed constant with methods, so it round-trips
// through the RPC wire contract's {name, message} shape unchanged.
type Kind string

const (
	KindInvalidFields                  Kind = "InvalidFieldsError"
	KindNotAccepted                     Kind = "NotAcceptedError"
	KindAlreadyRejected                 Kind = "AlreadyRejectedError"
	KindAlreadyFulfilled                Kind = "AlreadyFulfilledError"
	KindDuplicate                       Kind = "DuplicateError"
	KindNotConnected                    Kind = "NotConnectedError"
	KindRequestHandlerAlreadyRegistered Kind = "RequestHandlerAlreadyRegisteredError"
)

// ILPRejectCode is the ILP error-packet code every rejected request
// carries back to the peer.
const ILPRejectCode = "F00 Bad Request"

// Error is the concrete error value produced throughout this module. Kind
// classifies it for programmatic handling (errors.Is, wire serialization);
// Message is the human-readable detail.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errs.New(errs.KindDuplicate, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err if it is an *Error, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// RejectData renders err as the stringified `data` payload of an ILP F00
// Bad Request reject packet.
func RejectData(err error) []byte {
	return []byte(err.Error())
}
