// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package rpc implements a bidirectional authenticated request/response
// layer: either peer may originate a call over a single long-lived duplex
// connection, authenticated by a shared bearer token, with ordered URI
// failover on the calling side.
package rpc

import (
	jsoniter "github.com/json-iterator/go"
)

// wireJSON is the wire codec: github.com/json-iterator/go configured for
// stdlib-compatible output, used as a drop-in replacement for
// encoding/json — the faster real-world substitute go-ethereum's own
// dependency surface already includes.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// RawMessage is this package's JSON raw-message type, sourced from
// jsoniter rather than encoding/json so it round-trips through wireJSON
// without a conversion.
type RawMessage = jsoniter.RawMessage

// Request is the wire envelope:
// {"method": string, "prefix": string, "args": [json...]}, with a
// correlation id added so either side can multiplex calls over one
// duplex connection.
type Request struct {
	ID     string        `json:"id"`
	Method string        `json:"method"`
	Prefix string        `json:"prefix"`
	Args   []RawMessage  `json:"args"`
}

// WireError is the {name, message} error shape carried on the wire.
type WireError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Response is the wire envelope: either Result or Error is set, never
// both.
type Response struct {
	ID     string      `json:"id"`
	Result RawMessage  `json:"result,omitempty"`
	Error  *WireError  `json:"error,omitempty"`
}

// frame is the union type read off the wire before it is known whether the
// payload is a Request (has "method") or a Response (has "result" or
// "error").
type frame struct {
	ID     string       `json:"id"`
	Method string       `json:"method,omitempty"`
	Prefix string       `json:"prefix,omitempty"`
	Args   []RawMessage `json:"args,omitempty"`
	Result RawMessage   `json:"result,omitempty"`
	Error  *WireError   `json:"error,omitempty"`
}

func (f frame) isRequest() bool { return f.Method != "" }

// Unmarshal decodes raw into v using the same codec the wire envelope
// itself is marshaled with, so callers decoding Request.Args/Response.Result
// don't need to import jsoniter themselves.
func Unmarshal(raw RawMessage, v any) error {
	return wireJSON.Unmarshal(raw, v)
}
