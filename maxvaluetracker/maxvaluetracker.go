// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package maxvaluetracker implements the monotone "best claim so far"
// register: a (value, data) entry whose value never decreases across the
// tracker's lifetime, with an atomic SetIfMax that settlement backends
// rely on whenever multiple concurrent actors may race to report a claim.
package maxvaluetracker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coilhq/ilp-plugin-bilateral/decimalnum"
	"github.com/coilhq/ilp-plugin-bilateral/store"
)

// Entry is a MaxValueTrackerEntry: Value is an arbitrary-precision
// decimal string, Data is opaque JSON.
type Entry struct {
	Value string          `json:"value"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// emptyEntry is the zero value a Tracker reports before any SetIfMax
// call: semantically equivalent to {value: "0", data: null}.
var emptyEntry = Entry{Value: decimalnum.Zero}

// Tracker is a single monotone register. The zero value is not usable;
// construct with New or Load.
type Tracker struct {
	mu  sync.Mutex
	key string // store key this tracker persists under, "" if unpersisted
	store store.Store
	cur Entry

	// persistedRaw is the last value this Tracker wrote to store (or read
	// back via Load), nil if the key has never held one. persist uses it
	// as the expected "old" half of a CompareAndSwap, so another writer to
	// the same key in the same store (such as a second Tracker loaded on
	// it) is caught as a swap failure rather than silently overwritten.
	persistedRaw []byte
}

// New returns an unpersisted Tracker starting from the empty entry.
func New() *Tracker {
	return &Tracker{cur: emptyEntry}
}

// Load restores (or creates) a Tracker persisted under key in s:
// reopening with an existing key resumes its prior value rather than
// resetting to empty.
func Load(s store.Store, key string) (*Tracker, error) {
	t := &Tracker{key: key, store: s, cur: emptyEntry}
	raw, ok, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(raw, &t.cur); err != nil {
			return nil, err
		}
		t.persistedRaw = raw
	}
	return t, nil
}

// SetIfMax atomically compares entry.Value to the tracker's current value
// and, if strictly greater, replaces the tracker's state and returns the
// entry that was previously current. Otherwise the tracker is left
// unchanged and entry itself is returned unmodified.
func (t *Tracker) SetIfMax(entry Entry) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	greater, err := decimalnum.GreaterThan(entry.Value, t.cur.Value)
	if err != nil {
		return Entry{}, err
	}
	if !greater {
		return entry, nil
	}

	prev := t.cur
	if err := t.persist(entry); err != nil {
		return Entry{}, err
	}
	t.cur = entry
	return prev, nil
}

// GetMax returns the tracker's current entry.
func (t *Tracker) GetMax() Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

func (t *Tracker) persist(entry Entry) error {
	if t.store == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	swapped, err := t.store.CompareAndSwap(t.key, t.persistedRaw, raw)
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("maxvaluetracker: key %s changed underneath this tracker", t.key)
	}
	t.persistedRaw = raw
	return nil
}
