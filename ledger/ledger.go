package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coilhq/ilp-plugin-bilateral/decimalnum"
	"github.com/coilhq/ilp-plugin-bilateral/errs"
	"github.com/coilhq/ilp-plugin-bilateral/store"
)

// aggregates is the cached, atomically-refreshed tuple of running sums.
// All four fields are nonnegative decimal strings.
type aggregates struct {
	IncomingFulfilled            string `json:"incoming_fulfilled"`
	IncomingFulfilledAndPrepared string `json:"incoming_fulfilled_and_prepared"`
	OutgoingFulfilled            string `json:"outgoing_fulfilled"`
	OutgoingFulfilledAndPrepared string `json:"outgoing_fulfilled_and_prepared"`
}

func zeroAggregates() aggregates {
	return aggregates{
		IncomingFulfilled:            decimalnum.Zero,
		IncomingFulfilledAndPrepared: decimalnum.Zero,
		OutgoingFulfilled:            decimalnum.Zero,
		OutgoingFulfilledAndPrepared: decimalnum.Zero,
	}
}

// Log is the transfer log. A single sync.Mutex serializes every mutation
// (a cooperative single-writer model is assumed); the Store, when
// present, is updated inside that same critical section so the persisted
// view is never observably stale relative to the in-memory one.
type Log struct {
	mu  sync.Mutex
	s   store.Store
	key string // "" when unpersisted

	records map[string]*Record
	order   []string

	agg aggregates

	maximum string // upper bound on IncomingFulfilledAndPrepared
	minimum string // lower bound on the signed net feasible balance
}

// New returns an unpersisted Log with maximum/minimum left at their
// permissive defaults (no upper bound, no lower bound).
func New() *Log {
	return &Log{
		records: make(map[string]*Record),
		agg:     zeroAggregates(),
		maximum: "", // empty means unbounded
		minimum: "", // empty means unbounded
	}
}

// Load restores (or creates) a Log persisted under key in s: a log may
// be bound to a persistent store by key, and reopening with the same key
// restores its records and aggregates.
func Load(s store.Store, key string) (*Log, error) {
	l := &Log{
		s:       s,
		key:     key,
		records: make(map[string]*Record),
		agg:     zeroAggregates(),
	}

	rawIndex, ok, err := s.Get(l.indexKey())
	if err != nil {
		return nil, err
	}
	if ok {
		var ids []string
		if err := json.Unmarshal(rawIndex, &ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			raw, ok, err := s.Get(l.recordKey(id))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, err
			}
			l.records[id] = &rec
			l.order = append(l.order, id)
		}
	}

	rawAgg, ok, err := s.Get(l.aggregatesKey())
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(rawAgg, &l.agg); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func (l *Log) indexKey() string      { return l.key + "/index" }
func (l *Log) aggregatesKey() string { return l.key + "/aggregates" }
func (l *Log) recordKey(id string) string {
	return l.key + "/records/" + id
}

// persistLocked writes rec and the refreshed aggregates/index to the
// backing store, if any. Must be called with mu held.
func (l *Log) persistLocked(id string, rec *Record, newID bool) error {
	if l.s == nil {
		return nil
	}
	rawRec, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.s.Put(l.recordKey(id), rawRec); err != nil {
		return err
	}
	if newID {
		rawIndex, err := json.Marshal(l.order)
		if err != nil {
			return err
		}
		if err := l.s.Put(l.indexKey(), rawIndex); err != nil {
			return err
		}
	}
	rawAgg, err := json.Marshal(l.agg)
	if err != nil {
		return err
	}
	return l.s.Put(l.aggregatesKey(), rawAgg)
}

// Prepare records transfer as prepared.
func (l *Log) Prepare(transfer Transfer, isIncoming bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.records[transfer.ID]; ok {
		if existing.Transfer.Equal(transfer) {
			return nil // idempotent re-preparation, no effect
		}
		return errs.New(errs.KindDuplicate,
			"transfer %s already exists with different contents", transfer.ID)
	}

	if err := l.checkBoundsLocked(transfer.Amount, isIncoming); err != nil {
		return err
	}

	rec := &Record{
		Transfer:   transfer,
		IsIncoming: isIncoming,
		State:      StatePrepared,
		PreparedAt: time.Now(),
	}

	if err := l.applyPrepareLocked(transfer.Amount, isIncoming); err != nil {
		return err
	}

	l.records[transfer.ID] = rec
	l.order = append(l.order, transfer.ID)

	return l.persistLocked(transfer.ID, rec, true)
}

func (l *Log) checkBoundsLocked(amount string, isIncoming bool) error {
	if isIncoming {
		if l.maximum == "" {
			return nil
		}
		projected, err := decimalnum.Add(l.agg.IncomingFulfilledAndPrepared, amount)
		if err != nil {
			return errs.New(errs.KindInvalidFields, "%v", err)
		}
		exceeds, err := decimalnum.GreaterThan(projected, l.maximum)
		if err != nil {
			return errs.New(errs.KindInvalidFields, "%v", err)
		}
		if exceeds {
			return errs.New(errs.KindNotAccepted,
				"prepare would raise incoming fulfilled-and-prepared to %s, above maximum %s",
				projected, l.maximum)
		}
		return nil
	}

	if l.minimum == "" {
		return nil
	}
	projectedOutgoing, err := decimalnum.Add(l.agg.OutgoingFulfilledAndPrepared, amount)
	if err != nil {
		return errs.New(errs.KindInvalidFields, "%v", err)
	}
	feasibleMin, err := decimalnum.Sub(l.agg.IncomingFulfilled, projectedOutgoing)
	if err != nil {
		return errs.New(errs.KindInvalidFields, "%v", err)
	}
	below, err := decimalnum.GreaterThan(l.minimum, feasibleMin)
	if err != nil {
		return errs.New(errs.KindInvalidFields, "%v", err)
	}
	if below {
		return errs.New(errs.KindNotAccepted,
			"prepare would lower the feasible balance to %s, below minimum %s",
			feasibleMin, l.minimum)
	}
	return nil
}

func (l *Log) applyPrepareLocked(amount string, isIncoming bool) error {
	var err error
	if isIncoming {
		l.agg.IncomingFulfilledAndPrepared, err = decimalnum.Add(l.agg.IncomingFulfilledAndPrepared, amount)
	} else {
		l.agg.OutgoingFulfilledAndPrepared, err = decimalnum.Add(l.agg.OutgoingFulfilledAndPrepared, amount)
	}
	return err
}

// Fulfill records fulfillment against a prepared transfer. It does not
// itself check the fulfillment hash against the executionCondition —
// fulfillment is stored opaquely here; the engine, not the log, validates
// SHA-256(fulfillment) == executionCondition before calling Fulfill.
//
// changed reports whether this call performed the prepared->fulfilled
// transition, as opposed to finding the record already fulfilled. Two
// calls racing on the same id are serialized by mu, but both may
// legitimately observe success; only the one that actually transitioned
// should drive a caller's one-time side effects (event emission, peer
// notification).
func (l *Log) Fulfill(id string, fulfillment string) (changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return false, fmt.Errorf("ledger: transfer %s not found", id)
	}

	switch rec.State {
	case StateFulfilled:
		return false, nil
	case StateCancelled:
		return false, errs.New(errs.KindAlreadyRejected, "transfer %s was already cancelled", id)
	}

	if rec.IsIncoming {
		l.agg.IncomingFulfilled, err = decimalnum.Add(l.agg.IncomingFulfilled, rec.Transfer.Amount)
		if err != nil {
			return false, errs.New(errs.KindInvalidFields, "%v", err)
		}
	} else {
		l.agg.OutgoingFulfilled, err = decimalnum.Add(l.agg.OutgoingFulfilled, rec.Transfer.Amount)
		if err != nil {
			return false, errs.New(errs.KindInvalidFields, "%v", err)
		}
	}

	rec.State = StateFulfilled
	rec.Fulfillment = fulfillment

	if err := l.persistLocked(id, rec, false); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel marks a prepared transfer as cancelled, recording reason.
//
// changed reports whether this call performed the prepared->cancelled
// transition, as opposed to finding the record already cancelled. See
// Fulfill for why callers must gate one-time side effects on it rather
// than on a nil error.
func (l *Log) Cancel(id string, reason any) (changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return false, fmt.Errorf("ledger: transfer %s not found", id)
	}

	switch rec.State {
	case StateCancelled:
		return false, nil
	case StateFulfilled:
		return false, errs.New(errs.KindAlreadyFulfilled, "transfer %s was already fulfilled", id)
	}

	if rec.IsIncoming {
		l.agg.IncomingFulfilledAndPrepared, err = decimalnum.Sub(l.agg.IncomingFulfilledAndPrepared, rec.Transfer.Amount)
	} else {
		l.agg.OutgoingFulfilledAndPrepared, err = decimalnum.Sub(l.agg.OutgoingFulfilledAndPrepared, rec.Transfer.Amount)
	}
	if err != nil {
		return false, errs.New(errs.KindInvalidFields, "%v", err)
	}

	rec.State = StateCancelled
	rec.CancellationReason = reason

	if err := l.persistLocked(id, rec, false); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a copy of the record for id, if present.
func (l *Log) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetBalance returns the signed net balance, incomingFulfilled minus
// outgoingFulfilled.
func (l *Log) GetBalance() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return decimalnum.Sub(l.agg.IncomingFulfilled, l.agg.OutgoingFulfilled)
}

func (l *Log) GetIncomingFulfilled() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agg.IncomingFulfilled
}

func (l *Log) GetIncomingFulfilledAndPrepared() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agg.IncomingFulfilledAndPrepared
}

func (l *Log) GetOutgoingFulfilled() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agg.OutgoingFulfilled
}

func (l *Log) GetOutgoingFulfilledAndPrepared() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agg.OutgoingFulfilledAndPrepared
}

func (l *Log) GetMaximum() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maximum
}

func (l *Log) SetMaximum(max string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maximum = max
}

func (l *Log) GetMinimum() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minimum
}

func (l *Log) SetMinimum(min string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minimum = min
}
