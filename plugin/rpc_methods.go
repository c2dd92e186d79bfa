package plugin

import (
	"context"
	"time"

	"github.com/coilhq/ilp-plugin-bilateral/errs"
	"github.com/coilhq/ilp-plugin-bilateral/event"
	"github.com/coilhq/ilp-plugin-bilateral/ledger"
	"github.com/coilhq/ilp-plugin-bilateral/rpc"
	"github.com/coilhq/ilp-plugin-bilateral/validator"
)

// registerMethods installs the handlers for every peer-originated call
// this engine answers. Registered once, in New.
func (e *Engine) registerMethods() {
	must := func(method string, h rpc.Handler) {
		if err := e.dispatcher.RegisterMethod(method, h); err != nil {
			panic(err) // only fires on a programmer error: duplicate registration at construction time
		}
	}

	must("send_transfer", e.handleSendTransfer)
	must("fulfill_condition", e.handleFulfillCondition)
	must("reject_incoming_transfer", e.handleRejectIncomingTransfer)
	must("expire_transfer", e.handleExpireTransfer)
	must("send_message", e.handleSendMessage)
	must("send_request", e.handleSendRequest)
	must("get_limit", e.handleGetLimit)
	must("get_balance", e.handleGetBalance)
	must("get_info", e.handleGetInfo)
	must("get_fulfillment", e.handleGetFulfillment)
}

func decodeArg[T any](args []rpc.RawMessage, i int, out *T) error {
	if i >= len(args) {
		return errs.New(errs.KindInvalidFields, "missing argument %d", i)
	}
	return rpc.Unmarshal(args[i], out)
}

func (e *Engine) handleSendTransfer(ctx context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var t ledger.Transfer
	if err := decodeArg(args, 0, &t); err != nil {
		return nil, err
	}
	if err := validator.ValidateTransfer(t, e.addrs); err != nil {
		return nil, err
	}

	_, alreadyPrepared := e.log.Get(t.ID)
	if err := e.log.Prepare(t, true); err != nil {
		return nil, err
	}
	if alreadyPrepared {
		// A retried delivery of an already-recorded transfer: the log
		// mutation was a no-op, so nothing downstream re-runs either.
		return true, nil
	}

	if err := e.backendImpl.HandleIncomingPrepare(ctx, e.pctx, t.ID, t.Amount); err != nil {
		_, _ = e.log.Cancel(t.ID, err.Error())
		return nil, err
	}
	e.bus.Emit(event.Event{Type: event.IncomingPrepare, TransferID: t.ID, Amount: t.Amount})
	e.armExpiry(t)
	return true, nil
}

func (e *Engine) handleFulfillCondition(_ context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var id, fulfillment string
	if err := decodeArg(args, 0, &id); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, &fulfillment); err != nil {
		return nil, err
	}

	rec, ok := e.log.Get(id)
	if !ok {
		return nil, errs.New(errs.KindInvalidFields, "unknown transfer %s", id)
	}
	if rec.IsIncoming {
		return nil, errs.New(errs.KindNotAccepted, "transfer %s is incoming; only the sender accepts fulfill_condition", id)
	}
	if rec.State == ledger.StateCancelled {
		return nil, errs.New(errs.KindAlreadyRejected, "transfer %s was already cancelled", id)
	}
	if err := validator.ValidateFulfillment(fulfillment); err != nil {
		return nil, err
	}
	if err := checkFulfillmentHash(rec.Transfer.ExecutionCondition, fulfillment); err != nil {
		return nil, err
	}

	changed, err := e.log.Fulfill(id, fulfillment)
	if err != nil {
		return nil, err
	}
	e.scheduler.Cancel(id)
	if changed {
		e.bus.Emit(event.Event{Type: event.OutgoingFulfill, TransferID: id, Fulfillment: fulfillment})
	}

	claim, err := e.backendImpl.CreateOutgoingClaim(context.Background(), e.pctx, e.log.GetOutgoingFulfilled())
	if err != nil {
		e.logger.Warn("createOutgoingClaim failed", "id", id, "err", err)
		return true, nil
	}
	if claim == nil {
		return true, nil
	}
	return claim, nil
}

func (e *Engine) handleRejectIncomingTransfer(_ context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var id string
	var reason any
	if err := decodeArg(args, 0, &id); err != nil {
		return nil, err
	}
	if len(args) > 1 {
		_ = decodeArg(args, 1, &reason)
	}

	rec, ok := e.log.Get(id)
	if !ok {
		return nil, errs.New(errs.KindInvalidFields, "unknown transfer %s", id)
	}
	if rec.IsIncoming {
		return nil, errs.New(errs.KindNotAccepted, "transfer %s is incoming on this side; cannot mirror a reject for it", id)
	}
	changed, err := e.log.Cancel(id, reason)
	if err != nil {
		return nil, err
	}
	e.scheduler.Cancel(id)
	if changed {
		e.bus.Emit(event.Event{Type: event.OutgoingReject, TransferID: id, Reason: reason})
	}
	return true, nil
}

func (e *Engine) handleExpireTransfer(_ context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var id, nowStr string
	if err := decodeArg(args, 0, &id); err != nil {
		return nil, err
	}
	_ = decodeArg(args, 1, &nowStr)

	rec, ok := e.log.Get(id)
	if !ok {
		return true, nil // already gone; a duplicate expire_transfer is a no-op
	}
	if rec.State != ledger.StatePrepared {
		return true, nil
	}

	expiresAt, err := rec.Transfer.ExpiresAtTime()
	if err == nil && nowStr != "" {
		if now, perr := validator.ParseInstant(nowStr); perr == nil && now.Before(expiresAt) {
			return nil, errs.New(errs.KindNotAccepted, "expire_transfer for %s received before its expiresAt", id)
		}
	}

	changed, err := e.log.Cancel(id, "expired")
	if err != nil {
		return true, nil // lost the race locally; already terminal
	}
	e.scheduler.Cancel(id)
	if changed {
		e.bus.Emit(event.Event{Type: cancelEventType(rec.IsIncoming), TransferID: id, Reason: "expired"})
	}
	return true, nil
}

func (e *Engine) handleSendMessage(_ context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var msg validator.Message
	if err := decodeArg(args, 0, &msg); err != nil {
		return nil, err
	}
	if err := validator.ValidateMessage(msg, e.addrs); err != nil {
		return nil, err
	}
	e.bus.Emit(event.Event{Type: event.IncomingMessage, Message: msg.Data})
	return true, nil
}

func (e *Engine) handleSendRequest(ctx context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var msg validator.Message
	if err := decodeArg(args, 0, &msg); err != nil {
		return nil, err
	}
	if err := validator.ValidateMessage(msg, e.addrs); err != nil {
		return nil, err
	}
	e.bus.Emit(event.Event{Type: event.IncomingRequest, Message: msg.Data})

	e.handlerMu.Lock()
	h := e.onRequest
	e.handlerMu.Unlock()

	var resp validator.Message
	if h != nil {
		r, err := h(ctx, msg)
		if err != nil {
			return nil, err
		}
		resp = r
	} else {
		resp = validator.Message{Ledger: msg.Ledger, From: msg.To, To: msg.From}
	}
	e.bus.Emit(event.Event{Type: event.OutgoingResponse, Message: resp.Data})
	return resp, nil
}

func (e *Engine) handleGetLimit(context.Context, string, []rpc.RawMessage) (any, error) {
	return struct {
		Maximum string `json:"maximum"`
		Minimum string `json:"minimum"`
	}{e.log.GetMaximum(), e.log.GetMinimum()}, nil
}

func (e *Engine) handleGetBalance(context.Context, string, []rpc.RawMessage) (any, error) {
	return e.log.GetBalance()
}

func (e *Engine) handleGetInfo(context.Context, string, []rpc.RawMessage) (any, error) {
	return e.backendImpl.GetInfo(e.pctx), nil
}

func (e *Engine) handleGetFulfillment(_ context.Context, _ string, args []rpc.RawMessage) (any, error) {
	var id string
	if err := decodeArg(args, 0, &id); err != nil {
		return nil, err
	}
	rec, ok := e.log.Get(id)
	if !ok {
		return nil, errs.New(errs.KindInvalidFields, "unknown transfer %s", id)
	}
	if rec.State != ledger.StateFulfilled {
		return nil, errs.New(errs.KindNotAccepted, "transfer %s has not been fulfilled", id)
	}
	return rec.Fulfillment, nil
}

func cancelEventType(isIncoming bool) event.Type {
	if isIncoming {
		return event.IncomingCancel
	}
	return event.OutgoingCancel
}

// armExpiry schedules the expiry timer for a freshly prepared transfer,
// tolerating a malformed expiresAt by simply not arming a timer for it.
// Both callers (SendTransfer and handleSendTransfer) run
// validator.ValidateTransfer first, which already rejects that case, so
// this is a defensive guard only.
func (e *Engine) armExpiry(t ledger.Transfer) {
	if deadline, err := t.ExpiresAtTime(); err == nil {
		e.scheduler.Schedule(t.ID, deadline)
	}
}

// onExpiry is the expiry scheduler's fire callback: it re-reads the
// record, and if still prepared, cancels it locally and best-effort
// notifies the peer.
func (e *Engine) onExpiry(id string) {
	rec, ok := e.log.Get(id)
	if !ok || rec.State != ledger.StatePrepared {
		return
	}
	changed, err := e.log.Cancel(id, "expired")
	if err != nil || !changed {
		return
	}
	e.bus.Emit(event.Event{Type: cancelEventType(rec.IsIncoming), TransferID: id, Reason: "expired"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = e.callPeer(ctx, "expire_transfer", id, time.Now().UTC().Format(time.RFC3339Nano))
}
