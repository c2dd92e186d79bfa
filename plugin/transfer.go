package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/base64"

	"github.com/coilhq/ilp-plugin-bilateral/decimalnum"
	"github.com/coilhq/ilp-plugin-bilateral/errs"
	"github.com/coilhq/ilp-plugin-bilateral/event"
	"github.com/coilhq/ilp-plugin-bilateral/ledger"
	"github.com/coilhq/ilp-plugin-bilateral/rpc"
	"github.com/coilhq/ilp-plugin-bilateral/validator"
)

func unmarshalResult(resp rpc.Response, v any) error {
	return rpc.Unmarshal(resp.Result, v)
}

// checkFulfillmentHash verifies SHA-256(fulfillment) == executionCondition,
// both base64url-encoded 32-byte values. This is the engine-level check
// the log itself deliberately does not perform.
func checkFulfillmentHash(executionCondition, fulfillment string) error {
	f, err := base64.RawURLEncoding.DecodeString(fulfillment)
	if err != nil {
		return errs.New(errs.KindInvalidFields, "fulfillment is not valid base64url: %v", err)
	}
	sum := sha256.Sum256(f)
	got := base64.RawURLEncoding.EncodeToString(sum[:])
	if got != executionCondition {
		return errs.New(errs.KindInvalidFields, "fulfillment does not hash to the execution condition")
	}
	return nil
}

// SendTransfer prepares an outgoing transfer locally and relays it to the
// peer via send_transfer. The note-to-self field never leaves this
// process.
func (e *Engine) SendTransfer(ctx context.Context, t ledger.Transfer) error {
	if err := e.assertConnected(); err != nil {
		return err
	}
	t.Ledger = e.opts.Prefix
	if err := validator.ValidateTransfer(t, e.addrs); err != nil {
		return err
	}
	_, alreadyPrepared := e.log.Get(t.ID)
	if err := e.log.Prepare(t, false); err != nil {
		return err
	}
	if alreadyPrepared {
		return nil
	}

	wire := t
	wire.NoteToSelf = nil
	if _, err := e.callPeer(ctx, "send_transfer", wire); err != nil {
		if !e.tolerateFailure() {
			return err
		}
		e.logger.Warn("send_transfer failed; relying on expiry", "id", t.ID, "err", err)
	}

	e.bus.Emit(event.Event{Type: event.OutgoingPrepare, TransferID: t.ID, Amount: t.Amount})
	e.armExpiry(t)
	return nil
}

// FulfillCondition releases an incoming prepared transfer this side
// received, notifying the peer. Only the receiving side may call this for
// a given transfer.
func (e *Engine) FulfillCondition(ctx context.Context, id, fulfillment string) error {
	if err := e.assertConnected(); err != nil {
		return err
	}

	rec, ok := e.log.Get(id)
	if !ok {
		return errs.New(errs.KindInvalidFields, "unknown transfer %s", id)
	}
	if !rec.IsIncoming {
		return errs.New(errs.KindNotAccepted, "transfer %s is outgoing; only the receiving side fulfills", id)
	}
	if rec.State == ledger.StateCancelled {
		return errs.New(errs.KindAlreadyRejected, "transfer %s was already cancelled", id)
	}
	if err := validator.ValidateFulfillment(fulfillment); err != nil {
		return err
	}
	if err := checkFulfillmentHash(rec.Transfer.ExecutionCondition, fulfillment); err != nil {
		return err
	}

	changed, err := e.log.Fulfill(id, fulfillment)
	if err != nil {
		return err
	}
	e.scheduler.Cancel(id)
	if changed {
		e.bus.Emit(event.Event{Type: event.IncomingFulfill, TransferID: id, Fulfillment: fulfillment})
	}

	resp, err := e.callPeer(ctx, "fulfill_condition", id, fulfillment)
	if err != nil {
		if !e.tolerateFailure() {
			return err
		}
		e.logger.Warn("fulfill_condition relay failed", "id", id, "err", err)
		return nil
	}

	if hcErr := e.backendImpl.HandleIncomingClaim(ctx, e.pctx, resp.Result); hcErr != nil {
		e.logger.Warn("handleIncomingClaim failed", "id", id, "err", hcErr)
	}
	return nil
}

// RejectIncomingTransfer cancels an incoming prepared transfer this side
// has chosen not to fulfill, notifying the peer.
func (e *Engine) RejectIncomingTransfer(ctx context.Context, id string, reason any) error {
	if err := e.assertConnected(); err != nil {
		return err
	}

	rec, ok := e.log.Get(id)
	if !ok {
		return errs.New(errs.KindInvalidFields, "unknown transfer %s", id)
	}
	if !rec.IsIncoming {
		return errs.New(errs.KindNotAccepted, "transfer %s is outgoing; only the receiving side rejects it", id)
	}

	changed, err := e.log.Cancel(id, reason)
	if err != nil {
		return err
	}
	e.scheduler.Cancel(id)
	if changed {
		e.bus.Emit(event.Event{Type: event.IncomingReject, TransferID: id, Reason: reason})
	}

	if _, err := e.callPeer(ctx, "reject_incoming_transfer", id, reason); err != nil {
		if !e.tolerateFailure() {
			return err
		}
		e.logger.Warn("reject_incoming_transfer relay failed", "id", id, "err", err)
	}
	return nil
}

// GetBalance returns the signed net balance: the stateful side reads its
// own log, the stateless side proxies get_balance and sign-flips the
// peer's report.
func (e *Engine) GetBalance(ctx context.Context) (string, error) {
	if e.stateful {
		return e.log.GetBalance()
	}
	if err := e.assertConnected(); err != nil {
		return "", err
	}
	resp, err := e.callPeer(ctx, "get_balance")
	if err != nil {
		return "", err
	}
	var peerBalance string
	if err := unmarshalResult(resp, &peerBalance); err != nil {
		return "", err
	}
	return decimalnum.Negate(peerBalance)
}

// GetInfo returns this side's ledger-info record; the stateless side
// fetches it from the peer on demand.
func (e *Engine) GetInfo(ctx context.Context) ([]byte, error) {
	if e.stateful {
		return e.backendImpl.GetInfo(e.pctx), nil
	}
	if err := e.assertConnected(); err != nil {
		return nil, err
	}
	resp, err := e.callPeer(ctx, "get_info")
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// SendMessage relays an informational message to the peer.
func (e *Engine) SendMessage(ctx context.Context, msg validator.Message) error {
	if err := e.assertConnected(); err != nil {
		return err
	}
	if err := validator.ValidateMessage(msg, e.addrs); err != nil {
		return err
	}
	e.bus.Emit(event.Event{Type: event.OutgoingMessage, Message: msg.Data})
	if _, err := e.callPeer(ctx, "send_message", msg); err != nil {
		if !e.tolerateFailure() {
			return err
		}
		e.logger.Warn("send_message relay failed", "err", err)
	}
	return nil
}

// SendRequest relays msg to the peer's registered request handler (or its
// default echo-style reply) and returns its response. Unlike SendMessage,
// a request always needs a reply, so its RPC failure is never swallowed.
func (e *Engine) SendRequest(ctx context.Context, msg validator.Message) (validator.Message, error) {
	if err := e.assertConnected(); err != nil {
		return validator.Message{}, err
	}
	if err := validator.ValidateMessage(msg, e.addrs); err != nil {
		return validator.Message{}, err
	}
	e.bus.Emit(event.Event{Type: event.OutgoingRequest, Message: msg.Data})

	resp, err := e.callPeer(ctx, "send_request", msg)
	if err != nil {
		return validator.Message{}, err
	}
	var respMsg validator.Message
	if err := unmarshalResult(resp, &respMsg); err != nil {
		return validator.Message{}, err
	}
	e.bus.Emit(event.Event{Type: event.IncomingResponse, Message: respMsg.Data})
	return respMsg, nil
}
