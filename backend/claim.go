package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coilhq/ilp-plugin-bilateral/maxvaluetracker"
)

// bestClaimKey is the Store/Factory key the ClaimBackend asks for its
// MaxValueTracker under.
const bestClaimKey = "best_incoming_claim"

// claimPayload is what CreateOutgoingClaim reports: the outgoing-fulfilled
// sum at time of claim creation, which the peer's ClaimBackend feeds into
// its own MaxValueTracker via SetIfMax.
type claimPayload struct {
	Value string `json:"value"`
}

// ClaimBackend is the stateful symmetric-mode reference settlement backend:
// it tracks the peer's best-reported claim value with a MaxValueTracker.
type ClaimBackend struct {
	Account     string
	PeerAccount string
	AuthToken   string
	Info        json.RawMessage

	tracker *maxvaluetracker.Tracker
}

var _ Backend = (*ClaimBackend)(nil)

func (b *ClaimBackend) Construct(_ context.Context, pctx *Context, _ Options) error {
	tr, err := pctx.BackendFactory.NewTracker(bestClaimKey)
	if err != nil {
		return fmt.Errorf("backend: constructing best-claim tracker: %w", err)
	}
	b.tracker = tr
	if pctx.State == nil {
		pctx.State = make(map[string]any)
	}
	pctx.State[bestClaimKey] = tr
	return nil
}

func (b *ClaimBackend) Connect(context.Context, *Context) error { return nil }

func (b *ClaimBackend) HandleIncomingPrepare(context.Context, *Context, string, string) error {
	return nil
}

// CreateOutgoingClaim reports the outgoing-fulfilled sum as this side's
// claim.
func (b *ClaimBackend) CreateOutgoingClaim(_ context.Context, _ *Context, outgoingFulfilledSum string) (Claim, error) {
	return json.Marshal(claimPayload{Value: outgoingFulfilledSum})
}

// HandleIncomingClaim feeds the peer's claim into this side's
// MaxValueTracker, which only ever advances toward the larger value.
func (b *ClaimBackend) HandleIncomingClaim(_ context.Context, _ *Context, claim Claim) error {
	if len(claim) == 0 {
		return nil
	}
	var payload claimPayload
	if err := json.Unmarshal(claim, &payload); err != nil {
		return fmt.Errorf("backend: malformed claim: %w", err)
	}
	_, err := b.tracker.SetIfMax(maxvaluetracker.Entry{Value: payload.Value, Data: claim})
	return err
}

func (b *ClaimBackend) GetAuthToken(*Context) string     { return b.AuthToken }
func (b *ClaimBackend) GetAccount(*Context) string       { return b.Account }
func (b *ClaimBackend) GetPeerAccount(*Context) string   { return b.PeerAccount }
func (b *ClaimBackend) GetInfo(*Context) json.RawMessage { return b.Info }

// BestClaim exposes the current best-seen claim value, mostly useful for
// tests and operational introspection.
func (b *ClaimBackend) BestClaim() maxvaluetracker.Entry {
	return b.tracker.GetMax()
}

// Disconnect is where a real claim-based backend would submit the best
// claim on-chain; this reference implementation has no settlement network
// to submit to, so it only returns.
func (b *ClaimBackend) Disconnect(context.Context, *Context) error { return nil }
