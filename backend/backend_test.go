package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coilhq/ilp-plugin-bilateral/backend"
	"github.com/coilhq/ilp-plugin-bilateral/maxvaluetracker"
	"github.com/coilhq/ilp-plugin-bilateral/store"
)

type memFactory struct{ s store.Store }

func (f memFactory) NewTracker(key string) (*maxvaluetracker.Tracker, error) {
	return maxvaluetracker.Load(f.s, key)
}

func TestNoopBackendEveryHookIsANoOp(t *testing.T) {
	b := &backend.NoopBackend{Account: "peer.t.client", AuthToken: "secret"}
	ctx := &backend.Context{}

	require.NoError(t, b.Construct(context.Background(), ctx, nil))
	require.NoError(t, b.Connect(context.Background(), ctx))
	require.NoError(t, b.HandleIncomingPrepare(context.Background(), ctx, "id", "100"))

	claim, err := b.CreateOutgoingClaim(context.Background(), ctx, "100")
	require.NoError(t, err)
	require.Nil(t, claim)

	require.Equal(t, "secret", b.GetAuthToken(ctx))
	require.Equal(t, "peer.t.client", b.GetAccount(ctx))
}

func TestClaimBackendMonotonicity(t *testing.T) {
	// claims 30, 50, 40, 70 arrive out of order -> final max is 70.
	s := store.NewMemStore()
	b := &backend.ClaimBackend{Account: "peer.t.server"}
	ctx := &backend.Context{BackendFactory: memFactory{s: s}}
	require.NoError(t, b.Construct(context.Background(), ctx, nil))

	claim, err := b.CreateOutgoingClaim(context.Background(), ctx, "30")
	require.NoError(t, err)

	peer := &backend.ClaimBackend{}
	peerCtx := &backend.Context{BackendFactory: memFactory{s: store.NewMemStore()}}
	require.NoError(t, peer.Construct(context.Background(), peerCtx, nil))

	for _, v := range []string{"30", "50", "40", "70"} {
		c, err := b.CreateOutgoingClaim(context.Background(), ctx, v)
		require.NoError(t, err)
		require.NoError(t, peer.HandleIncomingClaim(context.Background(), peerCtx, c))
	}
	_ = claim

	require.Equal(t, "70", peer.BestClaim().Value)
}
