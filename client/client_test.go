// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/intentguard/intentguard"
	"github.com/ava-labs/intentguard/memledger"
)

func newTestServer(t *testing.T) (Client, *memledger.Ledger) {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())

	ledger := memledger.New()
	controller, err := intentguard.NewController(intentguard.DefaultConfig(), memdb.New(), intentguard.Dependencies{
		Ledger: ledger,
		Log:    logger,
	})
	require.NoError(t, err)
	handler, err := intentguard.NewHandler(intentguard.NewService(controller, 0, 0))
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL), ledger
}

func TestClientRoundTrip(t *testing.T) {
	require := require.New(t)
	c, ledger := newTestServer(t)
	ctx := context.Background()
	cfg := intentguard.DefaultConfig()

	submitter := ids.ShortID{1}
	target := ids.ShortID{2}
	simulators := []ids.ShortID{{3}, {4}}

	for _, simulator := range simulators {
		reply, err := c.RegisterSimulator(ctx, simulator, cfg.MinStake)
		require.NoError(err)
		require.True(reply.Eligible)
	}

	submitted, err := c.SubmitIntent(ctx, submitter, target, []byte{0xca, 0xfe}, 3, 3+cfg.VerificationFee)
	require.NoError(err)
	require.Equal(intentguard.Pending, submitted.Status)

	_, err = c.SubmitIntent(ctx, submitter, target, nil, 3, 3)
	require.Error(err)

	for _, simulator := range simulators {
		_, err := c.SubmitVerdict(ctx, submitted.IntentID, simulator, false, 10, json.RawMessage(`{"ok":true}`))
		require.NoError(err)
	}

	intent, err := c.GetIntent(ctx, submitted.IntentID)
	require.NoError(err)
	require.Equal(intentguard.Approved, intent.Intent.Status)
	require.Equal([]byte{0xca, 0xfe}, intent.Intent.Payload)

	verdicts, err := c.GetVerdicts(ctx, submitted.IntentID)
	require.NoError(err)
	require.Len(verdicts, 2)
	require.Equal(verdicts[0].ResultHash, verdicts[1].ResultHash)

	ledger.SetState(target, intentguard.TargetState{Nonce: 5})
	reset, err := c.FlagStateDrift(ctx, submitter, submitted.IntentID)
	require.NoError(err)
	require.True(reset)

	refund, err := c.Cancel(ctx, submitter, submitted.IntentID)
	require.NoError(err)
	require.Equal(uint64(3), refund)

	balance, err := c.GetBalance(ctx, submitter)
	require.NoError(err)
	require.Equal(uint64(3), balance)

	pools, err := c.GetPools(ctx)
	require.NoError(err)
	require.Equal(uint64(2), pools.ActiveSimulators)
	require.Zero(pools.Escrow)

	account, err := c.GetSimulator(ctx, simulators[0])
	require.NoError(err)
	require.Equal(uint64(1), account.Account.Verdicts)

	stake, err := c.WithdrawStake(ctx, simulators[0])
	require.NoError(err)
	require.Equal(cfg.MinStake, stake)

	_, err = c.AllowSimulator(ctx, submitter, simulators[0])
	require.Error(err)
}
