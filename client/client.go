// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"encoding/json"

	"github.com/ava-labs/avalanchego/api"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/rpc"

	avajson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/intentguard/intentguard"
)

// Client defines intentguard client operations.
type Client interface {
	// SubmitIntent proposes a call of [target] with [payload] and [value],
	// paying [payment] to cover the value and the verification fee.
	SubmitIntent(ctx context.Context, submitter, target ids.ShortID, payload []byte, value, payment uint64) (*intentguard.SubmitIntentReply, error)

	// SubmitVerdict reports a simulator's assessment of [intentID]. [report]
	// may be nil.
	SubmitVerdict(ctx context.Context, intentID ids.ID, simulator ids.ShortID, isRisky bool, riskScore uint64, report json.RawMessage) (*intentguard.SubmitVerdictReply, error)

	// FlagStateDrift asks the service to re-check the target of [intentID].
	FlagStateDrift(ctx context.Context, caller ids.ShortID, intentID ids.ID) (bool, error)

	// Execute performs an approved intent.
	Execute(ctx context.Context, caller ids.ShortID, intentID ids.ID) (*intentguard.ExecutionResult, error)

	// Cancel withdraws an intent and returns the refunded value.
	Cancel(ctx context.Context, caller ids.ShortID, intentID ids.ID) (uint64, error)

	// GetIntent fetches an intent and the consensus view over it.
	GetIntent(ctx context.Context, intentID ids.ID) (*intentguard.GetIntentReply, error)

	// GetVerdicts fetches the verdicts of an intent's current round.
	GetVerdicts(ctx context.Context, intentID ids.ID) ([]*intentguard.SimulationVerdict, error)

	RegisterSimulator(ctx context.Context, simulator ids.ShortID, stake uint64) (*intentguard.SimulatorReply, error)
	WithdrawStake(ctx context.Context, simulator ids.ShortID) (uint64, error)
	SlashSimulator(ctx context.Context, caller, simulator ids.ShortID, fractionPercent uint64) (uint64, error)
	AllowSimulator(ctx context.Context, caller, simulator ids.ShortID) (*intentguard.SimulatorReply, error)
	GetSimulator(ctx context.Context, simulator ids.ShortID) (*intentguard.SimulatorReply, error)

	GetPools(ctx context.Context) (*intentguard.Pools, error)
	GetBalance(ctx context.Context, owner ids.ShortID) (uint64, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (c *client) SubmitIntent(ctx context.Context, submitter, target ids.ShortID, payload []byte, value, payment uint64) (*intentguard.SubmitIntentReply, error) {
	payloadStr, err := formatting.Encode(formatting.Hex, payload)
	if err != nil {
		return nil, err
	}
	reply := new(intentguard.SubmitIntentReply)
	return reply, c.req.SendRequest(ctx,
		"intentguard.submitIntent",
		&intentguard.SubmitIntentArgs{
			Submitter: submitter,
			Target:    target,
			Payload:   payloadStr,
			Value:     avajson.Uint64(value),
			Payment:   avajson.Uint64(payment),
		},
		reply,
	)
}

func (c *client) SubmitVerdict(ctx context.Context, intentID ids.ID, simulator ids.ShortID, isRisky bool, riskScore uint64, report json.RawMessage) (*intentguard.SubmitVerdictReply, error) {
	reply := new(intentguard.SubmitVerdictReply)
	return reply, c.req.SendRequest(ctx,
		"intentguard.submitVerdict",
		&intentguard.SubmitVerdictArgs{
			IntentID:  intentID,
			Simulator: simulator,
			IsRisky:   isRisky,
			RiskScore: avajson.Uint64(riskScore),
			Report:    report,
		},
		reply,
	)
}

func (c *client) FlagStateDrift(ctx context.Context, caller ids.ShortID, intentID ids.ID) (bool, error) {
	reply := new(intentguard.FlagStateDriftReply)
	err := c.req.SendRequest(ctx,
		"intentguard.flagStateDrift",
		&intentguard.IntentArgs{Caller: caller, IntentID: intentID},
		reply,
	)
	return reply.Reset, err
}

func (c *client) Execute(ctx context.Context, caller ids.ShortID, intentID ids.ID) (*intentguard.ExecutionResult, error) {
	reply := new(intentguard.ExecutionResult)
	return reply, c.req.SendRequest(ctx,
		"intentguard.execute",
		&intentguard.IntentArgs{Caller: caller, IntentID: intentID},
		reply,
	)
}

func (c *client) Cancel(ctx context.Context, caller ids.ShortID, intentID ids.ID) (uint64, error) {
	reply := new(intentguard.CancelReply)
	err := c.req.SendRequest(ctx,
		"intentguard.cancel",
		&intentguard.IntentArgs{Caller: caller, IntentID: intentID},
		reply,
	)
	return uint64(reply.Refund), err
}

func (c *client) GetIntent(ctx context.Context, intentID ids.ID) (*intentguard.GetIntentReply, error) {
	reply := new(intentguard.GetIntentReply)
	return reply, c.req.SendRequest(ctx,
		"intentguard.getIntent",
		&intentguard.GetIntentArgs{IntentID: intentID},
		reply,
	)
}

func (c *client) GetVerdicts(ctx context.Context, intentID ids.ID) ([]*intentguard.SimulationVerdict, error) {
	reply := new(intentguard.GetVerdictsReply)
	err := c.req.SendRequest(ctx,
		"intentguard.getVerdicts",
		&intentguard.GetIntentArgs{IntentID: intentID},
		reply,
	)
	return reply.Verdicts, err
}

func (c *client) RegisterSimulator(ctx context.Context, simulator ids.ShortID, stake uint64) (*intentguard.SimulatorReply, error) {
	reply := new(intentguard.SimulatorReply)
	return reply, c.req.SendRequest(ctx,
		"intentguard.registerSimulator",
		&intentguard.SimulatorArgs{Simulator: simulator, Amount: avajson.Uint64(stake)},
		reply,
	)
}

func (c *client) WithdrawStake(ctx context.Context, simulator ids.ShortID) (uint64, error) {
	reply := new(intentguard.AmountReply)
	err := c.req.SendRequest(ctx,
		"intentguard.withdrawStake",
		&intentguard.SimulatorArgs{Simulator: simulator},
		reply,
	)
	return uint64(reply.Amount), err
}

func (c *client) SlashSimulator(ctx context.Context, caller, simulator ids.ShortID, fractionPercent uint64) (uint64, error) {
	reply := new(intentguard.AmountReply)
	err := c.req.SendRequest(ctx,
		"intentguard.slashSimulator",
		&intentguard.SimulatorArgs{Caller: caller, Simulator: simulator, Amount: avajson.Uint64(fractionPercent)},
		reply,
	)
	return uint64(reply.Amount), err
}

func (c *client) AllowSimulator(ctx context.Context, caller, simulator ids.ShortID) (*intentguard.SimulatorReply, error) {
	reply := new(intentguard.SimulatorReply)
	return reply, c.req.SendRequest(ctx,
		"intentguard.allowSimulator",
		&intentguard.SimulatorArgs{Caller: caller, Simulator: simulator},
		reply,
	)
}

func (c *client) GetSimulator(ctx context.Context, simulator ids.ShortID) (*intentguard.SimulatorReply, error) {
	reply := new(intentguard.SimulatorReply)
	return reply, c.req.SendRequest(ctx,
		"intentguard.getSimulator",
		&intentguard.SimulatorArgs{Simulator: simulator},
		reply,
	)
}

func (c *client) GetPools(ctx context.Context) (*intentguard.Pools, error) {
	reply := new(intentguard.Pools)
	return reply, c.req.SendRequest(ctx,
		"intentguard.getPools",
		struct{}{},
		reply,
	)
}

func (c *client) GetBalance(ctx context.Context, owner ids.ShortID) (uint64, error) {
	reply := new(intentguard.AmountReply)
	err := c.req.SendRequest(ctx,
		"intentguard.getBalance",
		&api.JSONAddress{Address: owner.String()},
		reply,
	)
	return uint64(reply.Amount), err
}
