// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/rpc/v2"
	"golang.org/x/time/rate"

	"github.com/ava-labs/avalanchego/api"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/version"

	avajson "github.com/ava-labs/avalanchego/utils/json"
)

// Name is the name the service is registered under.
const Name = "intentguard"

// Version of the protocol service
var Version = &version.Semantic{
	Major: 1,
	Minor: 0,
	Patch: 0,
}

var errRateLimited = errors.New("verdict rate limit exceeded")

// Service is the JSON-RPC API of the protocol. Every mutating call names the
// acting identity; authenticating that identity is left to the transport.
type Service struct {
	controller *Controller
	limiter    *verdictLimiter
}

// NewService returns a service over [controller] allowing each simulator
// [verdictRate] verdicts per second with bursts of [burst]. A zero rate
// disables the limit.
func NewService(controller *Controller, verdictRate rate.Limit, burst int) *Service {
	s := &Service{controller: controller}
	if verdictRate > 0 {
		s.limiter = newVerdictLimiter(verdictRate, burst)
	}
	return s
}

// NewHandler returns an HTTP handler serving [service] over JSON-RPC.
func NewHandler(service *Service) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(avajson.NewCodec(), "application/json")
	server.RegisterCodec(avajson.NewCodec(), "application/json;charset=UTF-8")
	return server, server.RegisterService(service, Name)
}

// SubmitIntentArgs are the arguments to SubmitIntent
type SubmitIntentArgs struct {
	Submitter ids.ShortID `json:"submitter"`
	Target    ids.ShortID `json:"target"`
	// Payload is hex encoded
	Payload string         `json:"payload"`
	Value   avajson.Uint64 `json:"value"`
	Payment avajson.Uint64 `json:"payment"`
}

// SubmitIntentReply is the reply from SubmitIntent
type SubmitIntentReply struct {
	IntentID ids.ID         `json:"intentID"`
	Snapshot ids.ID         `json:"snapshot"`
	Deadline avajson.Uint64 `json:"deadline"`
	Status   Status         `json:"status"`
}

// SubmitIntent creates a new Pending intent.
func (s *Service) SubmitIntent(r *http.Request, args *SubmitIntentArgs, reply *SubmitIntentReply) error {
	payload, err := decodePayload(args.Payload)
	if err != nil {
		return err
	}
	intent, err := s.controller.Submit(requestContext(r), SubmitArgs{
		Submitter: args.Submitter,
		Target:    args.Target,
		Payload:   payload,
		Value:     uint64(args.Value),
		Payment:   uint64(args.Payment),
	})
	if err != nil {
		return err
	}
	reply.IntentID = intent.ID
	reply.Snapshot = intent.Snapshot
	reply.Deadline = avajson.Uint64(intent.Deadline)
	reply.Status = intent.Status
	return nil
}

// SubmitVerdictArgs are the arguments to SubmitVerdict
type SubmitVerdictArgs struct {
	IntentID  ids.ID         `json:"intentID"`
	Simulator ids.ShortID    `json:"simulator"`
	IsRisky   bool           `json:"isRisky"`
	RiskScore avajson.Uint64 `json:"riskScore"`
	// Report is the simulator's analysis output. When present its canonical
	// hash is recorded with the verdict.
	Report json.RawMessage `json:"report,omitempty"`
}

// SubmitVerdictReply is the reply from SubmitVerdict
type SubmitVerdictReply struct {
	Status       Status         `json:"status"`
	HasConsensus bool           `json:"hasConsensus"`
	IsSafe       bool           `json:"isSafe"`
	AvgRiskScore avajson.Uint64 `json:"avgRiskScore"`
	ResultHash   ids.ID         `json:"resultHash"`
	Reward       avajson.Uint64 `json:"reward"`
}

// SubmitVerdict records a simulator's verdict on an intent.
func (s *Service) SubmitVerdict(r *http.Request, args *SubmitVerdictArgs, reply *SubmitVerdictReply) error {
	if s.limiter != nil && !s.limiter.allow(args.Simulator) {
		return fmt.Errorf("%w: %s", errRateLimited, args.Simulator)
	}

	var resultHash ids.ID
	if len(args.Report) > 0 {
		var err error
		if resultHash, err = ComputeResultHash(args.Report); err != nil {
			return err
		}
	}
	outcome, err := s.controller.SubmitVerdict(requestContext(r), VerdictArgs{
		IntentID:   args.IntentID,
		Simulator:  args.Simulator,
		IsRisky:    args.IsRisky,
		RiskScore:  uint64(args.RiskScore),
		ResultHash: resultHash,
	})
	if err != nil {
		return err
	}
	reply.Status = outcome.Intent.Status
	reply.HasConsensus = outcome.Result.HasConsensus
	reply.IsSafe = outcome.Result.IsSafe
	reply.AvgRiskScore = avajson.Uint64(outcome.Result.AvgRiskScore)
	reply.ResultHash = resultHash
	reply.Reward = avajson.Uint64(outcome.Reward)
	return nil
}

// IntentArgs identify an intent and the identity acting on it.
type IntentArgs struct {
	Caller   ids.ShortID `json:"caller"`
	IntentID ids.ID      `json:"intentID"`
}

// FlagStateDriftReply is the reply from FlagStateDrift
type FlagStateDriftReply struct {
	Reset  bool   `json:"reset"`
	Status Status `json:"status"`
}

// FlagStateDrift asks the protocol to re-check an intent's target.
func (s *Service) FlagStateDrift(r *http.Request, args *IntentArgs, reply *FlagStateDriftReply) error {
	reset, err := s.controller.FlagStateDrift(requestContext(r), args.Caller, args.IntentID)
	if err != nil {
		return err
	}
	intent, err := s.controller.GetIntent(args.IntentID)
	if err != nil {
		return err
	}
	reply.Reset = reset
	reply.Status = intent.Status
	return nil
}

// Execute performs an approved intent. The reply reports whether the target
// call itself succeeded.
func (s *Service) Execute(r *http.Request, args *IntentArgs, reply *ExecutionResult) error {
	result, err := s.controller.Execute(requestContext(r), args.Caller, args.IntentID)
	if result != nil {
		*reply = *result
	}
	return err
}

// CancelReply is the reply from Cancel
type CancelReply struct {
	Status Status         `json:"status"`
	Refund avajson.Uint64 `json:"refund"`
}

// Cancel withdraws an intent and refunds its value.
func (s *Service) Cancel(r *http.Request, args *IntentArgs, reply *CancelReply) error {
	intent, err := s.controller.Cancel(requestContext(r), args.Caller, args.IntentID)
	if err != nil {
		return err
	}
	reply.Status = intent.Status
	reply.Refund = avajson.Uint64(intent.Value)
	return nil
}

// GetIntentArgs are the arguments to GetIntent and GetVerdicts
type GetIntentArgs struct {
	IntentID ids.ID `json:"intentID"`
}

// GetIntentReply is the reply from GetIntent
type GetIntentReply struct {
	Intent    *Intent `json:"intent"`
	Payload   string  `json:"payloadHex"`
	Consensus Result  `json:"consensus"`
}

// GetIntent returns an intent and the current consensus view over it.
func (s *Service) GetIntent(_ *http.Request, args *GetIntentArgs, reply *GetIntentReply) error {
	intent, err := s.controller.GetIntent(args.IntentID)
	if err != nil {
		return err
	}
	result, err := s.controller.Evaluate(args.IntentID)
	if err != nil {
		return err
	}
	payload, err := formatting.Encode(formatting.Hex, intent.Payload)
	if err != nil {
		return fmt.Errorf("couldn't encode payload: %w", err)
	}
	reply.Intent = intent
	reply.Payload = payload
	reply.Consensus = result
	return nil
}

// GetVerdictsReply is the reply from GetVerdicts
type GetVerdictsReply struct {
	Verdicts []*SimulationVerdict `json:"verdicts"`
}

// GetVerdicts returns the verdicts of an intent's current round.
func (s *Service) GetVerdicts(_ *http.Request, args *GetIntentArgs, reply *GetVerdictsReply) error {
	verdicts, err := s.controller.GetVerdicts(args.IntentID)
	if err != nil {
		return err
	}
	reply.Verdicts = verdicts
	return nil
}

// SimulatorArgs identify a simulator and the identity acting on it.
type SimulatorArgs struct {
	Caller    ids.ShortID    `json:"caller"`
	Simulator ids.ShortID    `json:"simulator"`
	Amount    avajson.Uint64 `json:"amount"`
}

// SimulatorReply describes a registry account.
type SimulatorReply struct {
	Account  *SimulatorAccount `json:"account"`
	Eligible bool              `json:"eligible"`
}

// AmountReply carries an amount moved by a call.
type AmountReply struct {
	Amount avajson.Uint64 `json:"amount"`
}

// RegisterSimulator stakes [args.Amount] for [args.Simulator].
func (s *Service) RegisterSimulator(r *http.Request, args *SimulatorArgs, reply *SimulatorReply) error {
	account, err := s.controller.RegisterSimulator(requestContext(r), args.Simulator, uint64(args.Amount))
	if err != nil {
		return err
	}
	s.fillSimulator(account, reply)
	return nil
}

// WithdrawStake returns a simulator's stake to its claimable balance.
func (s *Service) WithdrawStake(r *http.Request, args *SimulatorArgs, reply *AmountReply) error {
	stake, err := s.controller.WithdrawStake(requestContext(r), args.Simulator)
	reply.Amount = avajson.Uint64(stake)
	return err
}

// SlashSimulator seizes [args.Amount] percent of a simulator's stake.
func (s *Service) SlashSimulator(r *http.Request, args *SimulatorArgs, reply *AmountReply) error {
	amount, err := s.controller.SlashSimulator(requestContext(r), args.Caller, args.Simulator, uint64(args.Amount))
	reply.Amount = avajson.Uint64(amount)
	return err
}

// AllowSimulator allow-lists a simulator.
func (s *Service) AllowSimulator(r *http.Request, args *SimulatorArgs, reply *SimulatorReply) error {
	account, err := s.controller.AllowSimulator(requestContext(r), args.Caller, args.Simulator)
	if err != nil {
		return err
	}
	s.fillSimulator(account, reply)
	return nil
}

// GetSimulator returns a simulator's registry account.
func (s *Service) GetSimulator(_ *http.Request, args *SimulatorArgs, reply *SimulatorReply) error {
	account, err := s.controller.GetSimulator(args.Simulator)
	if err != nil {
		return err
	}
	s.fillSimulator(account, reply)
	return nil
}

// GetPools returns the protocol pools.
func (s *Service) GetPools(_ *http.Request, _ *struct{}, reply *Pools) error {
	pools, err := s.controller.GetPools()
	if err != nil {
		return err
	}
	*reply = *pools
	return nil
}

// GetBalance returns the claimable balance of [args.Address].
func (s *Service) GetBalance(_ *http.Request, args *api.JSONAddress, reply *AmountReply) error {
	owner, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("couldn't parse address %q: %w", args.Address, err)
	}
	balance, err := s.controller.GetBalance(owner)
	reply.Amount = avajson.Uint64(balance)
	return err
}

func (s *Service) fillSimulator(account *SimulatorAccount, reply *SimulatorReply) {
	cfg := s.controller.Config()
	reply.Account = account
	reply.Eligible = account.Eligible(&cfg)
}

func decodePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, nil
	}
	bytes, err := formatting.Decode(formatting.Hex, payload)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode payload: %w", err)
	}
	return bytes, nil
}

// verdictLimiter keeps one token bucket per simulator.
type verdictLimiter struct {
	lock     sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[ids.ShortID]*rate.Limiter
}

func newVerdictLimiter(limit rate.Limit, burst int) *verdictLimiter {
	if burst < 1 {
		burst = 1
	}
	return &verdictLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[ids.ShortID]*rate.Limiter),
	}
}

func (l *verdictLimiter) allow(simulator ids.ShortID) bool {
	l.lock.Lock()
	limiter, ok := l.limiters[simulator]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[simulator] = limiter
	}
	l.lock.Unlock()
	return limiter.Allow()
}

func requestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}
