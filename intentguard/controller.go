// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"

	safemath "github.com/ava-labs/avalanchego/utils/math"
)

var errNoLedger = errors.New("a ledger is required")

// Dependencies are the collaborators a Controller is built from.
type Dependencies struct {
	Ledger Ledger
	// Fingerprinter defaults to a LedgerFingerprinter over Ledger.
	Fingerprinter Fingerprinter
	// Events may be nil, in which case no events are emitted.
	Events *Dispatcher
	// Registerer defaults to a fresh prometheus registry.
	Registerer prometheus.Registerer
	// Log defaults to log15's root logger.
	Log log.Logger
	// Clock defaults to the wall clock. Tests set it to control deadlines.
	Clock *mockable.Clock
}

// SubmitArgs describe a new intent.
type SubmitArgs struct {
	Submitter ids.ShortID
	Target    ids.ShortID
	Payload   []byte
	Value     uint64
	// Payment must cover Value plus the verification fee. Everything above
	// Value is kept as the fee.
	Payment uint64
}

// VerdictArgs describe one simulator verdict.
type VerdictArgs struct {
	IntentID   ids.ID
	Simulator  ids.ShortID
	IsRisky    bool
	RiskScore  uint64
	ResultHash ids.ID
}

// VerdictOutcome reports what accepting a verdict did.
type VerdictOutcome struct {
	Intent *Intent
	Result Result
	Reward uint64
}

// ExecutionResult reports the target call performed by Execute. A failed call
// still consumes the escrowed value and the fee.
type ExecutionResult struct {
	IntentID  ids.ID `json:"intentID"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// Controller drives the intent lifecycle: submission, verdicts, consensus,
// drift resets, execution and cancellation.
type Controller struct {
	cfg Config
	log log.Logger

	// Clock used for deadlines and timestamps
	clock *mockable.Clock

	state         *State
	ledger        Ledger
	fingerprinter Fingerprinter
	incentives    *Incentives
	registry      *Registry
	events        *Dispatcher
	metrics       *Metrics

	intentLocks    *lockTable[ids.ID]
	simulatorLocks *lockTable[ids.ShortID]
	// writeLock serialises commits, which all touch the shared pools.
	writeLock sync.Mutex
}

// NewController returns a controller persisting to [db].
func NewController(cfg Config, db database.Database, deps Dependencies) (*Controller, error) {
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Ledger == nil {
		return nil, errNoLedger
	}
	if deps.Fingerprinter == nil {
		deps.Fingerprinter = &LedgerFingerprinter{Ledger: deps.Ledger}
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Log == nil {
		deps.Log = log.Root()
	}
	if deps.Clock == nil {
		deps.Clock = &mockable.Clock{}
	}
	metrics, err := NewMetrics(deps.Registerer)
	if err != nil {
		return nil, fmt.Errorf("couldn't register metrics: %w", err)
	}

	c := &Controller{
		cfg:            cfg,
		log:            deps.Log.New("module", "intentguard"),
		clock:          deps.Clock,
		state:          NewState(db),
		ledger:         deps.Ledger,
		fingerprinter:  deps.Fingerprinter,
		events:         deps.Events,
		metrics:        metrics,
		intentLocks:    newLockTable[ids.ID](),
		simulatorLocks: newLockTable[ids.ShortID](),
	}
	c.incentives = NewIncentives(&c.cfg)
	c.registry = NewRegistry(&c.cfg, c.incentives)
	return c, nil
}

// Submit creates a Pending intent, captures the target's snapshot and
// escrows the intent's value.
func (c *Controller) Submit(ctx context.Context, args SubmitArgs) (*Intent, error) {
	required, err := safemath.Add64(args.Value, c.cfg.VerificationFee)
	if err != nil || args.Payment < required {
		return nil, fmt.Errorf("%w: paid %d, need %d", ErrInsufficientPayment, args.Payment, required)
	}

	height, err := c.ledger.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't get chain height: %w", err)
	}
	now := c.clock.Time().Unix()
	intentID, err := ComputeIntentID(args.Submitter, args.Target, args.Payload, now, height)
	if err != nil {
		return nil, err
	}

	unlock := c.intentLocks.Lock(intentID)
	defer unlock()

	snapshot, err := c.fingerprinter.Fingerprint(ctx, args.Target)
	if err != nil {
		return nil, err
	}

	intent := &Intent{
		ID:        intentID,
		Submitter: args.Submitter,
		Target:    args.Target,
		Payload:   args.Payload,
		Value:     args.Value,
		Fee:       args.Payment - args.Value,
		CreatedAt: now,
		Deadline:  now + int64(c.cfg.IntentWindow.Seconds()),
		Height:    height,
		Snapshot:  snapshot,
		Status:    Pending,
	}
	err = c.update(func(tx Tx) error {
		exists, err := tx.HasIntent(intentID)
		switch {
		case err != nil:
			return err
		case exists:
			return fmt.Errorf("%w: %s", ErrDuplicateIntent, intentID)
		}
		if err := tx.PutIntent(intent); err != nil {
			return err
		}
		return c.incentives.Deposit(tx, intent.Value, intent.Fee)
	})
	if err != nil {
		return nil, err
	}

	c.metrics.status(Pending)
	c.log.Info("intent submitted", "intentID", intentID, "submitter", args.Submitter, "target", args.Target, "value", args.Value)
	c.emit(Event{
		Kind:      IntentSubmitted,
		IntentID:  intentID,
		Account:   intent.Submitter,
		Status:    intent.Status.String(),
		Value:     intent.Value,
		Amount:    intent.Fee,
		Snapshot:  snapshot,
		Timestamp: now,
	})
	return intent, nil
}

// SubmitVerdict records a simulator's verdict, pays its reward and resolves
// the intent once the consensus policy is satisfied. Appending the verdict
// and resolving happen in one unit of work under the intent's lock.
func (c *Controller) SubmitVerdict(_ context.Context, args VerdictArgs) (*VerdictOutcome, error) {
	if args.RiskScore > MaxRiskScore {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRiskScore, args.RiskScore)
	}

	unlockIntent := c.intentLocks.Lock(args.IntentID)
	defer unlockIntent()
	unlockSimulator := c.simulatorLocks.Lock(args.Simulator)
	defer unlockSimulator()

	now := c.clock.Time()
	outcome := &VerdictOutcome{}
	err := c.update(func(tx Tx) error {
		intent, err := tx.GetIntent(args.IntentID)
		switch {
		case err != nil:
			return err
		case intent.Status != Pending:
			return fmt.Errorf("%w: intent %s is %s", ErrWrongStatus, intent.ID, intent.Status)
		case intent.Expired(now):
			return fmt.Errorf("%w: %s", ErrIntentExpired, intent.ID)
		}

		account, err := tx.GetSimulator(args.Simulator)
		switch {
		case errors.Is(err, ErrSimulatorUnknown):
			return fmt.Errorf("%w: %s is not a registered simulator", ErrNotAuthorized, args.Simulator)
		case err != nil:
			return err
		case !account.Eligible(&c.cfg):
			return fmt.Errorf("%w: simulator %s is not eligible", ErrNotAuthorized, args.Simulator)
		}

		submitted, err := tx.HasVerdict(intent.ID, args.Simulator)
		switch {
		case err != nil:
			return err
		case submitted:
			return fmt.Errorf("%w: %s on %s", ErrAlreadySubmitted, args.Simulator, intent.ID)
		}

		verdict := &SimulationVerdict{
			IntentID:    intent.ID,
			Simulator:   args.Simulator,
			IsRisky:     args.IsRisky,
			RiskScore:   args.RiskScore,
			ResultHash:  args.ResultHash,
			SubmittedAt: now.Unix(),
			Round:       intent.Round,
		}
		if err := tx.PutVerdict(verdict); err != nil {
			return err
		}
		if outcome.Reward, err = c.incentives.PayReward(tx, args.Simulator); err != nil {
			return err
		}
		if err := c.registry.RecordGoodVerdict(tx, account); err != nil {
			return err
		}

		verdicts, err := tx.GetVerdicts(intent.ID)
		if err != nil {
			return err
		}
		eligible, err := c.registry.Eligibility(tx, verdicts)
		if err != nil {
			return err
		}
		outcome.Result = c.cfg.Consensus.Evaluate(verdicts, eligible)
		outcome.Intent = intent
		if !outcome.Result.HasConsensus {
			return nil
		}
		return c.resolve(tx, intent, verdicts, eligible, outcome.Result)
	})
	if err != nil {
		return nil, err
	}

	intent := outcome.Intent
	c.metrics.verdicts.Inc()
	c.log.Debug("verdict accepted",
		"intentID", intent.ID,
		"simulator", args.Simulator,
		"isRisky", args.IsRisky,
		"riskScore", args.RiskScore,
		"counted", outcome.Result.Counted,
	)
	c.emit(Event{
		Kind:      VerdictSubmitted,
		IntentID:  intent.ID,
		Simulator: args.Simulator,
		IsRisky:   args.IsRisky,
		RiskScore: args.RiskScore,
		Amount:    outcome.Reward,
		Round:     intent.Round,
		Timestamp: now.Unix(),
	})

	if outcome.Result.HasConsensus {
		c.metrics.status(intent.Status)
		kind := IntentApproved
		if intent.Status == Blocked {
			kind = IntentBlocked
		}
		c.log.Info("intent resolved", "intentID", intent.ID, "status", intent.Status, "avgRiskScore", outcome.Result.AvgRiskScore, "risky", outcome.Result.Risky)
		event := Event{
			Kind:         kind,
			IntentID:     intent.ID,
			Status:       intent.Status.String(),
			AvgRiskScore: outcome.Result.AvgRiskScore,
			Round:        intent.Round,
			Timestamp:    now.Unix(),
		}
		if intent.Status == Blocked {
			event.Account = intent.Submitter
			event.Value = intent.Value
		}
		c.emit(event)
	}
	return outcome, nil
}

// resolve moves [intent] to Approved or Blocked according to [result] and
// applies the dissent penalty to counted simulators that disagreed.
func (c *Controller) resolve(tx Tx, intent *Intent, verdicts []*SimulationVerdict, eligible func(ids.ShortID) bool, result Result) error {
	intent.AvgRiskScore = result.AvgRiskScore
	if result.IsSafe {
		if err := tx.TransitionIntent(intent, Approved); err != nil {
			return err
		}
	} else {
		if err := tx.TransitionIntent(intent, Blocked); err != nil {
			return err
		}
		if err := c.incentives.Refund(tx, intent); err != nil {
			return err
		}
	}

	for _, verdict := range verdicts {
		if !eligible(verdict.Simulator) {
			continue
		}
		saidSafe := !verdict.IsRisky && verdict.RiskScore < c.cfg.Consensus.ScoreThreshold
		if saidSafe == result.IsSafe {
			continue
		}
		if err := c.registry.Penalize(tx, verdict.Simulator); err != nil {
			return err
		}
	}
	return nil
}

// FlagStateDrift re-fingerprints the intent's target and, if it changed since
// the snapshot, clears the verdicts, stores the new snapshot and reopens the
// intent as Pending. It reports whether a reset happened.
func (c *Controller) FlagStateDrift(ctx context.Context, caller ids.ShortID, intentID ids.ID) (bool, error) {
	if !c.cfg.isMonitor(caller) {
		return false, fmt.Errorf("%w: %s is not a monitor", ErrNotAuthorized, caller)
	}

	unlock := c.intentLocks.Lock(intentID)
	defer unlock()

	intent, err := c.state.View().GetIntent(intentID)
	if err != nil {
		return false, err
	}
	now := c.clock.Time()
	switch {
	case intent.Status != Pending && intent.Status != Approved:
		return false, fmt.Errorf("%w: intent %s is %s", ErrWrongStatus, intent.ID, intent.Status)
	case intent.Expired(now):
		return false, fmt.Errorf("%w: %s", ErrIntentExpired, intent.ID)
	}

	fingerprint, err := c.fingerprinter.Fingerprint(ctx, intent.Target)
	if err != nil {
		return false, err
	}
	if fingerprint == intent.Snapshot {
		return false, nil
	}

	var cleared int
	previous := intent.Status
	err = c.update(func(tx Tx) error {
		if cleared, err = tx.ClearVerdicts(intent.ID); err != nil {
			return err
		}
		intent.Snapshot = fingerprint
		intent.Round++
		intent.AvgRiskScore = 0
		return tx.TransitionIntent(intent, Pending)
	})
	if err != nil {
		return false, err
	}

	c.metrics.driftResets.Inc()
	c.log.Warn("state drift detected", "intentID", intent.ID, "target", intent.Target, "previousStatus", previous, "clearedVerdicts", cleared, "round", intent.Round)
	c.emit(Event{
		Kind:      StateDriftDetected,
		IntentID:  intent.ID,
		Account:   caller,
		Status:    intent.Status.String(),
		Snapshot:  fingerprint,
		Round:     intent.Round,
		Timestamp: now.Unix(),
	})
	return true, nil
}

// Execute performs an approved intent. The Executed status is committed and
// the intent lock released before the target call, so a reentrant Execute
// observes Executed. A failed target call is recorded, not returned as an
// error.
func (c *Controller) Execute(ctx context.Context, caller ids.ShortID, intentID ids.ID) (*ExecutionResult, error) {
	unlock := c.intentLocks.Lock(intentID)
	intent, err := c.markExecuted(ctx, caller, intentID)
	unlock()
	if err != nil {
		return nil, err
	}

	callErr := c.ledger.Invoke(ctx, intent.Target, intent.Payload, intent.Value)
	result := &ExecutionResult{
		IntentID:  intent.ID,
		Succeeded: callErr == nil,
	}
	if callErr != nil {
		result.Error = callErr.Error()
	}

	unlock = c.intentLocks.Lock(intentID)
	defer unlock()
	err = c.update(func(tx Tx) error {
		intent, err := tx.GetIntent(intentID)
		if err != nil {
			return err
		}
		intent.ExecutionSucceeded = result.Succeeded
		intent.ExecutionError = result.Error
		return tx.PutIntent(intent)
	})
	if err != nil {
		return result, fmt.Errorf("couldn't record execution outcome of %s: %w", intentID, err)
	}

	c.metrics.status(Executed)
	if callErr != nil {
		c.metrics.executionFailure.Inc()
		c.log.Warn("intent executed but target call failed; escrowed value and fee are consumed",
			"intentID", intent.ID,
			"submitter", intent.Submitter,
			"target", intent.Target,
			"value", intent.Value,
			"err", callErr,
		)
	} else {
		c.log.Info("intent executed", "intentID", intent.ID, "target", intent.Target)
	}
	c.emit(Event{
		Kind:      IntentExecuted,
		IntentID:  intent.ID,
		Account:   intent.Submitter,
		Status:    Executed.String(),
		Value:     intent.Value,
		Succeeded: result.Succeeded,
		Error:     result.Error,
		Timestamp: intent.ExecutedAt,
	})
	return result, nil
}

func (c *Controller) markExecuted(ctx context.Context, caller ids.ShortID, intentID ids.ID) (*Intent, error) {
	intent, err := c.state.View().GetIntent(intentID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Time()
	switch {
	case intent.Status != Approved:
		return nil, fmt.Errorf("%w: intent %s is %s", ErrWrongStatus, intent.ID, intent.Status)
	case caller != intent.Submitter && !c.cfg.OpenExecution:
		return nil, fmt.Errorf("%w: only the submitter may execute %s", ErrNotAuthorized, intent.ID)
	case intent.Expired(now):
		return nil, fmt.Errorf("%w: %s", ErrIntentExpired, intent.ID)
	}

	fingerprint, err := c.fingerprinter.Fingerprint(ctx, intent.Target)
	if err != nil {
		return nil, err
	}
	if fingerprint != intent.Snapshot {
		return nil, fmt.Errorf("%w: intent %s", ErrStateChanged, intent.ID)
	}

	err = c.update(func(tx Tx) error {
		intent.ExecutedAt = now.Unix()
		if err := tx.TransitionIntent(intent, Executed); err != nil {
			return err
		}
		return c.incentives.Release(tx, intent)
	})
	return intent, err
}

// Cancel withdraws a Pending or Approved intent and refunds its value to the
// submitter. The fee is not refunded.
func (c *Controller) Cancel(_ context.Context, caller ids.ShortID, intentID ids.ID) (*Intent, error) {
	unlock := c.intentLocks.Lock(intentID)
	defer unlock()

	var intent *Intent
	err := c.update(func(tx Tx) error {
		var err error
		if intent, err = tx.GetIntent(intentID); err != nil {
			return err
		}
		if caller != intent.Submitter {
			return fmt.Errorf("%w: only the submitter may cancel %s", ErrNotAuthorized, intent.ID)
		}
		if err := tx.TransitionIntent(intent, Cancelled); err != nil {
			return err
		}
		return c.incentives.Refund(tx, intent)
	})
	if err != nil {
		return nil, err
	}

	c.metrics.status(Cancelled)
	c.log.Info("intent cancelled", "intentID", intent.ID, "refund", intent.Value)
	c.emit(Event{
		Kind:      IntentCancelled,
		IntentID:  intent.ID,
		Account:   intent.Submitter,
		Status:    intent.Status.String(),
		Value:     intent.Value,
		Timestamp: c.clock.Time().Unix(),
	})
	return intent, nil
}

// RegisterSimulator stakes [stake] for [identity].
func (c *Controller) RegisterSimulator(_ context.Context, identity ids.ShortID, stake uint64) (*SimulatorAccount, error) {
	unlock := c.simulatorLocks.Lock(identity)
	defer unlock()

	now := c.clock.Time().Unix()
	var account *SimulatorAccount
	err := c.update(func(tx Tx) error {
		var err error
		account, err = c.registry.Register(tx, identity, stake, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("simulator registered", "simulator", identity, "stake", stake)
	c.emit(Event{
		Kind:      SimulatorRegistered,
		Simulator: identity,
		Amount:    stake,
		Timestamp: now,
	})
	return account, nil
}

// WithdrawStake returns the stake of [identity] to its claimable balance.
func (c *Controller) WithdrawStake(_ context.Context, identity ids.ShortID) (uint64, error) {
	unlock := c.simulatorLocks.Lock(identity)
	defer unlock()

	var stake uint64
	err := c.update(func(tx Tx) error {
		var err error
		stake, err = c.registry.Withdraw(tx, identity)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.log.Info("simulator withdrew stake", "simulator", identity, "stake", stake)
	c.emit(Event{
		Kind:      SimulatorWithdrawn,
		Simulator: identity,
		Amount:    stake,
		Timestamp: c.clock.Time().Unix(),
	})
	return stake, nil
}

// SlashSimulator seizes [fractionPercent] percent of the stake of a simulator
// whose reputation fell below the penalty threshold.
func (c *Controller) SlashSimulator(_ context.Context, caller ids.ShortID, identity ids.ShortID, fractionPercent uint64) (uint64, error) {
	if len(c.cfg.Admins) > 0 && !c.cfg.isAdmin(caller) {
		return 0, fmt.Errorf("%w: %s is not an admin", ErrNotAuthorized, caller)
	}

	unlock := c.simulatorLocks.Lock(identity)
	defer unlock()

	var amount uint64
	err := c.update(func(tx Tx) error {
		var err error
		amount, err = c.registry.Slash(tx, identity, fractionPercent)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.metrics.slashed.Add(float64(amount))
	c.log.Warn("simulator slashed", "simulator", identity, "amount", amount, "by", caller)
	c.emit(Event{
		Kind:      SimulatorSlashed,
		Simulator: identity,
		Account:   caller,
		Amount:    amount,
		Timestamp: c.clock.Time().Unix(),
	})
	return amount, nil
}

// AllowSimulator allow-lists [identity]. Only configured admins may do so.
func (c *Controller) AllowSimulator(_ context.Context, caller ids.ShortID, identity ids.ShortID) (*SimulatorAccount, error) {
	if !c.cfg.isAdmin(caller) {
		return nil, fmt.Errorf("%w: %s is not an admin", ErrNotAuthorized, caller)
	}

	unlock := c.simulatorLocks.Lock(identity)
	defer unlock()

	var account *SimulatorAccount
	err := c.update(func(tx Tx) error {
		var err error
		account, err = c.registry.Allow(tx, identity, c.clock.Time().Unix())
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("simulator allow-listed", "simulator", identity, "by", caller)
	return account, nil
}

// GetIntent returns the committed intent [intentID].
func (c *Controller) GetIntent(intentID ids.ID) (*Intent, error) {
	return c.state.View().GetIntent(intentID)
}

// GetVerdicts returns the verdicts of the intent's current round.
func (c *Controller) GetVerdicts(intentID ids.ID) ([]*SimulationVerdict, error) {
	view := c.state.View()
	if _, err := view.GetIntent(intentID); err != nil {
		return nil, err
	}
	return view.GetVerdicts(intentID)
}

// Evaluate returns the consensus view over the intent's current verdicts
// without changing anything.
func (c *Controller) Evaluate(intentID ids.ID) (Result, error) {
	view := c.state.View()
	verdicts, err := view.GetVerdicts(intentID)
	if err != nil {
		return Result{}, err
	}
	eligible, err := c.registry.Eligibility(view, verdicts)
	if err != nil {
		return Result{}, err
	}
	return c.cfg.Consensus.Evaluate(verdicts, eligible), nil
}

func (c *Controller) GetSimulator(identity ids.ShortID) (*SimulatorAccount, error) {
	return c.state.View().GetSimulator(identity)
}

func (c *Controller) GetPools() (*Pools, error) {
	return c.state.View().GetPools()
}

func (c *Controller) GetBalance(owner ids.ShortID) (uint64, error) {
	return c.state.View().GetBalance(owner)
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) update(fn func(Tx) error) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.state.Update(fn)
}

func (c *Controller) emit(event Event) {
	if c.events != nil {
		c.events.Emit(event)
	}
}
