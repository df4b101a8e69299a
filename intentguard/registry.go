// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	safemath "github.com/ava-labs/avalanchego/utils/math"
)

// Registry tracks which identities may submit verdicts, their stake and
// their reputation. All methods run inside a caller's unit of work.
type Registry struct {
	cfg        *Config
	incentives *Incentives
}

func NewRegistry(cfg *Config, incentives *Incentives) *Registry {
	return &Registry{
		cfg:        cfg,
		incentives: incentives,
	}
}

// Register stakes [stake] for [identity]. An identity that previously
// withdrew keeps its reputation. An identity whose stake was slashed below
// MinStake registers again by topping it up.
func (r *Registry) Register(tx Tx, identity ids.ShortID, stake uint64, now int64) (*SimulatorAccount, error) {
	if stake == 0 {
		return nil, fmt.Errorf("%w: 0 < %d", ErrInsufficientStake, r.cfg.MinStake)
	}

	account, err := tx.GetSimulator(identity)
	switch {
	case errors.Is(err, ErrSimulatorUnknown):
		account = &SimulatorAccount{
			Identity:     identity,
			Reputation:   r.cfg.Reputation.Baseline,
			RegisteredAt: now,
		}
	case err != nil:
		return nil, err
	case r.active(account):
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, identity)
	}

	total, err := safemath.Add64(account.Stake, stake)
	if err != nil {
		return nil, err
	}
	if total < r.cfg.MinStake {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientStake, total, r.cfg.MinStake)
	}

	account.Stake = total
	if err := tx.PutSimulator(account); err != nil {
		return nil, err
	}
	return account, r.incentives.AdjustActive(tx, 1)
}

// Withdraw returns the whole stake of [identity] to its claimable balance.
func (r *Registry) Withdraw(tx Tx, identity ids.ShortID) (uint64, error) {
	account, err := tx.GetSimulator(identity)
	switch {
	case errors.Is(err, ErrSimulatorUnknown):
		return 0, fmt.Errorf("%w: %s", ErrNoStake, identity)
	case err != nil:
		return 0, err
	case account.Stake == 0:
		return 0, fmt.Errorf("%w: %s", ErrNoStake, identity)
	case account.Reputation < r.cfg.Reputation.WithdrawFloor:
		return 0, fmt.Errorf("%w: %d < %d", ErrReputationTooLow, account.Reputation, r.cfg.Reputation.WithdrawFloor)
	}

	wasActive := r.active(account)
	stake := account.Stake
	account.Stake = 0
	if err := tx.PutSimulator(account); err != nil {
		return 0, err
	}
	if err := r.incentives.Credit(tx, identity, stake); err != nil {
		return 0, err
	}
	if !wasActive {
		return stake, nil
	}
	return stake, r.incentives.AdjustActive(tx, -1)
}

// Slash moves [fractionPercent] percent of the stake of [identity] into the
// insurance pool. Only simulators below the penalty threshold can be slashed.
func (r *Registry) Slash(tx Tx, identity ids.ShortID, fractionPercent uint64) (uint64, error) {
	if fractionPercent == 0 || fractionPercent > 100 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidFraction, fractionPercent)
	}

	account, err := tx.GetSimulator(identity)
	switch {
	case errors.Is(err, ErrSimulatorUnknown):
		return 0, fmt.Errorf("%w: %s", ErrNoStake, identity)
	case err != nil:
		return 0, err
	case account.Reputation >= r.cfg.Reputation.PenaltyThreshold:
		return 0, fmt.Errorf("%w: %d >= %d", ErrReputationTooHigh, account.Reputation, r.cfg.Reputation.PenaltyThreshold)
	case account.Stake == 0:
		return 0, fmt.Errorf("%w: %s", ErrNoStake, identity)
	}

	wasActive := r.active(account)
	amount := account.Stake / 100 * fractionPercent
	amount += account.Stake % 100 * fractionPercent / 100
	account.Stake -= amount
	if err := tx.PutSimulator(account); err != nil {
		return 0, err
	}
	if err := r.incentives.Insure(tx, amount); err != nil {
		return 0, err
	}
	if wasActive && !r.active(account) {
		return amount, r.incentives.AdjustActive(tx, -1)
	}
	return amount, nil
}

// active reports whether [account] is counted in Pools.ActiveSimulators.
func (r *Registry) active(account *SimulatorAccount) bool {
	return account.Stake > 0 && account.Stake >= r.cfg.MinStake
}

// Allow allow-lists [identity] for permissioned deployments, creating its
// account if needed.
func (r *Registry) Allow(tx Tx, identity ids.ShortID, now int64) (*SimulatorAccount, error) {
	account, err := tx.GetSimulator(identity)
	switch {
	case errors.Is(err, ErrSimulatorUnknown):
		account = &SimulatorAccount{
			Identity:     identity,
			Reputation:   r.cfg.Reputation.Baseline,
			RegisteredAt: now,
		}
	case err != nil:
		return nil, err
	}
	account.Allowlisted = true
	return account, tx.PutSimulator(account)
}

// RecordGoodVerdict rewards [account] with reputation for an accepted verdict.
func (r *Registry) RecordGoodVerdict(tx Tx, account *SimulatorAccount) error {
	account.Verdicts++
	account.Reputation += r.cfg.Reputation.GoodVerdictBonus
	if limit := r.cfg.Reputation.Cap; limit != 0 && account.Reputation > limit {
		account.Reputation = limit
	}
	return tx.PutSimulator(account)
}

// Penalize removes the dissent penalty from [identity]'s reputation.
func (r *Registry) Penalize(tx Tx, identity ids.ShortID) error {
	penalty := r.cfg.Reputation.DissentPenalty
	if penalty == 0 {
		return nil
	}
	account, err := tx.GetSimulator(identity)
	if err != nil {
		return err
	}
	if account.Reputation < penalty {
		account.Reputation = 0
	} else {
		account.Reputation -= penalty
	}
	return tx.PutSimulator(account)
}

// Eligibility loads the accounts behind [verdicts] and reports which of them
// may be counted.
func (r *Registry) Eligibility(tx Tx, verdicts []*SimulationVerdict) (func(ids.ShortID) bool, error) {
	eligible := make(map[ids.ShortID]bool, len(verdicts))
	for _, verdict := range verdicts {
		account, err := tx.GetSimulator(verdict.Simulator)
		switch {
		case errors.Is(err, ErrSimulatorUnknown):
			eligible[verdict.Simulator] = false
		case err != nil:
			return nil, err
		default:
			eligible[verdict.Simulator] = account.Eligible(r.cfg)
		}
	}
	return func(simulator ids.ShortID) bool {
		return eligible[simulator]
	}, nil
}
