// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/ids"
)

const (
	// Units is the number of ledger units in one coin.
	Units uint64 = 1_000_000_000

	maxBps = 10_000
)

var (
	errQuorumTooSmall     = errors.New("quorum must be at least 2")
	errBadInsuranceShare  = errors.New("insurance share must not exceed 10000 bps")
	errBadMatchRatio      = errors.New("result match ratio must satisfy 0 < numerator <= denominator")
	errBadScoreThreshold  = errors.New("score threshold must be between 1 and 101")
	errBadRiskyTolerance  = errors.New("risky tolerance must be at least 1")
	errNonPositiveWindow  = errors.New("intent window must be positive")
	errBaselineAboveLimit = errors.New("baseline reputation exceeds reputation cap")
)

// ReputationPolicy controls how simulator reputation moves.
type ReputationPolicy struct {
	// Baseline is the reputation given on registration.
	Baseline uint64
	// GoodVerdictBonus is added for every accepted verdict.
	GoodVerdictBonus uint64
	// Cap bounds reputation from above. Zero disables the cap.
	Cap uint64
	// DissentPenalty is removed from every counted simulator whose verdict
	// disagreed with the resolved outcome.
	DissentPenalty uint64
	// WithdrawFloor is the minimum reputation needed to withdraw stake.
	WithdrawFloor uint64
	// PenaltyThreshold is the reputation below which a simulator can be slashed.
	PenaltyThreshold uint64
}

// Config is the full protocol configuration.
type Config struct {
	Consensus  ConsensusPolicy
	Reputation ReputationPolicy

	// IntentWindow is added to the creation time to produce the deadline.
	IntentWindow time.Duration
	// VerificationFee is the minimum fee charged on top of an intent's value.
	VerificationFee uint64
	// InsuranceShareBps is the share of every fee routed to the insurance pool.
	InsuranceShareBps uint64
	// VerdictReward is paid to a simulator for every accepted verdict.
	VerdictReward uint64
	// MinStake is the stake needed to register and to be eligible.
	MinStake uint64

	// Permissioned makes allow-listed simulators eligible regardless of stake.
	Permissioned bool
	// OpenExecution lets any caller execute an approved intent.
	OpenExecution bool
	// Monitors may flag state drift. Empty means any caller may flag.
	Monitors []ids.ShortID
	// Admins may slash and allow-list simulators. With no admins, slashing is
	// open (it is gated by reputation) and allow-listing is disabled.
	Admins []ids.ShortID
}

// DefaultConfig returns the configuration used by the service binary when no
// overrides are given.
func DefaultConfig() Config {
	return Config{
		Consensus: ConsensusPolicy{
			Quorum:           2,
			RiskyTolerance:   1,
			ScoreThreshold:   50,
			MatchNumerator:   2,
			MatchDenominator: 3,
		},
		Reputation: ReputationPolicy{
			Baseline:         100,
			GoodVerdictBonus: 1,
			Cap:              1_000,
			DissentPenalty:   10,
			WithdrawFloor:    50,
			PenaltyThreshold: 50,
		},
		IntentWindow:      300 * time.Second,
		VerificationFee:   Units / 1_000,
		InsuranceShareBps: 1_000,
		VerdictReward:     Units / 10_000,
		MinStake:          Units,
	}
}

// Verify returns an error if the configuration is unusable.
func (c *Config) Verify() error {
	switch {
	case c.Consensus.Quorum < 2:
		return errQuorumTooSmall
	case c.Consensus.RiskyTolerance < 1:
		return errBadRiskyTolerance
	case c.Consensus.ScoreThreshold < 1 || c.Consensus.ScoreThreshold > MaxRiskScore+1:
		return errBadScoreThreshold
	case c.Consensus.RequireResultMatch &&
		(c.Consensus.MatchNumerator == 0 || c.Consensus.MatchNumerator > c.Consensus.MatchDenominator):
		return errBadMatchRatio
	case c.InsuranceShareBps > maxBps:
		return errBadInsuranceShare
	case c.IntentWindow <= 0:
		return errNonPositiveWindow
	case c.Reputation.Cap != 0 && c.Reputation.Baseline > c.Reputation.Cap:
		return fmt.Errorf("%w: %d > %d", errBaselineAboveLimit, c.Reputation.Baseline, c.Reputation.Cap)
	}
	return nil
}

func (c *Config) isMonitor(caller ids.ShortID) bool {
	return len(c.Monitors) == 0 || contains(c.Monitors, caller)
}

func (c *Config) isAdmin(caller ids.ShortID) bool {
	return contains(c.Admins, caller)
}

func contains(set []ids.ShortID, id ids.ShortID) bool {
	for _, member := range set {
		if member == id {
			return true
		}
	}
	return false
}
