// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

// ConsensusPolicy decides when a set of verdicts resolves an intent.
type ConsensusPolicy struct {
	// Quorum is the number of eligible verdicts needed before any decision.
	Quorum int
	// RiskyTolerance is the number of risky verdicts that blocks an intent.
	RiskyTolerance int
	// ScoreThreshold is the average risk score at or above which an intent
	// is blocked.
	ScoreThreshold uint64
	// RequireResultMatch additionally requires the most common result hash to
	// be shared by MatchNumerator/MatchDenominator of the submitted verdicts.
	// Verdicts without a report never match.
	RequireResultMatch bool
	MatchNumerator     int
	MatchDenominator   int
}

// Result is the outcome of evaluating the verdicts of one intent.
type Result struct {
	HasConsensus bool   `json:"hasConsensus"`
	IsSafe       bool   `json:"isSafe"`
	AvgRiskScore uint64 `json:"avgRiskScore"`
	Counted      int    `json:"counted"`
	Risky        int    `json:"risky"`
	Matching     int    `json:"matching"`
}

// Evaluate aggregates [verdicts]. Verdicts whose simulator is not [eligible]
// are ignored entirely.
func (p ConsensusPolicy) Evaluate(verdicts []*SimulationVerdict, eligible func(ids.ShortID) bool) Result {
	var (
		result     Result
		scoreSum   uint64
		hashCounts = make(map[ids.ID]int)
	)
	for _, verdict := range verdicts {
		if !eligible(verdict.Simulator) {
			continue
		}
		result.Counted++
		scoreSum += verdict.RiskScore
		if verdict.IsRisky {
			result.Risky++
		}
		if verdict.ResultHash == ids.Empty {
			continue
		}
		hashCounts[verdict.ResultHash]++
		if count := hashCounts[verdict.ResultHash]; count > result.Matching {
			result.Matching = count
		}
	}

	if result.Counted < p.Quorum || result.Counted == 0 {
		return result
	}
	if p.RequireResultMatch && result.Matching*p.MatchDenominator < p.MatchNumerator*len(verdicts) {
		return result
	}

	result.HasConsensus = true
	result.AvgRiskScore = scoreSum / uint64(result.Counted)
	result.IsSafe = result.Risky < p.RiskyTolerance && result.AvgRiskScore < p.ScoreThreshold
	return result
}

// ComputeResultHash returns the hash of a simulator's JSON analysis report in
// canonical (RFC 8785) form, so reports that differ only in formatting or key
// order share a hash.
func ComputeResultHash(report []byte) (ids.ID, error) {
	canonical, err := jcs.Transform(report)
	if err != nil {
		return ids.Empty, fmt.Errorf("couldn't canonicalize report: %w", err)
	}
	return hashing.ComputeHash256Array(canonical), nil
}
