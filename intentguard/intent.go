// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

// MaxRiskScore is the highest risk score a simulator may report.
const MaxRiskScore = 100

// Status is the lifecycle status of an intent.
type Status uint8

const (
	Pending Status = iota
	Approved
	Blocked
	Executed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Approved:
		return "Approved"
	case Blocked:
		return "Blocked"
	case Executed:
		return "Executed"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	for candidate := Pending; candidate <= Cancelled; candidate++ {
		if candidate.String() == str {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", str)
}

// Intent is a proposed transaction under verification.
type Intent struct {
	ID        ids.ID      `serialize:"true" json:"id"`
	Submitter ids.ShortID `serialize:"true" json:"submitter"`
	Target    ids.ShortID `serialize:"true" json:"target"`
	Payload   []byte      `serialize:"true" json:"payload"`
	Value     uint64      `serialize:"true" json:"value"`
	Fee       uint64      `serialize:"true" json:"fee"`
	CreatedAt int64       `serialize:"true" json:"createdAt"`
	Deadline  int64       `serialize:"true" json:"deadline"`
	// Height is the chain context the intent was created at.
	Height   uint64 `serialize:"true" json:"height"`
	Snapshot ids.ID `serialize:"true" json:"snapshot"`
	Status   Status `serialize:"true" json:"status"`
	// Round counts drift resets.
	Round        uint64 `serialize:"true" json:"round"`
	AvgRiskScore uint64 `serialize:"true" json:"avgRiskScore"`

	ExecutedAt         int64  `serialize:"true" json:"executedAt"`
	ExecutionSucceeded bool   `serialize:"true" json:"executionSucceeded"`
	ExecutionError     string `serialize:"true" json:"executionError"`
}

// Expired reports whether [now] is past the intent's deadline.
func (i *Intent) Expired(now time.Time) bool {
	return now.Unix() > i.Deadline
}

// ComputeIntentID derives an intent id from its submission inputs and the
// chain context it is created at. The same inputs at the same context always
// produce the same id.
func ComputeIntentID(submitter, target ids.ShortID, payload []byte, createdAt int64, height uint64) (ids.ID, error) {
	p := wrappers.Packer{
		MaxSize: 2*hashing.AddrLen + wrappers.IntLen + len(payload) + 2*wrappers.LongLen,
	}
	p.PackFixedBytes(submitter[:])
	p.PackFixedBytes(target[:])
	p.PackBytes(payload)
	p.PackLong(uint64(createdAt))
	p.PackLong(height)
	if p.Errored() {
		return ids.Empty, fmt.Errorf("couldn't pack intent id inputs: %w", p.Err)
	}
	return hashing.ComputeHash256Array(p.Bytes), nil
}

// SimulationVerdict is one simulator's assessment of one intent.
type SimulationVerdict struct {
	IntentID  ids.ID      `serialize:"true" json:"intentID"`
	Simulator ids.ShortID `serialize:"true" json:"simulator"`
	IsRisky   bool        `serialize:"true" json:"isRisky"`
	RiskScore uint64      `serialize:"true" json:"riskScore"`
	// ResultHash identifies the simulator's analysis output. Empty when the
	// simulator did not attach a report.
	ResultHash  ids.ID `serialize:"true" json:"resultHash"`
	SubmittedAt int64  `serialize:"true" json:"submittedAt"`
	Round       uint64 `serialize:"true" json:"round"`
}

// SimulatorAccount is a registry entry for a verifying identity.
type SimulatorAccount struct {
	Identity     ids.ShortID `serialize:"true" json:"identity"`
	Stake        uint64      `serialize:"true" json:"stake"`
	Reputation   uint64      `serialize:"true" json:"reputation"`
	Allowlisted  bool        `serialize:"true" json:"allowlisted"`
	Verdicts     uint64      `serialize:"true" json:"verdicts"`
	RegisteredAt int64       `serialize:"true" json:"registeredAt"`
}

// Eligible reports whether verdicts from this account count toward consensus.
func (a *SimulatorAccount) Eligible(cfg *Config) bool {
	if cfg.Permissioned && a.Allowlisted {
		return true
	}
	return a.Stake > 0 && a.Stake >= cfg.MinStake
}

// Pools holds the protocol-wide balances.
type Pools struct {
	InsurancePool    uint64 `serialize:"true" json:"insurancePool"`
	RewardPool       uint64 `serialize:"true" json:"rewardPool"`
	Escrow           uint64 `serialize:"true" json:"escrow"`
	ActiveSimulators uint64 `serialize:"true" json:"activeSimulators"`
}
