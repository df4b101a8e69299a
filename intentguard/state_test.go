// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
)

var errAbort = errors.New("abort")

func newTestIntent(id ids.ID) *Intent {
	return &Intent{
		ID:        id,
		Submitter: ids.ShortID{1},
		Target:    ids.ShortID{2},
		Payload:   []byte{0xde, 0xad},
		Value:     5,
		Fee:       1,
		CreatedAt: 1000,
		Deadline:  1300,
		Snapshot:  ids.ID{9},
		Status:    Pending,
	}
}

func TestIntentRoundTrip(t *testing.T) {
	require := require.New(t)
	state := NewState(memdb.New())

	intent := newTestIntent(ids.ID{1})
	require.NoError(state.Update(func(tx Tx) error {
		return tx.PutIntent(intent)
	}))

	got, err := state.View().GetIntent(intent.ID)
	require.NoError(err)
	require.Equal(intent.ID, got.ID)
	require.Equal(intent.Submitter, got.Submitter)
	require.Equal(intent.Payload, got.Payload)
	require.Equal(intent.Deadline, got.Deadline)
	require.Equal(intent.Snapshot, got.Snapshot)
	require.Equal(Pending, got.Status)

	has, err := state.View().HasIntent(intent.ID)
	require.NoError(err)
	require.True(has)

	_, err = state.View().GetIntent(ids.ID{2})
	require.ErrorIs(err, ErrIntentNotFound)
}

func TestUpdateAbortsOnError(t *testing.T) {
	require := require.New(t)
	state := NewState(memdb.New())

	err := state.Update(func(tx Tx) error {
		if err := tx.PutIntent(newTestIntent(ids.ID{1})); err != nil {
			return err
		}
		if err := tx.PutBalance(ids.ShortID{1}, 10); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(err, errAbort)

	has, err := state.View().HasIntent(ids.ID{1})
	require.NoError(err)
	require.False(has)
	balance, err := state.View().GetBalance(ids.ShortID{1})
	require.NoError(err)
	require.Zero(balance)
}

func TestTransitions(t *testing.T) {
	assert := assert.New(t)

	assert.True(CanTransition(Pending, Approved))
	assert.True(CanTransition(Pending, Blocked))
	assert.True(CanTransition(Pending, Cancelled))
	assert.True(CanTransition(Approved, Executed))
	assert.True(CanTransition(Approved, Pending))
	assert.True(CanTransition(Approved, Cancelled))

	assert.False(CanTransition(Pending, Executed))
	assert.False(CanTransition(Blocked, Pending))
	assert.False(CanTransition(Blocked, Cancelled))
	assert.False(CanTransition(Executed, Pending))
	assert.False(CanTransition(Executed, Cancelled))
	assert.False(CanTransition(Cancelled, Pending))
	assert.False(CanTransition(Approved, Blocked))
}

func TestTransitionIntentRejectsTerminal(t *testing.T) {
	require := require.New(t)
	state := NewState(memdb.New())

	intent := newTestIntent(ids.ID{1})
	intent.Status = Blocked
	err := state.Update(func(tx Tx) error {
		return tx.TransitionIntent(intent, Pending)
	})
	require.ErrorIs(err, ErrWrongStatus)
	require.Equal(Blocked, intent.Status)
}

func TestVerdictStore(t *testing.T) {
	require := require.New(t)
	state := NewState(memdb.New())

	first := ids.ID{1}
	second := ids.ID{2}
	require.NoError(state.Update(func(tx Tx) error {
		for _, v := range []*SimulationVerdict{
			{IntentID: first, Simulator: simA, RiskScore: 10},
			{IntentID: first, Simulator: simB, RiskScore: 20, IsRisky: true},
			{IntentID: second, Simulator: simA, RiskScore: 30},
		} {
			if err := tx.PutVerdict(v); err != nil {
				return err
			}
		}
		return nil
	}))

	verdicts, err := state.View().GetVerdicts(first)
	require.NoError(err)
	require.Len(verdicts, 2)

	has, err := state.View().HasVerdict(first, simB)
	require.NoError(err)
	require.True(has)
	has, err = state.View().HasVerdict(second, simB)
	require.NoError(err)
	require.False(has)

	var cleared int
	require.NoError(state.Update(func(tx Tx) error {
		var err error
		cleared, err = tx.ClearVerdicts(first)
		return err
	}))
	require.Equal(2, cleared)

	verdicts, err = state.View().GetVerdicts(first)
	require.NoError(err)
	require.Empty(verdicts)

	verdicts, err = state.View().GetVerdicts(second)
	require.NoError(err)
	require.Len(verdicts, 1)
	require.Equal(uint64(30), verdicts[0].RiskScore)
}

func TestLedgerState(t *testing.T) {
	require := require.New(t)
	state := NewState(memdb.New())

	pools, err := state.View().GetPools()
	require.NoError(err)
	require.Equal(&Pools{}, pools)

	owner := ids.ShortID{7}
	require.NoError(state.Update(func(tx Tx) error {
		if err := tx.PutBalance(owner, 42); err != nil {
			return err
		}
		return tx.PutPools(&Pools{InsurancePool: 1, RewardPool: 2, Escrow: 3, ActiveSimulators: 4})
	}))

	balance, err := state.View().GetBalance(owner)
	require.NoError(err)
	require.Equal(uint64(42), balance)

	pools, err = state.View().GetPools()
	require.NoError(err)
	require.Equal(&Pools{InsurancePool: 1, RewardPool: 2, Escrow: 3, ActiveSimulators: 4}, pools)

	require.NoError(state.Update(func(tx Tx) error {
		return tx.PutBalance(owner, 0)
	}))
	balance, err = state.View().GetBalance(owner)
	require.NoError(err)
	require.Zero(balance)
}

func TestSimulatorState(t *testing.T) {
	require := require.New(t)
	state := NewState(memdb.New())

	_, err := state.View().GetSimulator(simA)
	require.ErrorIs(err, ErrSimulatorUnknown)

	account := &SimulatorAccount{Identity: simA, Stake: Units, Reputation: 100}
	require.NoError(state.Update(func(tx Tx) error {
		return tx.PutSimulator(account)
	}))

	got, err := state.View().GetSimulator(simA)
	require.NoError(err)
	require.Equal(account, got)
}

func TestFingerprintState(t *testing.T) {
	assert := assert.New(t)
	target := ids.ShortID{5}
	state := TargetState{Balance: 1, Nonce: 2, CodeSize: 3, CodeHash: ids.ID{4}, StorageRoot: ids.ID{5}}

	a, err := FingerprintState(target, state)
	assert.NoError(err)
	b, err := FingerprintState(target, state)
	assert.NoError(err)
	assert.Equal(a, b)

	other, err := FingerprintState(ids.ShortID{6}, state)
	assert.NoError(err)
	assert.NotEqual(a, other)

	state.Nonce++
	changed, err := FingerprintState(target, state)
	assert.NoError(err)
	assert.NotEqual(a, changed)
}
