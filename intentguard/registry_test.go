// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
)

func newTestRegistry() (*State, *Registry, *Incentives, *Config) {
	cfg := DefaultConfig()
	incentives := NewIncentives(&cfg)
	return NewState(memdb.New()), NewRegistry(&cfg, incentives), incentives, &cfg
}

func TestSplitFee(t *testing.T) {
	require := require.New(t)
	_, _, incentives, _ := newTestRegistry()

	insurance, reward := incentives.SplitFee(Units / 1_000)
	require.Equal(uint64(100_000), insurance)
	require.Equal(uint64(900_000), reward)

	insurance, reward = incentives.SplitFee(9)
	require.Zero(insurance)
	require.Equal(uint64(9), reward)

	insurance, reward = incentives.SplitFee(^uint64(0))
	require.Equal(^uint64(0), insurance+reward)
}

func TestRegisterAndWithdraw(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	err := state.Update(func(tx Tx) error {
		_, err := registry.Register(tx, simA, cfg.MinStake-1, 0)
		return err
	})
	require.ErrorIs(err, ErrInsufficientStake)

	require.NoError(state.Update(func(tx Tx) error {
		account, err := registry.Register(tx, simA, cfg.MinStake, 10)
		require.Equal(cfg.Reputation.Baseline, account.Reputation)
		return err
	}))

	err = state.Update(func(tx Tx) error {
		_, err := registry.Register(tx, simA, cfg.MinStake, 11)
		return err
	})
	require.ErrorIs(err, ErrAlreadyRegistered)

	pools, err := state.View().GetPools()
	require.NoError(err)
	require.Equal(uint64(1), pools.ActiveSimulators)

	var stake uint64
	require.NoError(state.Update(func(tx Tx) error {
		stake, err = registry.Withdraw(tx, simA)
		return err
	}))
	require.Equal(cfg.MinStake, stake)

	balance, err := state.View().GetBalance(simA)
	require.NoError(err)
	require.Equal(cfg.MinStake, balance)
	pools, err = state.View().GetPools()
	require.NoError(err)
	require.Zero(pools.ActiveSimulators)

	err = state.Update(func(tx Tx) error {
		_, err := registry.Withdraw(tx, simA)
		return err
	})
	require.ErrorIs(err, ErrNoStake)

	err = state.Update(func(tx Tx) error {
		_, err := registry.Withdraw(tx, simB)
		return err
	})
	require.ErrorIs(err, ErrNoStake)
}

func TestReregistrationKeepsReputation(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		if _, err := registry.Register(tx, simA, cfg.MinStake, 0); err != nil {
			return err
		}
		if err := registry.Penalize(tx, simA); err != nil {
			return err
		}
		_, err := registry.Withdraw(tx, simA)
		return err
	}))

	require.NoError(state.Update(func(tx Tx) error {
		account, err := registry.Register(tx, simA, cfg.MinStake, 5)
		require.Equal(cfg.Reputation.Baseline-cfg.Reputation.DissentPenalty, account.Reputation)
		return err
	}))
}

func TestWithdrawNeedsReputation(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		_, err := registry.Register(tx, simA, cfg.MinStake, 0)
		return err
	}))
	require.NoError(state.Update(func(tx Tx) error {
		for i := 0; i < 6; i++ {
			if err := registry.Penalize(tx, simA); err != nil {
				return err
			}
		}
		return nil
	}))

	account, err := state.View().GetSimulator(simA)
	require.NoError(err)
	require.Equal(uint64(40), account.Reputation)

	err = state.Update(func(tx Tx) error {
		_, err := registry.Withdraw(tx, simA)
		return err
	})
	require.ErrorIs(err, ErrReputationTooLow)
}

func TestSlash(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		_, err := registry.Register(tx, simA, 3*cfg.MinStake, 0)
		return err
	}))

	// reputation is still at baseline
	err := state.Update(func(tx Tx) error {
		_, err := registry.Slash(tx, simA, 50)
		return err
	})
	require.ErrorIs(err, ErrReputationTooHigh)

	require.NoError(state.Update(func(tx Tx) error {
		for i := 0; i < 6; i++ {
			if err := registry.Penalize(tx, simA); err != nil {
				return err
			}
		}
		return nil
	}))

	for _, bad := range []uint64{0, 101} {
		err = state.Update(func(tx Tx) error {
			_, err := registry.Slash(tx, simA, bad)
			return err
		})
		require.ErrorIs(err, ErrInvalidFraction)
	}

	var amount uint64
	require.NoError(state.Update(func(tx Tx) error {
		amount, err = registry.Slash(tx, simA, 50)
		return err
	}))
	require.Equal(3*cfg.MinStake/2, amount)

	pools, err := state.View().GetPools()
	require.NoError(err)
	require.Equal(amount, pools.InsurancePool)
	require.Equal(uint64(1), pools.ActiveSimulators)

	require.NoError(state.Update(func(tx Tx) error {
		amount, err = registry.Slash(tx, simA, 100)
		return err
	}))
	require.Equal(3*cfg.MinStake/2, amount)

	account, err := state.View().GetSimulator(simA)
	require.NoError(err)
	require.Zero(account.Stake)
	pools, err = state.View().GetPools()
	require.NoError(err)
	require.Zero(pools.ActiveSimulators)
	require.Equal(3*cfg.MinStake, pools.InsurancePool)
}

func TestReputationCapAndFloor(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	account := &SimulatorAccount{Identity: simA, Stake: cfg.MinStake, Reputation: cfg.Reputation.Cap}
	require.NoError(state.Update(func(tx Tx) error {
		return registry.RecordGoodVerdict(tx, account)
	}))
	require.Equal(cfg.Reputation.Cap, account.Reputation)
	require.Equal(uint64(1), account.Verdicts)

	require.NoError(state.Update(func(tx Tx) error {
		account.Reputation = 3
		if err := tx.PutSimulator(account); err != nil {
			return err
		}
		return registry.Penalize(tx, simA)
	}))
	stored, err := state.View().GetSimulator(simA)
	require.NoError(err)
	require.Zero(stored.Reputation)
}

func TestEligibility(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		if _, err := registry.Register(tx, simA, cfg.MinStake, 0); err != nil {
			return err
		}
		_, err := registry.Allow(tx, simB, 0)
		return err
	}))

	verdicts := []*SimulationVerdict{{Simulator: simA}, {Simulator: simB}, {Simulator: simC}}
	eligible, err := registry.Eligibility(state.View(), verdicts)
	require.NoError(err)
	require.True(eligible(simA))
	require.False(eligible(simB))
	require.False(eligible(simC))

	cfg.Permissioned = true
	eligible, err = registry.Eligibility(state.View(), verdicts)
	require.NoError(err)
	require.True(eligible(simB))
	require.False(eligible(ids.ShortID{0xff}))
}

func TestDepositRefundRelease(t *testing.T) {
	require := require.New(t)
	state, _, incentives, cfg := newTestRegistry()

	intent := newTestIntent(ids.ID{1})
	intent.Value = 10 * Units
	intent.Fee = cfg.VerificationFee
	require.NoError(state.Update(func(tx Tx) error {
		return incentives.Deposit(tx, intent.Value, intent.Fee)
	}))

	pools, err := state.View().GetPools()
	require.NoError(err)
	require.Equal(intent.Value, pools.Escrow)
	require.Equal(cfg.VerificationFee/10, pools.InsurancePool)
	require.Equal(cfg.VerificationFee-cfg.VerificationFee/10, pools.RewardPool)

	var paid uint64
	require.NoError(state.Update(func(tx Tx) error {
		paid, err = incentives.PayReward(tx, simA)
		return err
	}))
	require.Equal(cfg.VerdictReward, paid)

	require.NoError(state.Update(func(tx Tx) error {
		return incentives.Refund(tx, intent)
	}))
	balance, err := state.View().GetBalance(intent.Submitter)
	require.NoError(err)
	require.Equal(intent.Value, balance)

	err = state.Update(func(tx Tx) error {
		return incentives.Release(tx, intent)
	})
	require.Error(err)

	pools, err = state.View().GetPools()
	require.NoError(err)
	require.Zero(pools.Escrow)
}

func TestPayRewardDrainsPool(t *testing.T) {
	require := require.New(t)
	state, _, incentives, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		return tx.PutPools(&Pools{RewardPool: cfg.VerdictReward / 2})
	}))

	var paid uint64
	require.NoError(state.Update(func(tx Tx) error {
		var err error
		paid, err = incentives.PayReward(tx, simA)
		return err
	}))
	require.Equal(cfg.VerdictReward/2, paid)

	require.NoError(state.Update(func(tx Tx) error {
		var err error
		paid, err = incentives.PayReward(tx, simA)
		return err
	}))
	require.Zero(paid)

	balance, err := state.View().GetBalance(simA)
	require.NoError(err)
	require.Equal(cfg.VerdictReward/2, balance)
}

func TestPartialSlashBelowMinimum(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		if _, err := registry.Register(tx, simA, cfg.MinStake, 0); err != nil {
			return err
		}
		for i := 0; i < 6; i++ {
			if err := registry.Penalize(tx, simA); err != nil {
				return err
			}
		}
		_, err := registry.Slash(tx, simA, 50)
		return err
	}))

	account, err := state.View().GetSimulator(simA)
	require.NoError(err)
	require.Equal(cfg.MinStake/2, account.Stake)
	require.False(account.Eligible(cfg))
	pools, err := state.View().GetPools()
	require.NoError(err)
	require.Zero(pools.ActiveSimulators)

	// the remaining stake alone is not enough
	err = state.Update(func(tx Tx) error {
		_, err := registry.Register(tx, simA, cfg.MinStake/2-1, 1)
		return err
	})
	require.ErrorIs(err, ErrInsufficientStake)

	require.NoError(state.Update(func(tx Tx) error {
		account, err := registry.Register(tx, simA, cfg.MinStake/2, 1)
		if err != nil {
			return err
		}
		require.Equal(cfg.MinStake, account.Stake)
		require.True(account.Eligible(cfg))
		return nil
	}))
	pools, err = state.View().GetPools()
	require.NoError(err)
	require.Equal(uint64(1), pools.ActiveSimulators)

	err = state.Update(func(tx Tx) error {
		_, err := registry.Register(tx, simA, cfg.MinStake, 2)
		return err
	})
	require.ErrorIs(err, ErrAlreadyRegistered)
}

func TestWithdrawAfterPartialSlash(t *testing.T) {
	require := require.New(t)
	state, registry, _, cfg := newTestRegistry()

	require.NoError(state.Update(func(tx Tx) error {
		if _, err := registry.Register(tx, simA, cfg.MinStake, 0); err != nil {
			return err
		}
		if _, err := registry.Register(tx, simB, cfg.MinStake, 0); err != nil {
			return err
		}
		for i := 0; i < 6; i++ {
			if err := registry.Penalize(tx, simA); err != nil {
				return err
			}
		}
		if _, err := registry.Slash(tx, simA, 50); err != nil {
			return err
		}
		// reputation recovered
		account, err := tx.GetSimulator(simA)
		if err != nil {
			return err
		}
		account.Reputation = cfg.Reputation.WithdrawFloor
		return tx.PutSimulator(account)
	}))

	var stake uint64
	require.NoError(state.Update(func(tx Tx) error {
		var err error
		stake, err = registry.Withdraw(tx, simA)
		return err
	}))
	require.Equal(cfg.MinStake/2, stake)

	// simB is still counted
	pools, err := state.View().GetPools()
	require.NoError(err)
	require.Equal(uint64(1), pools.ActiveSimulators)
}
