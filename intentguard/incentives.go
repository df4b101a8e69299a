// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	safemath "github.com/ava-labs/avalanchego/utils/math"
)

// Incentives moves value between escrow, the reward and insurance pools and
// claimable balances. All methods run inside a caller's unit of work.
type Incentives struct {
	cfg *Config
}

func NewIncentives(cfg *Config) *Incentives {
	return &Incentives{cfg: cfg}
}

// SplitFee returns the insurance and reward shares of [fee].
func (in *Incentives) SplitFee(fee uint64) (insurance uint64, reward uint64) {
	// fee/maxBps*share + remainder keeps the product from overflowing
	insurance = fee/maxBps*in.cfg.InsuranceShareBps + fee%maxBps*in.cfg.InsuranceShareBps/maxBps
	return insurance, fee - insurance
}

// Deposit escrows an intent's [value] and splits its [fee] between the pools.
func (in *Incentives) Deposit(tx Tx, value uint64, fee uint64) error {
	pools, err := tx.GetPools()
	if err != nil {
		return err
	}
	insurance, reward := in.SplitFee(fee)
	if pools.Escrow, err = safemath.Add64(pools.Escrow, value); err != nil {
		return fmt.Errorf("escrow overflow: %w", err)
	}
	if pools.InsurancePool, err = safemath.Add64(pools.InsurancePool, insurance); err != nil {
		return fmt.Errorf("insurance pool overflow: %w", err)
	}
	if pools.RewardPool, err = safemath.Add64(pools.RewardPool, reward); err != nil {
		return fmt.Errorf("reward pool overflow: %w", err)
	}
	return tx.PutPools(pools)
}

// PayReward credits [simulator] with the per-verdict reward, or with what is
// left of the reward pool if that is less. It returns the amount paid.
func (in *Incentives) PayReward(tx Tx, simulator ids.ShortID) (uint64, error) {
	pools, err := tx.GetPools()
	if err != nil {
		return 0, err
	}
	paid := in.cfg.VerdictReward
	if paid > pools.RewardPool {
		paid = pools.RewardPool
	}
	if paid == 0 {
		return 0, nil
	}
	pools.RewardPool -= paid
	if err := tx.PutPools(pools); err != nil {
		return 0, err
	}
	return paid, in.Credit(tx, simulator, paid)
}

// Refund returns an intent's escrowed value to its submitter. The fee is kept.
func (in *Incentives) Refund(tx Tx, intent *Intent) error {
	if err := in.releaseEscrow(tx, intent.Value); err != nil {
		return err
	}
	return in.Credit(tx, intent.Submitter, intent.Value)
}

// Release takes an intent's escrowed value out of the protocol so it can be
// passed to the execution effect.
func (in *Incentives) Release(tx Tx, intent *Intent) error {
	return in.releaseEscrow(tx, intent.Value)
}

// Insure adds [amount] to the insurance pool.
func (in *Incentives) Insure(tx Tx, amount uint64) error {
	pools, err := tx.GetPools()
	if err != nil {
		return err
	}
	if pools.InsurancePool, err = safemath.Add64(pools.InsurancePool, amount); err != nil {
		return fmt.Errorf("insurance pool overflow: %w", err)
	}
	return tx.PutPools(pools)
}

// Credit adds [amount] to the claimable balance of [owner].
func (in *Incentives) Credit(tx Tx, owner ids.ShortID, amount uint64) error {
	balance, err := tx.GetBalance(owner)
	if err != nil {
		return err
	}
	if balance, err = safemath.Add64(balance, amount); err != nil {
		return fmt.Errorf("balance overflow for %s: %w", owner, err)
	}
	return tx.PutBalance(owner, balance)
}

// AdjustActive changes the active simulator count by [delta].
func (in *Incentives) AdjustActive(tx Tx, delta int) error {
	pools, err := tx.GetPools()
	if err != nil {
		return err
	}
	switch {
	case delta > 0:
		pools.ActiveSimulators += uint64(delta)
	case uint64(-delta) > pools.ActiveSimulators:
		pools.ActiveSimulators = 0
	default:
		pools.ActiveSimulators -= uint64(-delta)
	}
	return tx.PutPools(pools)
}

func (in *Incentives) releaseEscrow(tx Tx, value uint64) error {
	pools, err := tx.GetPools()
	if err != nil {
		return err
	}
	if pools.Escrow, err = safemath.Sub(pools.Escrow, value); err != nil {
		return fmt.Errorf("escrow underflow: %w", err)
	}
	return tx.PutPools(pools)
}
