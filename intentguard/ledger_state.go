// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"encoding/binary"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const (
	PoolsKey byte = iota
)

var (
	poolsKey             = []byte{PoolsKey}
	_        LedgerState = (*ledgerState)(nil)
)

// LedgerState is a thin wrapper around the account and singleton databases
// holding claimable balances and the protocol pools.
type LedgerState interface {
	GetBalance(owner ids.ShortID) (uint64, error)
	PutBalance(owner ids.ShortID, amount uint64) error

	GetPools() (*Pools, error)
	PutPools(pools *Pools) error
}

type ledgerState struct {
	accountDB   database.Database
	singletonDB database.Database
}

func NewLedgerState(accountDB, singletonDB database.Database) LedgerState {
	return &ledgerState{
		accountDB:   accountDB,
		singletonDB: singletonDB,
	}
}

func (s *ledgerState) GetBalance(owner ids.ShortID) (uint64, error) {
	balanceBytes, err := s.accountDB.Get(owner[:])
	switch {
	case err == database.ErrNotFound:
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	case len(balanceBytes) != wrappers.LongLen:
		return 0, fmt.Errorf("malformed balance of %s: %d bytes", owner, len(balanceBytes))
	}
	return binary.BigEndian.Uint64(balanceBytes), nil
}

func (s *ledgerState) PutBalance(owner ids.ShortID, amount uint64) error {
	if amount == 0 {
		return s.accountDB.Delete(owner[:])
	}
	balanceBytes := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(balanceBytes, amount)
	return s.accountDB.Put(owner[:], balanceBytes)
}

func (s *ledgerState) GetPools() (*Pools, error) {
	pools := &Pools{}
	poolsBytes, err := s.singletonDB.Get(poolsKey)
	switch {
	case err == database.ErrNotFound:
		return pools, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get pools: %w", err)
	}
	if _, err := Codec.Unmarshal(poolsBytes, pools); err != nil {
		return nil, fmt.Errorf("failed to parse pools: %w", err)
	}
	return pools, nil
}

func (s *ledgerState) PutPools(pools *Pools) error {
	bytes, err := Codec.Marshal(CodecVersion, pools)
	if err != nil {
		return fmt.Errorf("failed to marshal pools: %w", err)
	}
	return s.singletonDB.Put(poolsKey, bytes)
}
