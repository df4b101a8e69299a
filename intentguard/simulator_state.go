// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
)

var _ SimulatorState = (*simulatorState)(nil)

// SimulatorState stores registry accounts keyed by simulator identity.
type SimulatorState interface {
	// GetSimulator returns ErrSimulatorUnknown if [identity] never registered.
	GetSimulator(identity ids.ShortID) (*SimulatorAccount, error)
	PutSimulator(account *SimulatorAccount) error
}

type simulatorState struct {
	simulatorDB database.Database
}

func NewSimulatorState(db database.Database) SimulatorState {
	return &simulatorState{simulatorDB: db}
}

func (s *simulatorState) GetSimulator(identity ids.ShortID) (*SimulatorAccount, error) {
	accountBytes, err := s.simulatorDB.Get(identity[:])
	switch {
	case err == database.ErrNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSimulatorUnknown, identity)
	case err != nil:
		return nil, fmt.Errorf("failed to get simulator %s: %w", identity, err)
	}

	account := &SimulatorAccount{}
	if _, err := Codec.Unmarshal(accountBytes, account); err != nil {
		return nil, fmt.Errorf("failed to parse simulator %s: %w", identity, err)
	}
	return account, nil
}

func (s *simulatorState) PutSimulator(account *SimulatorAccount) error {
	bytes, err := Codec.Marshal(CodecVersion, account)
	if err != nil {
		return fmt.Errorf("failed to marshal simulator %s: %w", account.Identity, err)
	}
	return s.simulatorDB.Put(account.Identity[:], bytes)
}
