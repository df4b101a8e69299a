// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
)

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	intentPrefix    = []byte("intent")
	verdictPrefix   = []byte("verdict")
	simulatorPrefix = []byte("simulator")
	accountPrefix   = []byte("account")
	singletonPrefix = []byte("singleton")

	_ Tx = (*tx)(nil)
)

// Tx is a view over every protocol table. Writes made through a Tx returned
// by State.Update are only visible once the unit of work commits.
type Tx interface {
	IntentState
	SimulatorState
	LedgerState
}

type tx struct {
	IntentState
	SimulatorState
	LedgerState
}

func newTx(db database.Database) *tx {
	return &tx{
		IntentState:    NewIntentState(prefixdb.New(intentPrefix, db), prefixdb.New(verdictPrefix, db)),
		SimulatorState: NewSimulatorState(prefixdb.New(simulatorPrefix, db)),
		LedgerState:    NewLedgerState(prefixdb.New(accountPrefix, db), prefixdb.New(singletonPrefix, db)),
	}
}

// State is the durable store behind the protocol. Each table lives under its
// own prefix of one base database.
type State struct {
	baseDB database.Database
}

func NewState(db database.Database) *State {
	return &State{baseDB: db}
}

// View returns a read-only view of the committed state.
func (s *State) View() Tx {
	return newTx(s.baseDB)
}

// Update runs [fn] as one unit of work. If [fn] returns an error nothing it
// wrote is persisted, otherwise all of its writes are committed in one batch.
func (s *State) Update(fn func(Tx) error) error {
	vdb := versiondb.New(s.baseDB)
	defer vdb.Abort()

	if err := fn(newTx(vdb)); err != nil {
		return err
	}
	return vdb.Commit()
}

// Close closes the underlying base database
func (s *State) Close() error {
	return s.baseDB.Close()
}
