// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
)

var (
	errIntentWrongVersion = errors.New("wrong intent codec version")

	_ IntentState = (*intentState)(nil)
)

// validTransitions lists the statuses each status may move to.
var validTransitions = map[Status][]Status{
	Pending:  {Approved, Blocked, Cancelled, Pending},
	Approved: {Executed, Pending, Cancelled},
}

// CanTransition reports whether the lifecycle allows moving from [from] to [to].
// Pending to Pending is the drift reset of a Pending intent.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IntentState stores intents and the verdicts submitted for them.
type IntentState interface {
	GetIntent(intentID ids.ID) (*Intent, error)
	HasIntent(intentID ids.ID) (bool, error)
	PutIntent(intent *Intent) error
	// TransitionIntent moves [intent] to [to] and persists it, failing with
	// ErrWrongStatus if the lifecycle does not allow the move.
	TransitionIntent(intent *Intent, to Status) error

	GetVerdicts(intentID ids.ID) ([]*SimulationVerdict, error)
	HasVerdict(intentID ids.ID, simulator ids.ShortID) (bool, error)
	PutVerdict(verdict *SimulationVerdict) error
	// ClearVerdicts deletes every verdict of [intentID] and returns how many
	// were removed.
	ClearVerdicts(intentID ids.ID) (int, error)
}

type intentState struct {
	intentDB  database.Database
	verdictDB database.Database
}

func NewIntentState(intentDB, verdictDB database.Database) IntentState {
	return &intentState{
		intentDB:  intentDB,
		verdictDB: verdictDB,
	}
}

func (s *intentState) GetIntent(intentID ids.ID) (*Intent, error) {
	intentBytes, err := s.intentDB.Get(intentID[:])
	switch {
	case err == database.ErrNotFound:
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	case err != nil:
		return nil, fmt.Errorf("failed to get intent %s: %w", intentID, err)
	}

	intent := &Intent{}
	parsedVersion, err := Codec.Unmarshal(intentBytes, intent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse intent %s: %w", intentID, err)
	}
	if parsedVersion != CodecVersion {
		return nil, errIntentWrongVersion
	}
	return intent, nil
}

func (s *intentState) HasIntent(intentID ids.ID) (bool, error) {
	return s.intentDB.Has(intentID[:])
}

func (s *intentState) PutIntent(intent *Intent) error {
	bytes, err := Codec.Marshal(CodecVersion, intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent %s: %w", intent.ID, err)
	}
	return s.intentDB.Put(intent.ID[:], bytes)
}

func (s *intentState) TransitionIntent(intent *Intent, to Status) error {
	if !CanTransition(intent.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrWrongStatus, intent.Status, to)
	}
	intent.Status = to
	return s.PutIntent(intent)
}

func (s *intentState) GetVerdicts(intentID ids.ID) ([]*SimulationVerdict, error) {
	it := s.verdictDB.NewIteratorWithPrefix(intentID[:])
	defer it.Release()

	var verdicts []*SimulationVerdict
	for it.Next() {
		verdict := &SimulationVerdict{}
		if _, err := Codec.Unmarshal(it.Value(), verdict); err != nil {
			return nil, fmt.Errorf("failed to parse verdict for intent %s: %w", intentID, err)
		}
		verdicts = append(verdicts, verdict)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate verdicts of intent %s: %w", intentID, err)
	}
	return verdicts, nil
}

func (s *intentState) HasVerdict(intentID ids.ID, simulator ids.ShortID) (bool, error) {
	return s.verdictDB.Has(verdictKey(intentID, simulator))
}

func (s *intentState) PutVerdict(verdict *SimulationVerdict) error {
	bytes, err := Codec.Marshal(CodecVersion, verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict of %s: %w", verdict.Simulator, err)
	}
	return s.verdictDB.Put(verdictKey(verdict.IntentID, verdict.Simulator), bytes)
}

func (s *intentState) ClearVerdicts(intentID ids.ID) (int, error) {
	it := s.verdictDB.NewIteratorWithPrefix(intentID[:])
	var keys [][]byte
	for it.Next() {
		// the iterator may reuse its key buffer
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, fmt.Errorf("failed to iterate verdicts of intent %s: %w", intentID, err)
	}

	for _, key := range keys {
		if err := s.verdictDB.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete verdict of intent %s: %w", intentID, err)
		}
	}
	return len(keys), nil
}

func verdictKey(intentID ids.ID, simulator ids.ShortID) []byte {
	key := make([]byte, 0, len(intentID)+len(simulator))
	key = append(key, intentID[:]...)
	return append(key, simulator[:]...)
}
