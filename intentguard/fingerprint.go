// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"context"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const fingerprintSize = hashing.AddrLen + 3*wrappers.LongLen + 2*hashing.HashLen

var _ Fingerprinter = (*LedgerFingerprinter)(nil)

// TargetState is the externally observable state of a target that the
// fingerprint covers.
type TargetState struct {
	Balance     uint64 `json:"balance"`
	Nonce       uint64 `json:"nonce"`
	CodeSize    uint64 `json:"codeSize"`
	CodeHash    ids.ID `json:"codeHash"`
	StorageRoot ids.ID `json:"storageRoot"`
}

// Ledger is the execution environment intents are gated in front of.
type Ledger interface {
	// Height returns the current chain height, used as the intent id nonce.
	Height(ctx context.Context) (uint64, error)
	// Observe returns the current observable state of [target].
	Observe(ctx context.Context, target ids.ShortID) (TargetState, error)
	// Invoke performs the call an intent describes. It is called at most once
	// per intent and never retried.
	Invoke(ctx context.Context, target ids.ShortID, payload []byte, value uint64) error
}

// Fingerprinter produces a compact digest of a target's observable state.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, target ids.ShortID) (ids.ID, error)
}

// LedgerFingerprinter fingerprints targets from the state a Ledger reports.
// It only samples balance, nonce, code and storage root, so drift that leaves
// all of them unchanged goes unnoticed.
type LedgerFingerprinter struct {
	Ledger Ledger
}

func (f *LedgerFingerprinter) Fingerprint(ctx context.Context, target ids.ShortID) (ids.ID, error) {
	state, err := f.Ledger.Observe(ctx, target)
	if err != nil {
		return ids.Empty, fmt.Errorf("couldn't observe target %s: %w", target, err)
	}
	return FingerprintState(target, state)
}

// FingerprintState hashes [state] together with the address it belongs to.
func FingerprintState(target ids.ShortID, state TargetState) (ids.ID, error) {
	p := wrappers.Packer{MaxSize: fingerprintSize}
	p.PackFixedBytes(target[:])
	p.PackLong(state.Balance)
	p.PackLong(state.Nonce)
	p.PackLong(state.CodeSize)
	p.PackFixedBytes(state.CodeHash[:])
	p.PackFixedBytes(state.StorageRoot[:])
	if p.Errored() {
		return ids.Empty, fmt.Errorf("couldn't pack target state: %w", p.Err)
	}
	return hashing.ComputeHash256Array(p.Bytes), nil
}
