// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package memledger is an in-process execution environment. The service
// binary uses it in development mode and the protocol tests use it to mutate
// target state and inject call failures.
package memledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/intentguard/intentguard"
)

var (
	ErrCallFailed = errors.New("target call failed")

	_ intentguard.Ledger = (*Ledger)(nil)
)

// Call is one Invoke the ledger received.
type Call struct {
	Target  ids.ShortID
	Payload []byte
	Value   uint64
	Err     error
}

// Ledger keeps target states in memory. Every successful call bumps the
// target's nonce and credits it with the call's value.
type Ledger struct {
	lock    sync.Mutex
	height  uint64
	targets map[ids.ShortID]intentguard.TargetState
	failing map[ids.ShortID]error
	calls   []Call

	// OnInvoke, when set, runs before a call is applied. It must not block on
	// the ledger itself.
	OnInvoke func(ctx context.Context, target ids.ShortID, payload []byte, value uint64)
}

func New() *Ledger {
	return &Ledger{
		targets: make(map[ids.ShortID]intentguard.TargetState),
		failing: make(map[ids.ShortID]error),
	}
}

func (l *Ledger) Height(context.Context) (uint64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.height, nil
}

// Advance moves the chain forward by [blocks].
func (l *Ledger) Advance(blocks uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.height += blocks
}

func (l *Ledger) Observe(_ context.Context, target ids.ShortID) (intentguard.TargetState, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.targets[target], nil
}

// SetState overwrites the observable state of [target].
func (l *Ledger) SetState(target ids.ShortID, state intentguard.TargetState) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.targets[target] = state
}

// Deploy gives [target] code, so its code size and hash become observable.
func (l *Ledger) Deploy(target ids.ShortID, code []byte) {
	l.lock.Lock()
	defer l.lock.Unlock()
	state := l.targets[target]
	state.CodeSize = uint64(len(code))
	state.CodeHash = hashing.ComputeHash256Array(code)
	l.targets[target] = state
}

// Fail makes every call to [target] fail with [err]. A nil error clears it.
func (l *Ledger) Fail(target ids.ShortID, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if err == nil {
		delete(l.failing, target)
		return
	}
	l.failing[target] = err
}

func (l *Ledger) Invoke(ctx context.Context, target ids.ShortID, payload []byte, value uint64) error {
	if l.OnInvoke != nil {
		l.OnInvoke(ctx, target, payload, value)
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	call := Call{Target: target, Payload: payload, Value: value}
	if err, ok := l.failing[target]; ok {
		call.Err = fmt.Errorf("%w: %v", ErrCallFailed, err)
		l.calls = append(l.calls, call)
		return call.Err
	}

	state := l.targets[target]
	state.Nonce++
	state.Balance += value
	state.StorageRoot = hashing.ComputeHash256Array(append(state.StorageRoot[:], payload...))
	l.targets[target] = state
	l.calls = append(l.calls, call)
	return nil
}

// Calls returns every call received so far.
func (l *Ledger) Calls() []Call {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]Call(nil), l.calls...)
}
