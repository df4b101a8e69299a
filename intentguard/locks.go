// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import "sync"

// lockTable hands out one mutex per key. Entries are dropped once no caller
// holds or waits on them.
type lockTable[K comparable] struct {
	lock  sync.Mutex
	locks map[K]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newLockTable[K comparable]() *lockTable[K] {
	return &lockTable[K]{locks: make(map[K]*refLock)}
}

// Lock blocks until [key] is held by the caller and returns the function that
// releases it.
func (t *lockTable[K]) Lock(key K) func() {
	t.lock.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &refLock{}
		t.locks[key] = l
	}
	l.refs++
	t.lock.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		t.lock.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.lock.Unlock()
	}
}

func (t *lockTable[K]) len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.locks)
}
