// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/ids"
)

var errSinkDown = errors.New("sink down")

type flakySink struct {
	lock     sync.Mutex
	failures int
	calls    int
	events   []Event
}

func (s *flakySink) Deliver(_ context.Context, event Event) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errSinkDown
	}
	s.events = append(s.events, event)
	return nil
}

func newTestDispatcher(sinks ...EventSink) *Dispatcher {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	d := NewDispatcher(logger, sinks...)
	d.retryDelay = time.Millisecond
	return d
}

func TestDispatcherPreservesOrder(t *testing.T) {
	assert := assert.New(t)
	sink := &flakySink{}
	d := newTestDispatcher(sink)

	for i := uint64(0); i < 100; i++ {
		d.Emit(Event{Kind: VerdictSubmitted, IntentID: ids.ID{1}, Round: i})
	}
	d.Close()

	assert.Len(sink.events, 100)
	seen := make(map[string]bool)
	for i, event := range sink.events {
		assert.Equal(uint64(i), event.Round)
		assert.NotEmpty(event.EventID)
		assert.False(seen[event.EventID])
		seen[event.EventID] = true
	}
}

func TestDispatcherRetries(t *testing.T) {
	assert := assert.New(t)
	sink := &flakySink{failures: 2}
	d := newTestDispatcher(sink)

	d.Emit(Event{Kind: IntentSubmitted})
	d.Close()

	assert.Equal(3, sink.calls)
	assert.Len(sink.events, 1)
}

func (s *flakySink) delivered() []EventKind {
	s.lock.Lock()
	defer s.lock.Unlock()
	kinds := make([]EventKind, len(s.events))
	for i, event := range s.events {
		kinds[i] = event.Kind
	}
	return kinds
}

func TestDispatcherSurvivesOutage(t *testing.T) {
	assert := assert.New(t)
	sink := &flakySink{failures: 5}
	d := newTestDispatcher(sink)

	d.Emit(Event{Kind: IntentApproved, IntentID: ids.ID{1}})
	d.Emit(Event{Kind: IntentExecuted, IntentID: ids.ID{1}})

	assert.Eventually(func() bool {
		return len(sink.delivered()) == 2
	}, 5*time.Second, time.Millisecond)
	d.Close()

	assert.Equal([]EventKind{IntentApproved, IntentExecuted}, sink.delivered())
	assert.Equal(7, sink.calls)
}

func TestDispatcherCloseBoundsRetries(t *testing.T) {
	assert := assert.New(t)
	broken := &flakySink{failures: 1_000}
	healthy := &flakySink{}
	d := newTestDispatcher(broken, healthy)

	d.Emit(Event{Kind: IntentSubmitted})
	d.Emit(Event{Kind: IntentCancelled})
	d.Close()

	assert.Empty(broken.events)
	assert.GreaterOrEqual(broken.calls, 2*int(1+defaultCloseRetries))
	assert.Equal([]EventKind{IntentSubmitted, IntentCancelled}, healthy.delivered())
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	assert := assert.New(t)
	sink := &flakySink{}
	d := newTestDispatcher(sink)
	d.Close()
	d.Close()

	d.Emit(Event{Kind: IntentSubmitted})
	assert.Zero(sink.calls)
}
