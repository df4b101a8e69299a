// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/ids"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	IntentSubmitted     EventKind = "IntentSubmitted"
	VerdictSubmitted    EventKind = "VerdictSubmitted"
	StateDriftDetected  EventKind = "StateDriftDetected"
	IntentApproved      EventKind = "IntentApproved"
	IntentBlocked       EventKind = "IntentBlocked"
	IntentExecuted      EventKind = "IntentExecuted"
	IntentCancelled     EventKind = "IntentCancelled"
	SimulatorRegistered EventKind = "SimulatorRegistered"
	SimulatorWithdrawn  EventKind = "SimulatorWithdrawn"
	SimulatorSlashed    EventKind = "SimulatorSlashed"
)

const (
	defaultRetryDelay    = 100 * time.Millisecond
	defaultMaxRetryDelay = 30 * time.Second
	// defaultCloseRetries bounds the extra attempts an undelivered event gets
	// once the dispatcher is closing.
	defaultCloseRetries = 2
)

// Event is a notification about a protocol state change. Fields that do not
// apply to a kind are left zero.
type Event struct {
	// EventID is unique per emitted event. Delivery is at-least-once, so
	// consumers deduplicate on it.
	EventID   string      `json:"eventID"`
	Kind      EventKind   `json:"kind"`
	Timestamp int64       `json:"timestamp"`
	IntentID  ids.ID      `json:"intentID"`
	Simulator ids.ShortID `json:"simulator"`
	Account   ids.ShortID `json:"account"`
	Status    string      `json:"status,omitempty"`

	Value        uint64 `json:"value,omitempty"`
	Amount       uint64 `json:"amount,omitempty"`
	RiskScore    uint64 `json:"riskScore,omitempty"`
	IsRisky      bool   `json:"isRisky,omitempty"`
	AvgRiskScore uint64 `json:"avgRiskScore,omitempty"`
	Snapshot     ids.ID `json:"snapshot"`
	Round        uint64 `json:"round,omitempty"`
	Succeeded    bool   `json:"succeeded,omitempty"`
	Error        string `json:"error,omitempty"`
}

// EventSink receives protocol events. Deliver may be retried, so it must be
// safe to receive the same event twice.
type EventSink interface {
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher delivers events to its sinks from a single goroutine in the order
// they were emitted. A failing delivery is retried with exponential backoff
// until it succeeds, and no later event is delivered before it. Emit never
// blocks.
type Dispatcher struct {
	log   log.Logger
	sinks []EventSink

	retryDelay    time.Duration
	maxRetryDelay time.Duration
	closeRetries  uint64

	ctx    context.Context
	cancel context.CancelFunc

	lock    sync.Mutex
	queue   []Event
	pending chan struct{}
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher starts a dispatcher delivering to [sinks].
func NewDispatcher(logger log.Logger, sinks ...EventSink) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:           logger,
		sinks:         sinks,
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		closeRetries:  defaultCloseRetries,
		ctx:           ctx,
		cancel:        cancel,
		pending:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Emit stamps [event] and queues it for delivery.
func (d *Dispatcher) Emit(event Event) {
	event.EventID = uuid.NewString()

	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		d.log.Warn("dropping event emitted after close", "kind", event.Kind, "intentID", event.IntentID)
		return
	}
	d.queue = append(d.queue, event)
	d.lock.Unlock()

	select {
	case d.pending <- struct{}{}:
	default:
	}
}

// Close stops retrying without limit, attempts every queued event a bounded
// number of times and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return
	}
	d.closed = true
	d.lock.Unlock()

	d.cancel()
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.pending:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.lock.Lock()
		queue := d.queue
		d.queue = nil
		d.lock.Unlock()

		if len(queue) == 0 {
			return
		}
		for _, event := range queue {
			for _, sink := range d.sinks {
				d.deliver(sink, event)
			}
		}
	}
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryDelay
	b.MaxInterval = d.maxRetryDelay
	b.MaxElapsedTime = 0
	return b
}

func (d *Dispatcher) deliver(sink EventSink, event Event) {
	send := func() error {
		return sink.Deliver(context.Background(), event)
	}
	notify := func(err error, next time.Duration) {
		d.log.Debug("event delivery failed",
			"kind", event.Kind,
			"eventID", event.EventID,
			"retryIn", next,
			"err", err,
		)
	}

	var err error
	if d.ctx.Err() == nil {
		if err = backoff.RetryNotify(send, backoff.WithContext(d.newBackOff(), d.ctx), notify); err == nil {
			return
		}
	}
	// closing
	if err = backoff.RetryNotify(send, backoff.WithMaxRetries(d.newBackOff(), d.closeRetries), notify); err == nil {
		return
	}
	d.log.Error("dropping undelivered event on close",
		"kind", event.Kind,
		"eventID", event.EventID,
		"intentID", event.IntentID,
		"err", err,
	)
}
