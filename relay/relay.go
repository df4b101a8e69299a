// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay contains the event sinks that forward protocol events to the
// notification relay.
package relay

import (
	"context"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/intentguard/intentguard"
)

var (
	_ intentguard.EventSink = (*LogSink)(nil)
	_ intentguard.EventSink = (*Recorder)(nil)
)

// LogSink writes every event to a log15 logger.
type LogSink struct {
	Log log.Logger
}

func (s *LogSink) Deliver(_ context.Context, event intentguard.Event) error {
	ctx := []interface{}{
		"eventID", event.EventID,
		"intentID", event.IntentID,
	}
	if event.Status != "" {
		ctx = append(ctx, "status", event.Status)
	}
	if event.Error != "" {
		ctx = append(ctx, "error", event.Error)
	}
	s.Log.Info(string(event.Kind), ctx...)
	return nil
}

// Recorder keeps every delivered event in memory.
type Recorder struct {
	lock   sync.Mutex
	events []intentguard.Event
}

func (r *Recorder) Deliver(_ context.Context, event intentguard.Event) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded events in delivery order.
func (r *Recorder) Events() []intentguard.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]intentguard.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in delivery order.
func (r *Recorder) Kinds() []intentguard.EventKind {
	events := r.Events()
	kinds := make([]intentguard.EventKind, len(events))
	for i, event := range events {
		kinds[i] = event.Kind
	}
	return kinds
}
