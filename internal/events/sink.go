package events

import (
	"context"
	"errors"
	"sync"
)

// Multi fans an event out to several sinks. Every sink sees the event even if
// an earlier one fails; the errors are joined.
type Multi []Sink

// Emit implements Sink
func (m Multi) Emit(ctx context.Context, event *RunEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, *RunEvent) error { return nil }

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []*RunEvent
}

// Emit implements Sink
func (r *Recorder) Emit(_ context.Context, event *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RunEvent(nil), r.events...)
}

// Types returns the recorded event types in order
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t EventType) []*RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*RunEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
