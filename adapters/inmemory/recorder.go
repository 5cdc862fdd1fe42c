package inmemory

import (
	"context"
	"maps"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
)

// Event is one event observed by a Recorder.
type Event struct {
	Subject string
	Body    []byte
	Header  map[string]string
}

// Recorder is a thread-safe in-memory implementation of cbus.EventSink.
// It records published events for testing and examples.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Ensure Recorder implements the contract.
var _ cbus.EventSink = (*Recorder)(nil)

func (r *Recorder) PublishEvent(ctx context.Context, subj string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.events = append(r.events, Event{Subject: subj, Body: slices.Clone(body), Header: maps.Clone(headers)})
	r.mu.Unlock()

	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}
