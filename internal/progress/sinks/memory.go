package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/journal-crawler/internal/progress"
)

// MemorySink records events in memory. It doubles as a progress.Emitter so
// tests can pass it straight to pipeline components.
type MemorySink struct {
	mu     sync.Mutex
	events []progress.Event
	closed bool
}

// NewMemorySink returns an empty recorder.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit records a single event.
func (s *MemorySink) Emit(evt progress.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

// Consume records the batch.
func (s *MemorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	s.events = append(s.events, batch...)
	s.mu.Unlock()
	return nil
}

// Close marks the sink closed.
func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

// ByKind returns the recorded events of kind k.
func (s *MemorySink) ByKind(k progress.Kind) []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []progress.Event
	for _, evt := range s.events {
		if evt.Kind == k {
			out = append(out, evt)
		}
	}
	return out
}
