package event

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It keeps events in append order and is
// safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Load(_ context.Context, aggregateID string) ([]Event, error) {
	return m.filter(func(e Event) bool { return e.AggregateID == aggregateID }), nil
}

func (m *Memory) LoadByType(_ context.Context, eventType Type) ([]Event, error) {
	return m.filter(func(e Event) bool { return e.Type == eventType }), nil
}

// All returns every event appended so far.
func (m *Memory) All() []Event {
	return m.filter(func(Event) bool { return true })
}

func (m *Memory) filter(keep func(Event) bool) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Event
	for _, e := range m.events {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}
