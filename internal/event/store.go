package event

import "context"

// Store persists and retrieves events.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an aggregate, oldest first.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type, oldest first.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}

// Discard is a Store that drops every event.
var Discard Store = discard{}

type discard struct{}

func (discard) Append(context.Context, ...Event) error            { return nil }
func (discard) Load(context.Context, string) ([]Event, error)     { return nil, nil }
func (discard) LoadByType(context.Context, Type) ([]Event, error) { return nil, nil }
