package source

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/cloverville/internal/community"
)

// Fetcher reads a named resource. Implementations wrap ErrUnavailable when
// the resource cannot be read.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, name string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, name string) ([]byte, error) { return f(ctx, name) }

// JSON is a Source reading the site's JSON files through a Fetcher and
// validating each against its contract.
type JSON struct {
	fetch Fetcher
}

// NewJSON returns a JSON source.
func NewJSON(f Fetcher) *JSON {
	return &JSON{fetch: f}
}

func (s *JSON) Members(ctx context.Context) (community.Directory, error) {
	return load(ctx, s.fetch, MembersResource, community.DecodeDirectory)
}

func (s *JSON) TradeOffers(ctx context.Context) ([]community.TradeOffer, error) {
	return load(ctx, s.fetch, TradeOffersResource, community.DecodeTradeOffers)
}

func (s *JSON) GreenActions(ctx context.Context) ([]community.GreenAction, error) {
	return load(ctx, s.fetch, GreenActionsResource, community.DecodeGreenActions)
}

func (s *JSON) CommunalTasks(ctx context.Context) ([]community.CommunalTask, error) {
	return load(ctx, s.fetch, CommunalTasksResource, community.DecodeCommunalTasks)
}

func (s *JSON) Settings(ctx context.Context) (community.Settings, error) {
	return load(ctx, s.fetch, SettingsResource, community.DecodeSettings)
}

func load[T any](ctx context.Context, f Fetcher, name string, decode func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := f.Fetch(ctx, name)
	if err != nil {
		return zero, fmt.Errorf("fetching %s: %w", name, err)
	}
	v, err := decode(data)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", name, err)
	}
	return v, nil
}
