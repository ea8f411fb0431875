// Package source acquires the community data the site renders.
package source

import (
	"context"
	"errors"

	"github.com/jensholdgaard/cloverville/internal/community"
)

// ErrUnavailable is returned when a resource cannot be read at all, as
// opposed to being read and found malformed (community.ErrMalformed).
var ErrUnavailable = errors.New("resource unavailable")

// Source provides the data for every page section.
type Source interface {
	Members(ctx context.Context) (community.Directory, error)
	TradeOffers(ctx context.Context) ([]community.TradeOffer, error)
	GreenActions(ctx context.Context) ([]community.GreenAction, error)
	CommunalTasks(ctx context.Context) ([]community.CommunalTask, error)
	Settings(ctx context.Context) (community.Settings, error)
}

// Resource paths, relative to the site root, as the pages reference them.
const (
	MembersResource       = "json/members.json"
	TradeOffersResource   = "json/trade.json"
	GreenActionsResource  = "json/green.json"
	CommunalTasksResource = "json/communal.json"
	SettingsResource      = "json/settings.json"
)

// Resources lists every resource path in load order.
var Resources = []string{
	MembersResource,
	TradeOffersResource,
	GreenActionsResource,
	CommunalTasksResource,
	SettingsResource,
}
