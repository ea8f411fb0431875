package source

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/jensholdgaard/cloverville/internal/community"
)

// State is every resource of a source at one point in time.
type State struct {
	Members  community.Directory
	Offers   []community.TradeOffer
	Actions  []community.GreenAction
	Tasks    []community.CommunalTask
	Settings community.Settings
}

// Ledger changes community data. Update loads the current State, passes it
// to fn and stores whatever fn changed. When fn returns an error nothing is
// stored. Updates through one Ledger are serialized.
type Ledger interface {
	Update(ctx context.Context, fn func(*State) error) error
}

// Load reads every resource from src. The member directory is read first.
func Load(ctx context.Context, src Source) (*State, error) {
	members, err := src.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}
	offers, err := src.TradeOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading trade offers: %w", err)
	}
	actions, err := src.GreenActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading green actions: %w", err)
	}
	tasks, err := src.CommunalTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading communal tasks: %w", err)
	}
	settings, err := src.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	st := &State{
		Members:  members,
		Offers:   offers,
		Actions:  actions,
		Tasks:    tasks,
		Settings: settings,
	}
	st.Normalize()
	return st, nil
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := &State{
		Members:  maps.Clone(s.Members),
		Offers:   slices.Clone(s.Offers),
		Actions:  slices.Clone(s.Actions),
		Tasks:    slices.Clone(s.Tasks),
		Settings: s.Settings,
	}
	c.Normalize()
	return c
}

// Normalize replaces nil collections with empty ones, so a stored State
// always has every resource.
func (s *State) Normalize() {
	if s.Members == nil {
		s.Members = community.Directory{}
	}
	if s.Offers == nil {
		s.Offers = []community.TradeOffer{}
	}
	if s.Actions == nil {
		s.Actions = []community.GreenAction{}
	}
	if s.Tasks == nil {
		s.Tasks = []community.CommunalTask{}
	}
}
