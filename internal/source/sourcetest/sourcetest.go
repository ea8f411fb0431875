// Package sourcetest provides an in-memory source.Source and source.Ledger
// for tests.
package sourcetest

import (
	"context"
	"sync"

	"github.com/jensholdgaard/cloverville/internal/community"
	"github.com/jensholdgaard/cloverville/internal/source"
)

// Call names recorded by Fake.
const (
	Members       = "members"
	TradeOffers   = "trade"
	GreenActions  = "green"
	CommunalTasks = "communal"
	Settings      = "settings"
)

// Fake serves fixed data and records the order of calls. Errs maps a call
// name to the error that call returns.
type Fake struct {
	Directory community.Directory
	Offers    []community.TradeOffer
	Actions   []community.GreenAction
	Tasks     []community.CommunalTask
	Config    community.Settings
	Errs      map[string]error

	mu    sync.Mutex
	calls []string
}

// Sample returns a Fake with one item of every kind and one offer from an
// unknown member.
func Sample() *Fake {
	return &Fake{
		Directory: community.Directory{"m1": {ID: "m1", Name: "Alice", PersonalPoints: 40}},
		Offers: []community.TradeOffer{
			{Title: "Bike", Description: "Old bike", PerformerID: "m1", PointValue: 10},
			{Title: "Book", Description: "Novel", PerformerID: "m9", PointValue: 3},
		},
		Actions: []community.GreenAction{{Title: "Compost", Description: "Kitchen scraps", PointValue: 4}},
		Tasks:   []community.CommunalTask{{Title: "Paint fence", Description: "North side", Deadline: "2026-11-01", PointValue: 5}},
		Config:  community.Settings{CommunityPoints: 120, CommunityGoal: "New playground", TargetPoints: 500},
	}
}

// Calls returns the calls made so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.Errs[name]
}

func (f *Fake) Members(context.Context) (community.Directory, error) {
	if err := f.call(Members); err != nil {
		return nil, err
	}
	return f.Directory, nil
}

func (f *Fake) TradeOffers(context.Context) ([]community.TradeOffer, error) {
	if err := f.call(TradeOffers); err != nil {
		return nil, err
	}
	return f.Offers, nil
}

func (f *Fake) GreenActions(context.Context) ([]community.GreenAction, error) {
	if err := f.call(GreenActions); err != nil {
		return nil, err
	}
	return f.Actions, nil
}

func (f *Fake) CommunalTasks(context.Context) ([]community.CommunalTask, error) {
	if err := f.call(CommunalTasks); err != nil {
		return nil, err
	}
	return f.Tasks, nil
}

func (f *Fake) Settings(context.Context) (community.Settings, error) {
	if err := f.call(Settings); err != nil {
		return community.Settings{}, err
	}
	return f.Config, nil
}

// Ledger is an in-memory source.Ledger. Updates that fail leave State
// untouched.
type Ledger struct {
	mu      sync.Mutex
	state   *source.State
	updates int
}

// NewLedger returns a Ledger holding st.
func NewLedger(st *source.State) *Ledger {
	st.Normalize()
	return &Ledger{state: st}
}

// Update runs fn on a copy of the state and keeps the copy when fn
// succeeds.
func (l *Ledger) Update(_ context.Context, fn func(*source.State) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	l.state = next
	l.updates++
	return nil
}

// State returns a copy of the current state.
func (l *Ledger) State() *source.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Updates returns how many updates were stored.
func (l *Ledger) Updates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updates
}
