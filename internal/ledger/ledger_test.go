package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/community"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/ledger"
	"github.com/jensholdgaard/cloverville/internal/source"
	"github.com/jensholdgaard/cloverville/internal/source/sourcetest"
)

var now = time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

func newState() *source.State {
	return &source.State{
		Members: community.Directory{
			"alice": {ID: "alice", Name: "Alice", PersonalPoints: 20, TotalTasksCompleted: 1},
			"bob":   {ID: "bob", Name: "Bob", PersonalPoints: 5},
		},
		Offers: []community.TradeOffer{
			{ID: "t1", Title: "Mow lawn", Description: "Front yard", PerformerID: "alice", Kind: community.TradeTask, PointValue: 10},
			{ID: "t2", Title: "Bike", Description: "Old bike", PerformerID: "alice", PointValue: 4},
			{ID: "t3", Title: "Books", Description: "Novels", PerformerID: "bob", ReceiverID: "alice", Kind: community.TradeGoods, PointValue: 3},
			{ID: "t4", Title: "Half", Description: "Odd", PerformerID: "alice", Kind: community.TradeTask, PointValue: 2.5},
			{ID: "t5", Title: "Piano", Description: "Upright", PerformerID: "alice", Kind: community.TradeGoods, PointValue: 50},
		},
		Actions: []community.GreenAction{
			{ID: "g1", Title: "Compost", Description: "Scraps", PointValue: 4, CreatedAt: "2026-10-01"},
			{ID: "g2", Title: "Bike to work", Description: "All week", PointValue: 2, CreatedAt: "2026-10-15"},
		},
		Tasks: []community.CommunalTask{
			{ID: "c1", Title: "Paint fence", Description: "North side", Deadline: "2026-11-01", PerformerID: "bob", PointValue: 5},
			{ID: "c2", Title: "Sweep", Description: "Square", Deadline: "2026-11-02", PointValue: 2},
		},
		Settings: community.Settings{CommunityPoints: 120, CommunityGoal: "Playground", TargetPoints: 500, LastResetDate: "2026-10-12"},
	}
}

func newManager(t *testing.T) (*ledger.Manager, *sourcetest.Ledger, *event.Memory) {
	t.Helper()
	l := sourcetest.NewLedger(newState())
	events := event.NewMemory()
	m := ledger.NewManager(l, events, slog.Default(), noop.NewTracerProvider(), clock.Mock{T: now})
	return m, l, events
}

func eventTypes(events []event.Event) []event.Type {
	var types []event.Type
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestManager_CompleteTrade(t *testing.T) {
	tests := []struct {
		name         string
		offerID      string
		receiverID   string
		wantFrom     string
		wantTo       string
		wantPoints   int
		wantBalances map[string]int
		wantTasks    map[string]int
		wantEvents   []event.Type
	}{
		{
			name:         "task is paid by the performer",
			offerID:      "t1",
			receiverID:   "bob",
			wantFrom:     "alice",
			wantTo:       "bob",
			wantPoints:   10,
			wantBalances: map[string]int{"alice": 10, "bob": 15},
			wantTasks:    map[string]int{"alice": 1, "bob": 1},
			wantEvents:   []event.Type{event.ActivityCompleted, event.PointsDeducted, event.PointsAwarded},
		},
		{
			name:         "goods without a type are paid by the receiver",
			offerID:      "t2",
			receiverID:   "bob",
			wantFrom:     "bob",
			wantTo:       "alice",
			wantPoints:   4,
			wantBalances: map[string]int{"alice": 24, "bob": 1},
			wantTasks:    map[string]int{"alice": 1, "bob": 0},
			wantEvents:   []event.Type{event.ActivityCompleted, event.PointsDeducted, event.PointsAwarded},
		},
		{
			name:         "receiver taken from the offer",
			offerID:      "t3",
			wantFrom:     "alice",
			wantTo:       "bob",
			wantPoints:   3,
			wantBalances: map[string]int{"alice": 17, "bob": 8},
			wantTasks:    map[string]int{"alice": 1, "bob": 0},
			wantEvents:   []event.Type{event.ActivityCompleted, event.PointsDeducted, event.PointsAwarded},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, l, events := newManager(t)

			c, err := m.CompleteTrade(context.Background(), tt.offerID, tt.receiverID)
			if err != nil {
				t.Fatalf("CompleteTrade() error = %v", err)
			}
			if c.From != tt.wantFrom || c.To != tt.wantTo || c.Points != tt.wantPoints {
				t.Errorf("CompleteTrade() = %+v, want from %s to %s points %d", c, tt.wantFrom, tt.wantTo, tt.wantPoints)
			}

			st := l.State()
			for id, want := range tt.wantBalances {
				if got := st.Members[id].PersonalPoints; got != want {
					t.Errorf("%s personal points = %d, want %d", id, got, want)
				}
			}
			for id, want := range tt.wantTasks {
				if got := st.Members[id].TotalTasksCompleted; got != want {
					t.Errorf("%s tasks completed = %d, want %d", id, got, want)
				}
			}
			for _, o := range st.Offers {
				if o.ID == tt.offerID {
					t.Errorf("offer %s still listed after completion", tt.offerID)
				}
			}
			if diff := cmp.Diff(tt.wantEvents, eventTypes(events.All())); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManager_CompleteTrade_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		offerID    string
		receiverID string
		wantErr    error
	}{
		{name: "insufficient points", offerID: "t5", receiverID: "bob", wantErr: ledger.ErrInsufficientPoints},
		{name: "same performer and receiver", offerID: "t1", receiverID: "alice", wantErr: ledger.ErrSameMember},
		{name: "no receiver", offerID: "t1", wantErr: ledger.ErrMissingParticipant},
		{name: "unknown receiver", offerID: "t1", receiverID: "carol", wantErr: ledger.ErrUnknownMember},
		{name: "unknown offer", offerID: "nope", receiverID: "bob", wantErr: ledger.ErrNotFound},
		{name: "fractional points", offerID: "t4", receiverID: "bob", wantErr: ledger.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, l, events := newManager(t)

			_, err := m.CompleteTrade(context.Background(), tt.offerID, tt.receiverID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CompleteTrade() error = %v, want %v", err, tt.wantErr)
			}
			if l.Updates() != 0 {
				t.Errorf("ledger updates = %d, want 0", l.Updates())
			}
			if diff := cmp.Diff(newState(), l.State()); diff != "" {
				t.Errorf("state changed (-want +got):\n%s", diff)
			}
			if got := events.All(); len(got) != 0 {
				t.Errorf("events = %v, want none", eventTypes(got))
			}
		})
	}
}

func TestManager_CompleteTrade_EventPayloads(t *testing.T) {
	m, _, events := newManager(t)
	if _, err := m.CompleteTrade(context.Background(), "t1", "bob"); err != nil {
		t.Fatalf("CompleteTrade() error = %v", err)
	}

	deducted, err := events.LoadByType(context.Background(), event.PointsDeducted)
	if err != nil || len(deducted) != 1 {
		t.Fatalf("LoadByType(PointsDeducted) = %v, %v", deducted, err)
	}
	if deducted[0].AggregateID != "alice" {
		t.Errorf("deduction aggregate = %q, want alice", deducted[0].AggregateID)
	}
	var data event.PointsChangeData
	if err := json.Unmarshal(deducted[0].Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	want := event.PointsChangeData{MemberID: "alice", Amount: -10, Balance: 10, Reason: "Mow lawn"}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	completed, err := events.Load(context.Background(), "t1")
	if err != nil || len(completed) != 1 {
		t.Fatalf("Load(t1) = %v, %v", completed, err)
	}
	var activity event.ActivityCompletedData
	if err := json.Unmarshal(completed[0].Data, &activity); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	wantActivity := event.ActivityCompletedData{Kind: ledger.KindTradeTask, Title: "Mow lawn", From: "alice", To: "bob", Points: 10}
	if diff := cmp.Diff(wantActivity, activity); diff != "" {
		t.Errorf("activity payload mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_CompleteCommunal(t *testing.T) {
	t.Run("performer from the task", func(t *testing.T) {
		m, l, events := newManager(t)

		c, err := m.CompleteCommunal(context.Background(), "c1", "")
		if err != nil {
			t.Fatalf("CompleteCommunal() error = %v", err)
		}
		if c.To != "bob" || c.From != "" || c.Points != 5 {
			t.Errorf("CompleteCommunal() = %+v", c)
		}
		st := l.State()
		bob := st.Members["bob"]
		if bob.PersonalPoints != 10 || bob.TotalTasksCompleted != 1 {
			t.Errorf("bob = %+v, want 10 points and 1 task", bob)
		}
		if len(st.Tasks) != 1 || st.Tasks[0].ID != "c2" {
			t.Errorf("tasks = %+v, want only c2", st.Tasks)
		}
		want := []event.Type{event.ActivityCompleted, event.PointsAwarded}
		if diff := cmp.Diff(want, eventTypes(events.All())); diff != "" {
			t.Errorf("events mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("explicit performer", func(t *testing.T) {
		m, l, _ := newManager(t)
		if _, err := m.CompleteCommunal(context.Background(), "c2", "alice"); err != nil {
			t.Fatalf("CompleteCommunal() error = %v", err)
		}
		if got := l.State().Members["alice"].PersonalPoints; got != 22 {
			t.Errorf("alice personal points = %d, want 22", got)
		}
	})

	t.Run("no performer", func(t *testing.T) {
		m, l, _ := newManager(t)
		_, err := m.CompleteCommunal(context.Background(), "c2", "")
		if !errors.Is(err, ledger.ErrMissingParticipant) {
			t.Fatalf("CompleteCommunal() error = %v, want ErrMissingParticipant", err)
		}
		if l.Updates() != 0 {
			t.Errorf("ledger updates = %d, want 0", l.Updates())
		}
	})
}

func TestManager_AddGreenAction(t *testing.T) {
	m, l, events := newManager(t)

	action, settings, err := m.AddGreenAction(context.Background(), "Rain barrel", "Installed one", 6)
	if err != nil {
		t.Fatalf("AddGreenAction() error = %v", err)
	}
	if action.ID == "" {
		t.Error("action ID is empty")
	}
	if action.CreatedAt != "2026-10-19" {
		t.Errorf("CreatedAt = %q, want 2026-10-19", action.CreatedAt)
	}
	if settings.CommunityPoints != 126 {
		t.Errorf("CommunityPoints = %v, want 126", settings.CommunityPoints)
	}

	st := l.State()
	if st.Settings.CommunityPoints != 126 {
		t.Errorf("stored CommunityPoints = %v, want 126", st.Settings.CommunityPoints)
	}
	if len(st.Actions) != 3 || st.Actions[2].ID != action.ID {
		t.Errorf("actions = %+v, want the new action appended", st.Actions)
	}

	added, _ := events.LoadByType(context.Background(), event.CommunityPointsAdded)
	if len(added) != 1 || added[0].AggregateID != ledger.CommunityAggregate {
		t.Fatalf("CommunityPointsAdded events = %+v", added)
	}
	var data event.CommunityPointsAddedData
	if err := json.Unmarshal(added[0].Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.Points != 6 || data.Total != 126 {
		t.Errorf("payload = %+v, want 6 points and total 126", data)
	}
}

func TestManager_AddGreenAction_Invalid(t *testing.T) {
	long := string(make([]rune, 51))
	tests := []struct {
		name        string
		title       string
		description string
		points      float64
	}{
		{name: "blank title", title: "  ", description: "x", points: 1},
		{name: "blank description", title: "x", description: "", points: 1},
		{name: "long title", title: long, description: "x", points: 1},
		{name: "negative points", title: "x", description: "x", points: -1},
		{name: "fractional points", title: "x", description: "x", points: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, l, _ := newManager(t)
			_, _, err := m.AddGreenAction(context.Background(), tt.title, tt.description, tt.points)
			if !errors.Is(err, ledger.ErrInvalid) {
				t.Fatalf("AddGreenAction() error = %v, want ErrInvalid", err)
			}
			if got := l.State().Settings.CommunityPoints; got != 120 {
				t.Errorf("CommunityPoints = %v, want 120", got)
			}
		})
	}
}

func TestManager_WeeklyGreenReset(t *testing.T) {
	t.Run("due", func(t *testing.T) {
		m, l, events := newManager(t)

		removed, ran, err := m.WeeklyGreenReset(context.Background(), false)
		if err != nil {
			t.Fatalf("WeeklyGreenReset() error = %v", err)
		}
		if !ran || removed != 1 {
			t.Errorf("WeeklyGreenReset() = %d, %v, want 1, true", removed, ran)
		}
		st := l.State()
		if len(st.Actions) != 1 || st.Actions[0].ID != "g2" {
			t.Errorf("actions = %+v, want only g2", st.Actions)
		}
		if st.Settings.LastResetDate != "2026-10-19" {
			t.Errorf("LastResetDate = %q, want 2026-10-19", st.Settings.LastResetDate)
		}
		if got := eventTypes(events.All()); len(got) != 1 || got[0] != event.GreenActionsReset {
			t.Errorf("events = %v, want one green reset", got)
		}
	})

	t.Run("not due", func(t *testing.T) {
		st := newState()
		st.Settings.LastResetDate = "2026-10-15"
		l := sourcetest.NewLedger(st)
		events := event.NewMemory()
		m := ledger.NewManager(l, events, slog.Default(), noop.NewTracerProvider(), clock.Mock{T: now})

		removed, ran, err := m.WeeklyGreenReset(context.Background(), false)
		if err != nil {
			t.Fatalf("WeeklyGreenReset() error = %v", err)
		}
		if ran || removed != 0 {
			t.Errorf("WeeklyGreenReset() = %d, %v, want 0, false", removed, ran)
		}
		if got := len(l.State().Actions); got != 2 {
			t.Errorf("actions = %d, want 2", got)
		}
		if got := events.All(); len(got) != 0 {
			t.Errorf("events = %v, want none", eventTypes(got))
		}

		removed, ran, err = m.WeeklyGreenReset(context.Background(), true)
		if err != nil || !ran || removed != 1 {
			t.Errorf("forced WeeklyGreenReset() = %d, %v, %v, want 1, true, nil", removed, ran, err)
		}
	})
}

func TestResetDue(t *testing.T) {
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		last string
		want bool
	}{
		{last: "", want: true},
		{last: "2026-10-12", want: true},
		{last: "2026-10-13", want: false},
		{last: "garbage", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.last, func(t *testing.T) {
			got := ledger.ResetDue(community.Settings{LastResetDate: tt.last}, today)
			if got != tt.want {
				t.Errorf("ResetDue(%q) = %v, want %v", tt.last, got, tt.want)
			}
		})
	}
}
