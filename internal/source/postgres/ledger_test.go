package postgres_test

import (
	"context"
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
	"github.com/jensholdgaard/cloverville/internal/source/postgres"
)

func seedLedger(t *testing.T) (*postgres.Source, *postgres.Ledger) {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	db.MustExecContext(ctx, `INSERT INTO members (id, name, personal_points, total_tasks_completed)
		VALUES ('alice', 'Alice', 20, 0), ('bob', 'Bob', 5, 0)`)
	db.MustExecContext(ctx, `INSERT INTO trade_offers (id, position, title, description, performer_id, kind, point_value)
		VALUES ('t1', 1, 'Mow lawn', 'Front yard', 'alice', 'TRADE_TASK', 10),
		       ('t2', 2, 'Bike', 'Old bike', 'alice', 'TRADE_GOODS', 50)`)
	db.MustExecContext(ctx, `INSERT INTO green_actions (id, position, title, description, point_value, created_at)
		VALUES ('g1', 1, 'Compost', 'Scraps', 4, '2026-10-01')`)
	db.MustExecContext(ctx, `INSERT INTO communal_tasks (id, position, title, description, deadline, performer_id, point_value)
		VALUES ('c1', 1, 'Paint fence', 'North side', '2026-11-01', 'bob', 5)`)
	db.MustExecContext(ctx, `INSERT INTO settings (id, community_points, community_goal, target_points, last_reset_date)
		VALUES (1, 120, 'Playground', 500, '2026-10-12')`)

	return postgres.NewSource(db), postgres.NewLedger(db)
}

func TestLedger_Manager(t *testing.T) {
	src, l := seedLedger(t)
	ctx := context.Background()
	m := ledger.NewManager(l, event.NewMemory(), slog.Default(), noop.NewTracerProvider(),
		clock.Mock{T: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)})

	if _, err := m.CompleteTrade(ctx, "t1", "bob"); err != nil {
		t.Fatalf("CompleteTrade() error = %v", err)
	}
	if _, err := m.CompleteCommunal(ctx, "c1", ""); err != nil {
		t.Fatalf("CompleteCommunal() error = %v", err)
	}
	action, _, err := m.AddGreenAction(ctx, "Rain barrel", "Installed one", 6)
	if err != nil {
		t.Fatalf("AddGreenAction() error = %v", err)
	}
	if _, _, err := m.WeeklyGreenReset(ctx, false); err != nil {
		t.Fatalf("WeeklyGreenReset() error = %v", err)
	}

	st, err := source.Load(ctx, src)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	wantMembers := community.Directory{
		"alice": {ID: "alice", Name: "Alice", PersonalPoints: 10},
		"bob":   {ID: "bob", Name: "Bob", PersonalPoints: 20, TotalTasksCompleted: 2},
	}
	if diff := cmp.Diff(wantMembers, st.Members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
	wantOffers := []community.TradeOffer{
		{ID: "t2", Title: "Bike", Description: "Old bike", PerformerID: "alice", Kind: community.TradeGoods, PointValue: 50},
	}
	if diff := cmp.Diff(wantOffers, st.Offers); diff != "" {
		t.Errorf("offers mismatch (-want +got):\n%s", diff)
	}
	if len(st.Tasks) != 0 {
		t.Errorf("tasks = %+v, want none", st.Tasks)
	}
	wantActions := []community.GreenAction{
		{ID: action.ID, Title: "Rain barrel", Description: "Installed one", PointValue: 6, CreatedAt: "2026-10-19"},
	}
	if diff := cmp.Diff(wantActions, st.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	wantSettings := community.Settings{CommunityPoints: 126, CommunityGoal: "Playground", TargetPoints: 500, LastResetDate: "2026-10-19"}
	if st.Settings != wantSettings {
		t.Errorf("settings = %+v, want %+v", st.Settings, wantSettings)
	}
}

func TestLedger_RollsBack(t *testing.T) {
	src, l := seedLedger(t)
	ctx := context.Background()

	errRejected := errors.New("rejected")
	err := l.Update(ctx, func(st *source.State) error {
		delete(st.Members, "alice")
		st.Offers = nil
		return errRejected
	})
	if !errors.Is(err, errRejected) {
		t.Fatalf("Update() error = %v, want %v", err, errRejected)
	}

	st, err := source.Load(ctx, src)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := st.Members["alice"]; !ok {
		t.Error("alice deleted by a failed update")
	}
	if len(st.Offers) != 2 {
		t.Errorf("offers = %d, want 2", len(st.Offers))
	}
}
