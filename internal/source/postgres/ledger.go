package postgres

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/cloverville/internal/community"
	"github.com/jensholdgaard/cloverville/internal/source"
)

// ledgerLock is the advisory lock key serializing ledger updates across
// processes sharing the database.
const ledgerLock = 0x636c6f76

// Ledger implements source.Ledger. Each update runs in one transaction.
type Ledger struct {
	db *sqlx.DB
}

// NewLedger returns a new Ledger.
func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Update(ctx context.Context, fn func(*source.State) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLock); err != nil {
		return fmt.Errorf("locking ledger: %w", err)
	}

	st, err := source.Load(ctx, &Source{q: tx})
	if err != nil {
		return err
	}
	next := st.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Normalize()

	if err := writeMembers(ctx, tx, st.Members, next.Members); err != nil {
		return err
	}
	if !slices.Equal(st.Offers, next.Offers) {
		if err := writeOffers(ctx, tx, next.Offers); err != nil {
			return err
		}
	}
	if !slices.Equal(st.Actions, next.Actions) {
		if err := writeActions(ctx, tx, next.Actions); err != nil {
			return err
		}
	}
	if !slices.Equal(st.Tasks, next.Tasks) {
		if err := writeTasks(ctx, tx, next.Tasks); err != nil {
			return err
		}
	}
	if st.Settings != next.Settings {
		if err := writeSettings(ctx, tx, next.Settings); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger update: %w", err)
	}
	return nil
}

func writeMembers(ctx context.Context, tx *sqlx.Tx, before, after community.Directory) error {
	for id := range before {
		if _, ok := after[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id); err != nil {
			return fmt.Errorf("deleting member %s: %w", id, err)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(after)) {
		m := after[id]
		if old, ok := before[id]; ok && old == m {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO members (id, name, personal_points, total_tasks_completed)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			     personal_points = EXCLUDED.personal_points,
			     total_tasks_completed = EXCLUDED.total_tasks_completed`,
			m.ID, m.Name, m.PersonalPoints, m.TotalTasksCompleted)
		if err != nil {
			return fmt.Errorf("writing member %s: %w", id, err)
		}
	}
	return nil
}

// prune deletes the rows of table whose id is not in ids.
func prune(ctx context.Context, tx *sqlx.Tx, table string, ids []string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE NOT (id = ANY($1))`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("pruning %s: %w", table, err)
	}
	return nil
}

func writeOffers(ctx context.Context, tx *sqlx.Tx, offers []community.TradeOffer) error {
	ids := make([]string, len(offers))
	for i := range offers {
		if offers[i].ID == "" {
			offers[i].ID = uuid.NewString()
		}
		ids[i] = offers[i].ID
	}
	if err := prune(ctx, tx, "trade_offers", ids); err != nil {
		return err
	}
	for i, o := range offers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trade_offers (id, position, title, description, performer_id, receiver_id, kind, point_value)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
			 ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position,
			     title = EXCLUDED.title, description = EXCLUDED.description,
			     performer_id = EXCLUDED.performer_id, receiver_id = EXCLUDED.receiver_id,
			     kind = EXCLUDED.kind, point_value = EXCLUDED.point_value`,
			o.ID, i, o.Title, o.Description, o.PerformerID, o.ReceiverID, string(o.Kind), o.PointValue)
		if err != nil {
			return fmt.Errorf("writing trade offer %s: %w", o.ID, err)
		}
	}
	return nil
}

func writeActions(ctx context.Context, tx *sqlx.Tx, actions []community.GreenAction) error {
	ids := make([]string, len(actions))
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = uuid.NewString()
		}
		ids[i] = actions[i].ID
	}
	if err := prune(ctx, tx, "green_actions", ids); err != nil {
		return err
	}
	for i, a := range actions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO green_actions (id, position, title, description, point_value, created_at)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::date)
			 ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position,
			     title = EXCLUDED.title, description = EXCLUDED.description,
			     point_value = EXCLUDED.point_value, created_at = EXCLUDED.created_at`,
			a.ID, i, a.Title, a.Description, a.PointValue, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("writing green action %s: %w", a.ID, err)
		}
	}
	return nil
}

func writeTasks(ctx context.Context, tx *sqlx.Tx, tasks []community.CommunalTask) error {
	ids := make([]string, len(tasks))
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.NewString()
		}
		ids[i] = tasks[i].ID
	}
	if err := prune(ctx, tx, "communal_tasks", ids); err != nil {
		return err
	}
	for i, c := range tasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO communal_tasks (id, position, title, description, deadline, performer_id, point_value)
			 VALUES ($1, $2, $3, $4, $5::date, NULLIF($6, ''), $7)
			 ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position,
			     title = EXCLUDED.title, description = EXCLUDED.description,
			     deadline = EXCLUDED.deadline, performer_id = EXCLUDED.performer_id,
			     point_value = EXCLUDED.point_value`,
			c.ID, i, c.Title, c.Description, c.Deadline, c.PerformerID, c.PointValue)
		if err != nil {
			return fmt.Errorf("writing communal task %s: %w", c.ID, err)
		}
	}
	return nil
}

func writeSettings(ctx context.Context, tx *sqlx.Tx, s community.Settings) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settings (id, community_points, community_goal, target_points, last_reset_date)
		 VALUES (1, $1, $2, $3, NULLIF($4, '')::date)
		 ON CONFLICT (id) DO UPDATE SET community_points = EXCLUDED.community_points,
		     community_goal = EXCLUDED.community_goal, target_points = EXCLUDED.target_points,
		     last_reset_date = EXCLUDED.last_reset_date`,
		s.CommunityPoints, s.CommunityGoal, s.TargetPoints, s.LastResetDate)
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
