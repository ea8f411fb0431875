package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/cloverville/internal/community"
	"github.com/jensholdgaard/cloverville/internal/source"
)

// Source implements source.Source with sqlx.
type Source struct {
	q sqlx.QueryerContext
}

// NewSource returns a new Source.
func NewSource(db *sqlx.DB) *Source {
	return &Source{q: db}
}

func (s *Source) Members(ctx context.Context) (community.Directory, error) {
	var members []community.Member
	err := sqlx.SelectContext(ctx, s.q, &members,
		`SELECT id, name, personal_points, total_tasks_completed FROM members`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing members: %w", source.ErrUnavailable, err)
	}
	dir := make(community.Directory, len(members))
	for _, m := range members {
		dir[m.ID] = m
	}
	return dir, nil
}

func (s *Source) TradeOffers(ctx context.Context) ([]community.TradeOffer, error) {
	offers := []community.TradeOffer{}
	err := sqlx.SelectContext(ctx, s.q, &offers,
		`SELECT id, title, description, COALESCE(performer_id, '') AS performer_id,
		        COALESCE(receiver_id, '') AS receiver_id, kind, point_value
		 FROM trade_offers ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing trade offers: %w", source.ErrUnavailable, err)
	}
	return offers, nil
}

func (s *Source) GreenActions(ctx context.Context) ([]community.GreenAction, error) {
	actions := []community.GreenAction{}
	err := sqlx.SelectContext(ctx, s.q, &actions,
		`SELECT id, title, description, point_value,
		        COALESCE(to_char(created_at, 'YYYY-MM-DD'), '') AS created_at
		 FROM green_actions ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing green actions: %w", source.ErrUnavailable, err)
	}
	return actions, nil
}

func (s *Source) CommunalTasks(ctx context.Context) ([]community.CommunalTask, error) {
	tasks := []community.CommunalTask{}
	err := sqlx.SelectContext(ctx, s.q, &tasks,
		`SELECT id, title, description, to_char(deadline, 'YYYY-MM-DD') AS deadline,
		        COALESCE(performer_id, '') AS performer_id, point_value
		 FROM communal_tasks ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing communal tasks: %w", source.ErrUnavailable, err)
	}
	return tasks, nil
}

func (s *Source) Settings(ctx context.Context) (community.Settings, error) {
	var st community.Settings
	err := sqlx.GetContext(ctx, s.q, &st,
		`SELECT community_points, community_goal, target_points,
		        COALESCE(to_char(last_reset_date, 'YYYY-MM-DD'), '') AS last_reset_date
		 FROM settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("%w: settings row missing", source.ErrUnavailable)
	}
	if err != nil {
		return st, fmt.Errorf("%w: getting settings: %w", source.ErrUnavailable, err)
	}
	return st, nil
}
