// Package ledger moves points between members and the community pool when
// activities are completed or recorded.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/community"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/source"
)

var (
	ErrNotFound           = errors.New("activity not found")
	ErrUnknownMember      = errors.New("unknown member")
	ErrSameMember         = errors.New("trade participants cannot be the same member")
	ErrMissingParticipant = errors.New("missing participant")
	ErrInsufficientPoints = errors.New("not enough points")
	ErrInvalid            = errors.New("invalid activity")
)

// Kind of a completed activity.
const (
	KindTradeTask  = string(community.TradeTask)
	KindTradeGoods = string(community.TradeGoods)
	KindCommunal   = "COMMUNAL"
	KindGreen      = "GREEN"
)

const (
	titleMax       = 50
	descriptionMax = 300
	resetEvery     = 7 * 24 * time.Hour

	// CommunityAggregate is the aggregate of community pool events.
	CommunityAggregate = "community"
	// GreenAggregate is the aggregate of green reset events.
	GreenAggregate = "green"
)

// Completion describes one completed activity. From is empty when nobody
// pays.
type Completion struct {
	ActivityID string
	Kind       string
	Title      string
	From       string
	To         string
	Points     int
	// Balances after the transfer, by member ID.
	Balances map[string]int
}

// Manager applies activities to a Ledger.
type Manager struct {
	ledger source.Ledger
	events event.Store
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

// NewManager returns a new Manager.
func NewManager(l source.Ledger, events event.Store, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		ledger: l,
		events: events,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/cloverville/internal/ledger"),
		clock:  clk,
	}
}

// CompleteTrade completes a trade offer with the given receiver, or with
// the receiver already on the offer when receiverID is empty. For a task
// the performer pays the receiver, who is credited with a task; for goods
// the receiver pays the performer. The payer must hold enough points. The
// offer is removed afterwards.
func (m *Manager) CompleteTrade(ctx context.Context, offerID, receiverID string) (Completion, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CompleteTrade",
		trace.WithAttributes(
			attribute.String("offer_id", offerID),
			attribute.String("receiver_id", receiverID),
		),
	)
	defer span.End()

	var c Completion
	err := m.ledger.Update(ctx, func(st *source.State) error {
		i := slices.IndexFunc(st.Offers, func(o community.TradeOffer) bool { return o.ID == offerID })
		if i < 0 {
			return fmt.Errorf("%w: trade offer %q", ErrNotFound, offerID)
		}
		offer := st.Offers[i]

		if receiverID == "" {
			receiverID = offer.ReceiverID
		}
		if offer.PerformerID == "" || receiverID == "" {
			return fmt.Errorf("%w: a trade needs a performer and a receiver", ErrMissingParticipant)
		}
		if offer.PerformerID == receiverID {
			return ErrSameMember
		}
		performer, err := member(st, offer.PerformerID)
		if err != nil {
			return err
		}
		receiver, err := member(st, receiverID)
		if err != nil {
			return err
		}
		points, err := wholePoints(offer.PointValue)
		if err != nil {
			return err
		}

		kind := offer.TradeKind()
		var payer, payee *community.Member
		switch kind {
		case community.TradeTask:
			payer, payee = &performer, &receiver
			receiver.TotalTasksCompleted++
		case community.TradeGoods:
			payer, payee = &receiver, &performer
		default:
			return fmt.Errorf("%w: unknown trade type %q", ErrInvalid, kind)
		}
		if payer.PersonalPoints < points {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientPoints, payer.Name, payer.PersonalPoints, points)
		}
		payer.PersonalPoints -= points
		payee.PersonalPoints += points

		st.Members[performer.ID] = performer
		st.Members[receiver.ID] = receiver
		st.Offers = slices.Delete(st.Offers, i, i+1)

		c = Completion{
			ActivityID: offer.ID,
			Kind:       string(kind),
			Title:      offer.Title,
			From:       payer.ID,
			To:         payee.ID,
			Points:     points,
			Balances: map[string]int{
				payer.ID: payer.PersonalPoints,
				payee.ID: payee.PersonalPoints,
			},
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, fmt.Errorf("completing trade: %w", err)
	}

	m.recordCompletion(ctx, c)
	return c, nil
}

// CompleteCommunal completes a communal task. The performer, given or
// already on the task, earns its points and is credited with a task. The
// task is removed afterwards.
func (m *Manager) CompleteCommunal(ctx context.Context, taskID, performerID string) (Completion, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CompleteCommunal",
		trace.WithAttributes(
			attribute.String("task_id", taskID),
			attribute.String("performer_id", performerID),
		),
	)
	defer span.End()

	var c Completion
	err := m.ledger.Update(ctx, func(st *source.State) error {
		i := slices.IndexFunc(st.Tasks, func(t community.CommunalTask) bool { return t.ID == taskID })
		if i < 0 {
			return fmt.Errorf("%w: communal task %q", ErrNotFound, taskID)
		}
		task := st.Tasks[i]

		if performerID == "" {
			performerID = task.PerformerID
		}
		if performerID == "" {
			return fmt.Errorf("%w: a communal task needs a performer before completion", ErrMissingParticipant)
		}
		performer, err := member(st, performerID)
		if err != nil {
			return err
		}
		points, err := wholePoints(task.PointValue)
		if err != nil {
			return err
		}

		performer.PersonalPoints += points
		performer.TotalTasksCompleted++
		st.Members[performer.ID] = performer
		st.Tasks = slices.Delete(st.Tasks, i, i+1)

		c = Completion{
			ActivityID: task.ID,
			Kind:       KindCommunal,
			Title:      task.Title,
			To:         performer.ID,
			Points:     points,
			Balances:   map[string]int{performer.ID: performer.PersonalPoints},
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, fmt.Errorf("completing communal task: %w", err)
	}

	m.recordCompletion(ctx, c)
	return c, nil
}

// AddGreenAction records a green action and adds its points to the
// community pool.
func (m *Manager) AddGreenAction(ctx context.Context, title, description string, pointValue float64) (community.GreenAction, community.Settings, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddGreenAction",
		trace.WithAttributes(
			attribute.String("title", title),
			attribute.Float64("points", pointValue),
		),
	)
	defer span.End()

	var (
		action   community.GreenAction
		settings community.Settings
		points   int
	)
	err := m.ledger.Update(ctx, func(st *source.State) error {
		if err := validateText(title, description); err != nil {
			return err
		}
		p, err := wholePoints(pointValue)
		if err != nil {
			return err
		}
		points = p

		action = community.GreenAction{
			ID:          uuid.NewString(),
			Title:       title,
			Description: description,
			PointValue:  float64(points),
			CreatedAt:   m.today().Format(community.DateLayout),
		}
		st.Actions = append(st.Actions, action)
		st.Settings.CommunityPoints += float64(points)
		settings = st.Settings
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return community.GreenAction{}, community.Settings{}, fmt.Errorf("adding green action: %w", err)
	}

	m.record(ctx,
		event.New(action.ID, event.ActivityCompleted, event.ActivityCompletedData{
			Kind:   KindGreen,
			Title:  action.Title,
			To:     CommunityAggregate,
			Points: points,
		}),
		event.New(CommunityAggregate, event.CommunityPointsAdded, event.CommunityPointsAddedData{
			ActionID: action.ID,
			Title:    action.Title,
			Points:   points,
			Total:    settings.CommunityPoints,
		}),
	)

	m.logger.InfoContext(ctx, "green action added",
		slog.String("action_id", action.ID),
		slog.Int("points", points),
		slog.Float64("community_points", settings.CommunityPoints),
	)
	return action, settings, nil
}

// ResetDue reports whether a week has passed since the last green reset.
func ResetDue(s community.Settings, today time.Time) bool {
	last, err := time.Parse(community.DateLayout, s.LastResetDate)
	if err != nil {
		return true
	}
	return !last.Add(resetEvery).After(today)
}

// WeeklyGreenReset removes green actions older than a week and records the
// reset date. Unless force is set it does nothing when the last reset was
// less than a week ago. It returns how many actions were removed and
// whether the reset ran.
func (m *Manager) WeeklyGreenReset(ctx context.Context, force bool) (int, bool, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.WeeklyGreenReset",
		trace.WithAttributes(attribute.Bool("force", force)),
	)
	defer span.End()

	today := m.today()
	cutoff := today.Add(-resetEvery)

	var removed int
	ran := false
	err := m.ledger.Update(ctx, func(st *source.State) error {
		if !force && !ResetDue(st.Settings, today) {
			return nil
		}
		before := len(st.Actions)
		st.Actions = slices.DeleteFunc(st.Actions, func(a community.GreenAction) bool {
			created, err := time.Parse(community.DateLayout, a.CreatedAt)
			return err == nil && created.Before(cutoff)
		})
		removed = before - len(st.Actions)
		st.Settings.LastResetDate = today.Format(community.DateLayout)
		ran = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, fmt.Errorf("resetting green actions: %w", err)
	}
	if !ran {
		return 0, false, nil
	}

	m.record(ctx, event.New(GreenAggregate, event.GreenActionsReset, event.GreenActionsResetData{
		Removed: removed,
		Date:    today.Format(community.DateLayout),
	}))
	m.logger.InfoContext(ctx, "green actions reset", slog.Int("removed", removed))
	return removed, true, nil
}

func (m *Manager) recordCompletion(ctx context.Context, c Completion) {
	events := []event.Event{
		event.New(c.ActivityID, event.ActivityCompleted, event.ActivityCompletedData{
			Kind:   c.Kind,
			Title:  c.Title,
			From:   c.From,
			To:     c.To,
			Points: c.Points,
		}),
	}
	if c.From != "" {
		events = append(events, event.New(c.From, event.PointsDeducted, event.PointsChangeData{
			MemberID: c.From,
			Amount:   -c.Points,
			Balance:  c.Balances[c.From],
			Reason:   c.Title,
		}))
	}
	events = append(events, event.New(c.To, event.PointsAwarded, event.PointsChangeData{
		MemberID: c.To,
		Amount:   c.Points,
		Balance:  c.Balances[c.To],
		Reason:   c.Title,
	}))
	m.record(ctx, events...)

	m.logger.InfoContext(ctx, "activity completed",
		slog.String("activity_id", c.ActivityID),
		slog.String("kind", c.Kind),
		slog.String("from", c.From),
		slog.String("to", c.To),
		slog.Int("points", c.Points),
	)
}

func (m *Manager) record(ctx context.Context, events ...event.Event) {
	if err := m.events.Append(ctx, events...); err != nil {
		m.logger.ErrorContext(ctx, "failed to append ledger events", slog.Any("error", err))
	}
}

// today is the current date at midnight UTC.
func (m *Manager) today() time.Time {
	y, mo, d := m.clock.Now().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func member(st *source.State, id string) (community.Member, error) {
	mem, ok := st.Members[id]
	if !ok {
		return community.Member{}, fmt.Errorf("%w: %q", ErrUnknownMember, id)
	}
	return mem, nil
}

// wholePoints converts a point value to the whole number balances hold.
func wholePoints(v float64) (int, error) {
	if v < 0 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: point value %v must be a whole number of at least 0", ErrInvalid, v)
	}
	return int(v), nil
}

func validateText(title, description string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	case utf8.RuneCountInString(title) > titleMax:
		return fmt.Errorf("%w: title cannot exceed %d characters", ErrInvalid, titleMax)
	case strings.TrimSpace(description) == "":
		return fmt.Errorf("%w: description cannot be empty", ErrInvalid)
	case utf8.RuneCountInString(description) > descriptionMax:
		return fmt.Errorf("%w: description cannot exceed %d characters", ErrInvalid, descriptionMax)
	}
	return nil
}
