package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	SectionRendered Type = "section.rendered"
	SectionFailed   Type = "section.failed"

	SitePublished Type = "site.published"

	ActivityCompleted    Type = "activity.completed"
	PointsAwarded        Type = "points.awarded"
	PointsDeducted       Type = "points.deducted"
	CommunityPointsAdded Type = "community.points_added"
	GreenActionsReset    Type = "green.reset"
)

// Types lists every event type, for validating filters.
var Types = []Type{
	SectionRendered,
	SectionFailed,
	SitePublished,
	ActivityCompleted,
	PointsAwarded,
	PointsDeducted,
	CommunityPointsAdded,
	GreenActionsReset,
}

// Event represents a single entry in the render history.
type Event struct {
	ID string `json:"id" db:"id"`
	// AggregateID names what the event is about: "<page>#<section>" for
	// section events, the output directory for publish events.
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// SectionRenderedData is the payload for SectionRendered events.
type SectionRenderedData struct {
	Page    string `json:"page"`
	Section string `json:"section"`
	Items   int    `json:"items"`
}

// SectionFailedData is the payload for SectionFailed events.
type SectionFailedData struct {
	Page    string `json:"page"`
	Section string `json:"section"`
	Error   string `json:"error"`
}

// SitePublishedData is the payload for SitePublished events.
type SitePublishedData struct {
	Output string `json:"output"`
	Pages  int    `json:"pages"`
	Files  int    `json:"files"`
}

// ActivityCompletedData is the payload for ActivityCompleted events.
type ActivityCompletedData struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Points int    `json:"points"`
}

// PointsChangeData is the payload for PointsAwarded and PointsDeducted
// events. Amount is negative for deductions.
type PointsChangeData struct {
	MemberID string `json:"member_id"`
	Amount   int    `json:"amount"`
	Balance  int    `json:"balance"`
	Reason   string `json:"reason"`
}

// CommunityPointsAddedData is the payload for CommunityPointsAdded events.
type CommunityPointsAddedData struct {
	ActionID string  `json:"action_id"`
	Title    string  `json:"title"`
	Points   int     `json:"points"`
	Total    float64 `json:"total"`
}

// GreenActionsResetData is the payload for GreenActionsReset events.
type GreenActionsResetData struct {
	Removed int    `json:"removed"`
	Date    string `json:"date"`
}

// New builds an event with a JSON payload. The store assigns ID and
// CreatedAt.
func New(aggregateID string, t Type, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{AggregateID: aggregateID, Type: t, Data: data}
}
