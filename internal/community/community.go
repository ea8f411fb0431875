// Package community defines the data contracts of the Cloverville site:
// members, trade offers, green actions, communal tasks and the community
// settings. Payloads are validated against a JSON schema before decoding so
// that a shape mismatch fails at the acquisition boundary.
package community

// UnknownAuthor is shown when a trade offer's performer is not in the
// member directory.
const UnknownAuthor = "Unknown"

// DateLayout is the format of every date field.
const DateLayout = "2006-01-02"

// TradeKind says which side of a trade pays.
type TradeKind string

const (
	// TradeTask: the performer asks for a task and pays the receiver who
	// does it.
	TradeTask TradeKind = "TRADE_TASK"
	// TradeGoods: the performer hands over goods and the receiver pays.
	TradeGoods TradeKind = "TRADE_GOODS"
)

// Member is a registered community member.
type Member struct {
	ID                  string `json:"id" db:"id"`
	Name                string `json:"name" db:"name"`
	PersonalPoints      int    `json:"personalPoints" db:"personal_points"`
	TotalTasksCompleted int    `json:"totalTasksCompleted" db:"total_tasks_completed"`
}

// Directory maps member IDs to members.
type Directory map[string]Member

// AuthorName resolves a performer ID to a display name. Lookup is by exact
// key; a missing entry resolves to UnknownAuthor.
func (d Directory) AuthorName(performerID string) string {
	if m, ok := d[performerID]; ok {
		return m.Name
	}
	return UnknownAuthor
}

// TradeOffer is a barter listing posted by a member.
type TradeOffer struct {
	ID          string    `json:"id,omitempty" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	PerformerID string    `json:"performerID" db:"performer_id"`
	ReceiverID  string    `json:"receiverID,omitempty" db:"receiver_id"`
	Kind        TradeKind `json:"type,omitempty" db:"kind"`
	PointValue  float64   `json:"pointValue" db:"point_value"`
}

// TradeKind returns the offer's kind. Offers without one are goods: the
// site lists them with a cost.
func (o TradeOffer) TradeKind() TradeKind {
	if o.Kind == "" {
		return TradeGoods
	}
	return o.Kind
}

// GreenAction is an environmentally friendly action that earned community
// points.
type GreenAction struct {
	ID          string  `json:"id,omitempty" db:"id"`
	Title       string  `json:"title" db:"title"`
	Description string  `json:"description" db:"description"`
	PointValue  float64 `json:"pointValue" db:"point_value"`
	CreatedAt   string  `json:"createdAt,omitempty" db:"created_at"`
}

// CommunalTask is an open task that earns personal points when done.
type CommunalTask struct {
	ID          string  `json:"id,omitempty" db:"id"`
	Title       string  `json:"title" db:"title"`
	Description string  `json:"description" db:"description"`
	Deadline    string  `json:"deadline" db:"deadline"`
	PerformerID string  `json:"performerID,omitempty" db:"performer_id"`
	PointValue  float64 `json:"pointValue" db:"point_value"`
}

// Settings holds the community-wide point totals shown on the home page.
type Settings struct {
	CommunityPoints float64 `json:"communityPoints" db:"community_points"`
	CommunityGoal   string  `json:"communityGoal" db:"community_goal"`
	TargetPoints    float64 `json:"targetPoints" db:"target_points"`
	LastResetDate   string  `json:"lastResetDate,omitempty" db:"last_reset_date"`
}
