// Package render turns community data into the HTML fragments shown on the
// Cloverville pages. Every function is pure: the same input always produces
// byte-identical output and inputs are never modified.
package render

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/jensholdgaard/cloverville/internal/community"
)

// Placeholders written instead of an empty list.
const (
	NoOffers  = "<p>No offers available.</p>"
	NoActions = "<p>No actions yet.</p>"
	NoTasks   = "<p>No tasks available.</p>"
)

// Renderer builds card lists. The zero value escapes text fields.
type Renderer struct {
	// Raw embeds text fields as given, for sources whose fields already
	// carry markup.
	Raw bool
}

// Card is one list item before markup.
type Card struct {
	Title       string
	Description string
	// Byline is trusted markup for the optional author line.
	Byline string
	// Price is trusted markup for the price line.
	Price string
}

// Cards concatenates one fragment per card in order, or returns empty when
// there are no cards.
func (r Renderer) Cards(cards []Card, empty string) string {
	if len(cards) == 0 {
		return empty
	}
	var b strings.Builder
	for _, c := range cards {
		b.WriteString(`<div class="card">`)
		b.WriteString("  <div>")
		b.WriteString("    <h3>" + r.Text(c.Title) + "</h3>")
		b.WriteString("    <p>" + r.Text(c.Description) + "</p>")
		if c.Byline != "" {
			b.WriteString(`    <p class="author">` + c.Byline + "</p>")
		}
		b.WriteString("  </div>")
		b.WriteString(`  <p class="price">` + c.Price + "</p>")
		b.WriteString("</div>")
	}
	return b.String()
}

// TradeOffers renders the trade offer list, resolving each offer's author
// against the member directory.
func (r Renderer) TradeOffers(dir community.Directory, offers []community.TradeOffer) string {
	cards := make([]Card, 0, len(offers))
	for _, o := range offers {
		cards = append(cards, Card{
			Title:       o.Title,
			Description: o.Description,
			Byline:      "Offered by: <strong>" + r.Text(dir.AuthorName(o.PerformerID)) + "</strong>",
			Price:       "Cost: " + Number(o.PointValue) + " Personal Points",
		})
	}
	return r.Cards(cards, NoOffers)
}

// GreenActions renders the green actions list.
func (r Renderer) GreenActions(actions []community.GreenAction) string {
	cards := make([]Card, 0, len(actions))
	for _, a := range actions {
		cards = append(cards, Card{
			Title:       a.Title,
			Description: a.Description,
			Price:       "+" + Number(a.PointValue) + " Community Points",
		})
	}
	return r.Cards(cards, NoActions)
}

// CommunalTasks renders the communal tasks list.
func (r Renderer) CommunalTasks(tasks []community.CommunalTask) string {
	cards := make([]Card, 0, len(tasks))
	for _, t := range tasks {
		cards = append(cards, Card{
			Title:       t.Title,
			Description: t.Description,
			Byline:      "Deadline: " + r.Text(t.Deadline),
			Price:       "Earn " + Number(t.PointValue) + " Personal Points",
		})
	}
	return r.Cards(cards, NoTasks)
}

// Points holds the three values of the points display.
type Points struct {
	Total  string
	Goal   string
	Target string
}

// Points renders the community settings for the points display.
func (r Renderer) Points(s community.Settings) Points {
	return Points{
		Total:  Number(s.CommunityPoints),
		Goal:   r.Text(s.CommunityGoal),
		Target: Number(s.TargetPoints),
	}
}

// Text prepares a text field for embedding in markup.
func (r Renderer) Text(s string) string {
	if r.Raw {
		return s
	}
	return html.EscapeString(s)
}

// Number formats a point value the way a browser prints a JSON number:
// integers without a decimal point, fractions in their shortest form, and
// exponent form below 1e-6 or from 1e21 on. Negative zero prints as 0.
func Number(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	if abs := math.Abs(v); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(v, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + digits
}
