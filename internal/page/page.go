// Package page holds the render targets: an HTML page whose surfaces are
// addressed by element id and whose content is replaced wholesale.
package page

import (
	"errors"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoMenu is returned by ToggleMenu when the page has no navigation bar.
var ErrNoMenu = errors.New("page has no #myTopnav navigation")

// Surface ids used by the site pages.
const (
	TotalPoints  = "total-points"
	GoalText     = "goal-text"
	TargetText   = "target-text"
	GreenList    = "green-list"
	CommunalList = "communal-list"
	TradeList    = "trade-list"
)

const (
	menuID        = "myTopnav"
	menuClosed    = "topnav"
	menuOpen      = "topnav responsive"
	iconClose     = "&#10005;"
	iconHamburger = "&#9776;"
)

// Document is a parsed page. It is not safe for concurrent use.
type Document struct {
	doc *goquery.Document
}

// Parse reads an HTML page.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Surface returns the element with the given id, if present.
func (d *Document) Surface(id string) (*Surface, bool) {
	sel := d.doc.Find(`[id="` + id + `"]`).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return &Surface{id: id, sel: sel}, true
}

// Has reports whether every given surface exists.
func (d *Document) Has(ids ...string) bool {
	for _, id := range ids {
		if _, ok := d.Surface(id); !ok {
			return false
		}
	}
	return true
}

// ToggleMenu opens the mobile navigation if it is closed and closes it
// otherwise.
func (d *Document) ToggleMenu() error {
	nav, ok := d.Surface(menuID)
	if !ok {
		return ErrNoMenu
	}
	icon := nav.sel.Find(".icon").First()

	if class, _ := nav.sel.Attr("class"); class == menuClosed {
		nav.sel.SetAttr("class", menuOpen)
		icon.SetHtml(iconClose)
		return nil
	}
	nav.sel.SetAttr("class", menuClosed)
	icon.SetHtml(iconHamburger)
	return nil
}

// MenuOpen reports whether the mobile navigation is expanded.
func (d *Document) MenuOpen() bool {
	nav, ok := d.Surface(menuID)
	if !ok {
		return false
	}
	class, _ := nav.sel.Attr("class")
	return class == menuOpen
}

// Render writes the whole page.
func (d *Document) Render(w io.Writer) error {
	if err := goquery.Render(w, d.doc.Selection); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	return nil
}

// Surface is one addressable element of a page.
type Surface struct {
	id  string
	sel *goquery.Selection
}

// ID returns the element id.
func (s *Surface) ID() string { return s.id }

// Replace sets the element's content to the given markup.
func (s *Surface) Replace(markup string) {
	s.sel.SetHtml(markup)
}

// HTML returns the element's current content.
func (s *Surface) HTML() (string, error) {
	return s.sel.Html()
}
