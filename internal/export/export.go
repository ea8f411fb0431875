// Package export writes the community data to an Excel workbook.
package export

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/jensholdgaard/cloverville/internal/source"
)

// Sheet names, in workbook order.
const (
	TradeOffersSheet   = "Trade Offers"
	GreenActionsSheet  = "Green Actions"
	CommunalTasksSheet = "Communal Tasks"
	CommunitySheet     = "Community"
)

type sheet struct {
	name   string
	header []any
	rows   [][]any
}

// Write acquires every list from src and saves them as an xlsx workbook
// at path.
func Write(ctx context.Context, src source.Source, path string) error {
	f, err := Build(ctx, src)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}

// Build acquires every list from src and returns the workbook. Trade offer
// authors are resolved like on the site, so unmatched performers read
// "Unknown".
func Build(ctx context.Context, src source.Source) (*excelize.File, error) {
	sheets, err := collect(ctx, src)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	for i, s := range sheets {
		if i == 0 {
			err = f.SetSheetName(f.GetSheetName(0), s.name)
		} else {
			_, err = f.NewSheet(s.name)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %q: %w", s.name, err)
		}
		if err := writeSheet(f, s, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing sheet %q: %w", s.name, err)
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, s sheet, headerStyle int) error {
	sw, err := f.NewStreamWriter(s.name)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", s.header, excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return err
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func collect(ctx context.Context, src source.Source) ([]sheet, error) {
	dir, err := src.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring member directory: %w", err)
	}
	offers, err := src.TradeOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring trade offers: %w", err)
	}
	actions, err := src.GreenActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring green actions: %w", err)
	}
	tasks, err := src.CommunalTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring communal tasks: %w", err)
	}
	settings, err := src.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring settings: %w", err)
	}

	trade := sheet{name: TradeOffersSheet, header: []any{"Title", "Description", "Offered by", "Cost"}}
	for _, o := range offers {
		trade.rows = append(trade.rows, []any{o.Title, o.Description, dir.AuthorName(o.PerformerID), o.PointValue})
	}

	green := sheet{name: GreenActionsSheet, header: []any{"Title", "Description", "Community Points"}}
	for _, a := range actions {
		green.rows = append(green.rows, []any{a.Title, a.Description, a.PointValue})
	}

	communal := sheet{name: CommunalTasksSheet, header: []any{"Title", "Description", "Deadline", "Personal Points"}}
	for _, t := range tasks {
		communal.rows = append(communal.rows, []any{t.Title, t.Description, t.Deadline, t.PointValue})
	}

	summary := sheet{
		name:   CommunitySheet,
		header: []any{"Setting", "Value"},
		rows: [][]any{
			{"Community Points", settings.CommunityPoints},
			{"Goal", settings.CommunityGoal},
			{"Target Points", settings.TargetPoints},
		},
	}

	return []sheet{trade, green, communal, summary}, nil
}
