package pdf

import (
	"sort"
	"strings"

	"github.com/spherical/register-extractor/internal/domain"
)

const (
	minTableColumns = 3
	minTableRows    = 2
)

// textRun is a positioned piece of text on one baseline.
type textRun struct {
	X        float64
	W        float64
	FontSize float64
	S        string
}

// textRow is all runs sharing a baseline, with its vertical position.
type textRow struct {
	Y    float64
	Runs []textRun
}

// buildFeatures turns positioned rows into lines and table candidates.
// Rows are ordered top to bottom; runs within a row left to right.
func buildFeatures(pageNum int, rows []textRow) domain.PageFeatures {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Y > rows[j].Y })

	features := domain.PageFeatures{PageNum: pageNum}
	var current [][]string

	flush := func() {
		if len(current) >= minTableRows {
			features.Tables = append(features.Tables, domain.Table{Rows: current})
		}
		current = nil
	}

	for _, row := range rows {
		cells := splitCells(row.Runs)
		if len(cells) == 0 {
			continue
		}
		features.Lines = append(features.Lines, strings.Join(cells, " "))

		if len(cells) >= minTableColumns {
			current = append(current, cells)
		} else {
			flush()
		}
	}
	flush()

	return features
}

// splitCells merges adjacent runs into words and words into cells.
// A horizontal gap wider than a couple of glyphs starts a new cell.
func splitCells(runs []textRun) []string {
	if len(runs) == 0 {
		return nil
	}
	sorted := make([]textRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var cells []string
	var b strings.Builder
	prevEnd := sorted[0].X

	for i, r := range sorted {
		if i > 0 {
			gap := r.X - prevEnd
			size := r.FontSize
			if size <= 0 {
				size = 10
			}
			switch {
			case gap > size*1.5:
				if s := strings.TrimSpace(b.String()); s != "" {
					cells = append(cells, s)
				}
				b.Reset()
			case gap > size*0.15:
				b.WriteByte(' ')
			}
		}
		b.WriteString(r.S)
		prevEnd = r.X + runWidth(r)
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		cells = append(cells, s)
	}

	for i, c := range cells {
		cells[i] = strings.Join(strings.Fields(c), " ")
	}
	return cells
}

func runWidth(r textRun) float64 {
	if r.W > 0 {
		return r.W
	}
	size := r.FontSize
	if size <= 0 {
		size = 10
	}
	return float64(len([]rune(r.S))) * size * 0.5
}
