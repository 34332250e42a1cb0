package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/spherical/register-extractor/pkg/extractor"
)

// Table displays data in a formatted table.
func Table(headers []string, rows [][]string) {
	writeTable(os.Stdout, headers, rows)
}

func writeTable(out io.Writer, headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// PageRows renders scored pages for Table.
func PageRows(pages []extractor.PageMetadata) [][]string {
	rows := make([][]string, 0, len(pages))
	for _, p := range pages {
		table := ""
		if p.HasTable {
			table = "yes"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", p.PageNum),
			fmt.Sprintf("%.1f", p.Score),
			table,
			truncate(p.SectionTitle, 48),
		})
	}
	return rows
}

// RegisterRows renders registers for Table.
func RegisterRows(regs []extractor.Register) [][]string {
	rows := make([][]string, 0, len(regs))
	for _, r := range regs {
		access := "R"
		if r.Writable {
			access = "R/W"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Address),
			truncate(r.Name, 40),
			string(r.Datatype),
			access,
		})
	}
	return rows
}

// KeyValue displays a key-value pair in a formatted way.
func KeyValue(key, value string) {
	fmt.Fprintf(os.Stdout, "  %s: %s\n", color.New(color.Faint).Sprint(key), value)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)

	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
