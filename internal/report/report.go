// Package report renders notices as plain-text tables grouped by region.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

const maxSchoolWidth = 40

var headers = []string{"ID", "School", "City", "End date", "Class", "Hours", "Position"}

// Render writes one table per region, in the order regions first appear in
// records. Columns are aligned by display width so accented names line up.
func Render(w io.Writer, records []crawler.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No notices match the selected criteria.")
		return err
	}

	var order []string
	groups := make(map[string][]crawler.Record)
	for _, rec := range records {
		if _, ok := groups[rec.Region]; !ok {
			order = append(order, rec.Region)
		}
		groups[rec.Region] = append(groups[rec.Region], rec)
	}

	for i, region := range order {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "--- %s (%d) ---\n", strings.ToUpper(region), len(groups[region])); err != nil {
			return err
		}
		if err := writeTable(w, rows(groups[region])); err != nil {
			return err
		}
	}
	return nil
}

func rows(records []crawler.Record) [][]string {
	out := make([][]string, 0, len(records)+1)
	out = append(out, headers)
	for _, rec := range records {
		hours := "-"
		if rec.WeeklyHours != nil {
			hours = strconv.Itoa(*rec.WeeklyHours)
		}
		out = append(out, []string{
			strconv.FormatInt(rec.ID, 10),
			runewidth.Truncate(rec.SchoolName, maxSchoolWidth, "…"),
			orDash(rec.City),
			orDash(rec.EndDate),
			orDash(rec.ClassCode),
			hours,
			orDash(rec.PositionType),
		})
	}
	return out
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func writeTable(w io.Writer, table [][]string) error {
	widths := make([]int, len(headers))
	for _, row := range table {
		for i, cell := range row {
			if n := runewidth.StringWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder
	for r, row := range table {
		sb.Reset()
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		if _, err := fmt.Fprintln(w, sb.String()); err != nil {
			return err
		}
		if r == 0 {
			sep := make([]string, len(widths))
			for i, n := range widths {
				sep[i] = strings.Repeat("-", n)
			}
			if _, err := fmt.Fprintln(w, strings.Join(sep, "  ")); err != nil {
				return err
			}
		}
	}
	return nil
}

// Classes writes one competition class per line.
func Classes(w io.Writer, classes []string) error {
	if len(classes) == 0 {
		_, err := fmt.Fprintln(w, "No competition classes stored yet.")
		return err
	}
	for _, class := range classes {
		if _, err := fmt.Fprintln(w, class); err != nil {
			return err
		}
	}
	return nil
}

// Summary prints the end-of-run totals of a harvest.
func Summary(w io.Writer, s crawler.RunSummary) error {
	_, err := fmt.Fprintf(w,
		"run %s (%s)\n  links discovered:   %d\n  articles processed: %d\n  records persisted:  %d\n  duplicates:         %d\n  failed units:       %d\n  duration:           %s\n",
		s.RunID, s.Status(),
		s.LinksDiscovered, s.ArticlesProcessed, s.RecordsPersisted, s.Duplicates, s.FailedUnits,
		s.Duration.Round(1e6),
	)
	return err
}
