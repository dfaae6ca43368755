package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

func hours(n int) *int { return &n }

func TestRenderGroupsByRegion(t *testing.T) {
	t.Parallel()

	records := []crawler.Record{
		{ID: 3, SchoolName: "IC Manzoni", City: "Lecco", ClassCode: "A028", Region: "Lecco", WeeklyHours: hours(18)},
		{ID: 1, SchoolName: "Liceo Volta", City: "Como", ClassCode: "A028", Region: "Como"},
		{ID: 7, SchoolName: "Istituto Comprensivo Città di Cantù", City: "Cantù", ClassCode: "A022", Region: "Como", WeeklyHours: hours(6)},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, records))
	out := buf.String()

	lecco := strings.Index(out, "--- LECCO (1) ---")
	como := strings.Index(out, "--- COMO (2) ---")
	require.NotEqual(t, -1, lecco)
	require.NotEqual(t, -1, como)
	assert.Less(t, lecco, como, "regions keep query order")
	assert.Contains(t, out, "Liceo Volta")
	assert.Contains(t, out, "  -  ", "missing hours render as a dash")
}

func TestRenderAlignsByDisplayWidth(t *testing.T) {
	t.Parallel()

	records := []crawler.Record{
		{ID: 1, SchoolName: "Città", City: "X", Region: "R"},
		{ID: 2, SchoolName: "Citta", City: "Y", Region: "R"},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	first := lines[3]
	second := lines[4]
	assert.Equal(t, runewidth.StringWidth(first), runewidth.StringWidth(second))
	assert.Equal(t, strings.Index(second, "Y"), strings.Index(first, "X")-1, "accented rune is one column but two bytes")
}

func TestRenderTruncatesLongSchoolNames(t *testing.T) {
	t.Parallel()

	name := strings.Repeat("Istituto ", 10)
	got := rows([]crawler.Record{{SchoolName: name, Region: "R"}})
	assert.LessOrEqual(t, runewidth.StringWidth(got[1][1]), maxSchoolWidth)
	assert.True(t, strings.HasSuffix(got[1][1], "…"))
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, nil))
	assert.Equal(t, "No notices match the selected criteria.\n", buf.String())
}

func TestClassesAndSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Classes(&buf, []string{"A022", "A028"}))
	assert.Equal(t, "A022\nA028\n", buf.String())

	buf.Reset()
	require.NoError(t, Summary(&buf, crawler.RunSummary{
		RunID: "r1", LinksDiscovered: 12, ArticlesProcessed: 10, RecordsPersisted: 8, Duration: 1500 * time.Millisecond,
	}))
	out := buf.String()
	assert.Contains(t, out, "run r1 (ok)")
	assert.Contains(t, out, "links discovered:   12")
	assert.Contains(t, out, "records persisted:  8")
	assert.Contains(t, out, "1.5s")
}
