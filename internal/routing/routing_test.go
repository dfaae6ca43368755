package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	inline := []crawler.FieldSet{{SchoolName: "IC Manzoni"}}
	tests := []struct {
		name     string
		analysis crawler.Analysis
		want     Plan
	}{
		{
			name:     "direct wins over everything",
			analysis: crawler.Analysis{Direct: []string{"d"}, Cloud: []string{"c"}, Portal: []string{"p"}, Inline: inline},
			want:     Plan{Path: PathDirect, URLs: []string{"d"}},
		},
		{
			name:     "direct and portal only downloads",
			analysis: crawler.Analysis{Direct: []string{"d1", "d2"}, Portal: []string{"p"}},
			want:     Plan{Path: PathDirect, URLs: []string{"d1", "d2"}},
		},
		{
			name:     "cloud over portal",
			analysis: crawler.Analysis{Cloud: []string{"c"}, Portal: []string{"p"}},
			want:     Plan{Path: PathCloud, URLs: []string{"c"}},
		},
		{
			name:     "portal over inline",
			analysis: crawler.Analysis{Portal: []string{"p"}, Inline: inline},
			want:     Plan{Path: PathPortal, URLs: []string{"p"}},
		},
		{
			name:     "inline",
			analysis: crawler.Analysis{Inline: inline},
			want:     Plan{Path: PathInline, Inline: inline},
		},
		{
			name:     "none",
			analysis: crawler.Analysis{},
			want:     Plan{Path: PathNone},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Decide(tc.analysis))
		})
	}
}

func TestPathStringAndKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "direct", PathDirect.String())
	assert.Equal(t, "cloud", PathCloud.String())
	assert.Equal(t, "portal", PathPortal.String())
	assert.Equal(t, "inline", PathInline.String())
	assert.Equal(t, "none", PathNone.String())

	kind, ok := Plan{Path: PathCloud}.DocumentKind()
	assert.True(t, ok)
	assert.Equal(t, crawler.DocumentCloudDrive, kind)
	kind, ok = Plan{Path: PathDirect}.DocumentKind()
	assert.True(t, ok)
	assert.Equal(t, crawler.DocumentDirect, kind)
	_, ok = Plan{Path: PathPortal}.DocumentKind()
	assert.False(t, ok)
}
