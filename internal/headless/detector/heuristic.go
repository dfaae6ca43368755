// Package detector decides when a portal page has to be rendered by a
// headless browser before its notice can be read.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultMinTextBytes = 400

// Heuristic flags pages whose visible content is produced by scripts.
type Heuristic struct {
	// MinTextBytes is the visible text a scripted page needs to be read as is.
	MinTextBytes int
}

// NewHeuristic creates a detector. A non-positive minText uses the default.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minText}
}

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("ng-version"),
}

// ShouldRender reports whether the statically fetched body is an application
// shell or a script-heavy page with too little text to extract from.
func (h *Heuristic) ShouldRender(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range appShellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	scripts := doc.Find("script").Length()
	if scripts == 0 {
		return false
	}
	doc.Find("script, style, noscript, template").Remove()
	return len(visibleText(doc)) < h.MinTextBytes
}

func visibleText(doc *goquery.Document) string {
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}
