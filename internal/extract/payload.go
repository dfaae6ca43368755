package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

var errNoPayload = errors.New("no json payload in response")

// ParsePayload locates the JSON payload inside a backend response that may be
// wrapped in code fences or surrounded by prose. The outermost bracket pair of
// each kind is tried in order of appearance and the first valid span wins.
func ParsePayload(text string) (json.RawMessage, error) {
	text = stripFences(text)

	type span struct{ start, end int }
	var spans []span
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			spans = append(spans, span{start, end})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for _, s := range spans {
		candidate := text[s.start : s.end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, errNoPayload
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	return strings.ReplaceAll(text, "```", "")
}

// decodeFieldSets accepts a single object or an array of objects. Sets without
// any populated field are dropped.
func decodeFieldSets(raw json.RawMessage) ([]crawler.FieldSet, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var sets []crawler.FieldSet
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &sets); err != nil {
			return nil, fmt.Errorf("decode field set list: %w", err)
		}
	} else {
		var single crawler.FieldSet
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode field set: %w", err)
		}
		sets = []crawler.FieldSet{single}
	}
	out := sets[:0]
	for _, fs := range sets {
		if fs != (crawler.FieldSet{}) {
			out = append(out, fs)
		}
	}
	return out, nil
}

// decodeLinks accepts ["url", ...] or {"links": ["url", ...]}.
func decodeLinks(raw json.RawMessage) ([]string, error) {
	var links []string
	if err := json.Unmarshal(raw, &links); err == nil {
		return links, nil
	}
	var wrapped struct {
		Links []string `json:"links"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	return wrapped.Links, nil
}

type analysisPayload struct {
	FileLinks   []string        `json:"file_links"`
	DriveLinks  []string        `json:"gdrive_links"`
	PortalLinks []string        `json:"portal_links"`
	Extracted   json.RawMessage `json:"extracted_data"`
}
