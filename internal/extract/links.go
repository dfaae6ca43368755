package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// normalizeLinks resolves links against base, drops fragments and non-http
// schemes, and removes duplicates while keeping the first occurrence.
func normalizeLinks(base string, links []string, exclude map[string]struct{}) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		abs, ok := absoluteURL(baseURL, raw)
		if !ok {
			continue
		}
		if _, skip := exclude[abs]; skip {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

func absoluteURL(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}

// categoryLinks returns the absolute hrefs of anchors whose visible text is
// exactly one of labels. Matching is exact: no trimming, no case folding.
func categoryLinks(html, base string, labels []string) map[string]struct{} {
	out := make(map[string]struct{})
	if len(labels) == 0 {
		return out
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		for _, label := range labels {
			if text != label {
				continue
			}
			href, _ := s.Attr("href")
			if abs, ok := absoluteURL(baseURL, href); ok {
				out[abs] = struct{}{}
			}
			return
		}
	})
	return out
}
