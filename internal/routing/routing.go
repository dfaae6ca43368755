// Package routing picks the single processing path for an analysed article.
package routing

import "github.com/JakeFAU/interpelli-crawler/internal/crawler"

// Path identifies how an article's content is obtained.
type Path int

// Paths in decreasing priority.
const (
	PathNone Path = iota
	PathDirect
	PathCloud
	PathPortal
	PathInline
)

func (p Path) String() string {
	switch p {
	case PathDirect:
		return "direct"
	case PathCloud:
		return "cloud"
	case PathPortal:
		return "portal"
	case PathInline:
		return "inline"
	default:
		return "none"
	}
}

// Plan is the outcome of Decide. URLs is set for link paths, Inline for the
// inline path.
type Plan struct {
	Path   Path
	URLs   []string
	Inline []crawler.FieldSet
}

// Decide returns the highest-priority non-empty path:
// direct > cloud > portal > inline > none. Lower paths are never combined with
// a higher one.
func Decide(a crawler.Analysis) Plan {
	switch {
	case len(a.Direct) > 0:
		return Plan{Path: PathDirect, URLs: a.Direct}
	case len(a.Cloud) > 0:
		return Plan{Path: PathCloud, URLs: a.Cloud}
	case len(a.Portal) > 0:
		return Plan{Path: PathPortal, URLs: a.Portal}
	case len(a.Inline) > 0:
		return Plan{Path: PathInline, Inline: a.Inline}
	default:
		return Plan{Path: PathNone}
	}
}

// DocumentKind maps a download path to the fetcher's document kind.
func (p Plan) DocumentKind() (crawler.DocumentKind, bool) {
	switch p.Path {
	case PathDirect:
		return crawler.DocumentDirect, true
	case PathCloud:
		return crawler.DocumentCloudDrive, true
	default:
		return "", false
	}
}
