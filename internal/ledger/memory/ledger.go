// Package memory keeps the seen-article ledger in process memory. Entries
// live as long as the process.
package memory

import (
	"context"
	"sync"
)

// Ledger is a concurrency-safe set of article URLs.
type Ledger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Seen reports whether url was marked.
func (l *Ledger) Seen(_ context.Context, url string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[url]
	return ok, nil
}

// MarkSeen records url.
func (l *Ledger) MarkSeen(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[url] = struct{}{}
	return nil
}

// Len returns the number of marked articles.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}
