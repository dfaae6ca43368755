package crawler

import (
	"context"
	"time"
)

// RecordSink persists notices with insert-or-reject semantics on the
// (school, class, end date) triple.
type RecordSink interface {
	// Insert stores the record and returns its ID, or ErrDuplicate.
	Insert(ctx context.Context, record Record) (int64, error)
	QueryAll(ctx context.Context) ([]Record, error)
	QueryBy(ctx context.Context, filter Filter) ([]Record, error)
	DistinctClasses(ctx context.Context) ([]string, error)
	// Wipe deletes every record and leaves an empty store behind.
	Wipe(ctx context.Context) error
}

// ArticleLedger remembers articles that were processed successfully.
type ArticleLedger interface {
	Seen(ctx context.Context, url string) (bool, error)
	MarkSeen(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher announces newly persisted notices.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for storage keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
