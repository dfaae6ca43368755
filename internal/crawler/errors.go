package crawler

import "errors"

var (
	// ErrDuplicate is returned by a RecordSink when the uniqueness triple already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound marks a resource that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidFilter is returned when a query filter sets none or both criteria.
	ErrInvalidFilter = errors.New("filter must set exactly one of class code or min hours")
)
