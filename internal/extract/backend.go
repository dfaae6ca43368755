// Package extract talks to the language-model extraction backend: it finds
// notice links on listing pages, analyses notice pages and turns documents
// into field sets. Backend failures never escape this package; they are
// logged and reported as empty results.
package extract

import "context"

// FileState is the processing state of an uploaded document.
type FileState string

// Upload states reported by the backend.
const (
	FileProcessing FileState = "PROCESSING"
	FileActive     FileState = "ACTIVE"
	FileFailed     FileState = "FAILED"
)

// File references a document uploaded to the backend.
type File struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
}

// Backend is the black-box analysis capability. Every call returns free-form
// text expected to contain one JSON object or array.
type Backend interface {
	Generate(ctx context.Context, model, prompt, content string) (string, error)
	Upload(ctx context.Context, path, mimeType string) (File, error)
	File(ctx context.Context, name string) (File, error)
	GenerateWithFile(ctx context.Context, model, prompt string, file File) (string, error)
	Delete(ctx context.Context, name string) error
}
