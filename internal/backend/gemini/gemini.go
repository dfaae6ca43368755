// Package gemini implements the extraction backend on top of the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/interpelli-crawler/internal/extract"
)

// Backend issues generation and file calls against the Gemini API.
type Backend struct {
	client *genai.Client
	logger *zap.Logger
}

// New creates a Backend authenticated with apiKey.
func New(ctx context.Context, apiKey string, logger *zap.Logger) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{client: client, logger: logger}, nil
}

// Generate sends the prompt followed by content and returns the response text.
func (b *Backend) Generate(ctx context.Context, model, prompt, content string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if content != "" {
		parts = append(parts, genai.NewPartFromText(content))
	}
	return b.generate(ctx, model, parts)
}

// GenerateWithFile sends the prompt together with a previously uploaded file.
func (b *Backend) GenerateWithFile(ctx context.Context, model, prompt string, file extract.File) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromURI(file.URI, file.MIMEType),
	}
	return b.generate(ctx, model, parts)
}

func (b *Backend) generate(ctx context.Context, model string, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := b.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", model, err)
	}
	return resp.Text(), nil
}

// Upload stores a local file with the backend.
func (b *Backend) Upload(ctx context.Context, path, mimeType string) (extract.File, error) {
	file, err := b.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return extract.File{}, fmt.Errorf("upload %s: %w", path, err)
	}
	b.logger.Debug("document uploaded", zap.String("path", path), zap.String("file", file.Name))
	return toFile(file), nil
}

// File fetches the current state of an uploaded file.
func (b *Backend) File(ctx context.Context, name string) (extract.File, error) {
	file, err := b.client.Files.Get(ctx, name, nil)
	if err != nil {
		return extract.File{}, fmt.Errorf("get file %s: %w", name, err)
	}
	return toFile(file), nil
}

// Delete removes an uploaded file.
func (b *Backend) Delete(ctx context.Context, name string) error {
	if _, err := b.client.Files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete file %s: %w", name, err)
	}
	return nil
}

func toFile(file *genai.File) extract.File {
	if file == nil {
		return extract.File{State: extract.FileFailed}
	}
	return extract.File{
		Name:     file.Name,
		URI:      file.URI,
		MIMEType: file.MIMEType,
		State:    toState(file.State),
	}
}

func toState(state genai.FileState) extract.FileState {
	switch state {
	case genai.FileStateActive:
		return extract.FileActive
	case genai.FileStateFailed:
		return extract.FileFailed
	default:
		return extract.FileProcessing
	}
}
