package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// MaxFilenameStem bounds the normalized part of a scratch filename.
const MaxFilenameStem = 150

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)

// DocumentFilename derives a deterministic scratch filename from a document
// URL. Long URLs are truncated and suffixed with a digest of the full URL so
// that two documents sharing a long prefix never share a file.
func DocumentFilename(rawURL string) string {
	stem := strings.TrimPrefix(rawURL, "https://")
	stem = strings.TrimPrefix(stem, "http://")
	stem = invalidFilenameChars.ReplaceAllString(stem, "_")
	if len(stem) > MaxFilenameStem {
		sum := sha256.Sum256([]byte(rawURL))
		stem = stem[:MaxFilenameStem] + "_" + hex.EncodeToString(sum[:])[:12]
	}
	return stem + ".pdf"
}
