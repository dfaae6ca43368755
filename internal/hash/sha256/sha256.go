// Package sha256 derives archive keys for downloaded notice documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Hasher implements crawler.Hasher. Inputs that parse as absolute URLs are
// canonicalised first so the same document linked with a different fragment
// or host casing lands on the same key.
type Hasher struct{}

// New returns a document hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 digest of the canonical form of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256([]byte(canonical(string(data))))
	return hex.EncodeToString(sum[:]), nil
}

func canonical(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
