// Package sha256 fingerprints extracted page content with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// fingerprintInput is the part of a result that identifies its content.
// Fetch timestamps, attempts and link targets are left out so a re-fetch of an
// unchanged page yields the same digest.
type fingerprintInput struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Content     string              `json:"content"`
	Headings    []crawler.Heading   `json:"headings"`
	Contact     crawler.ContactInfo `json:"contact_info"`
}

// Fingerprint returns the hex digest of the result's extracted content.
func (h *Hasher) Fingerprint(result crawler.FetchResult) (string, error) {
	data, err := json.Marshal(fingerprintInput{
		Title:       result.Metadata.Title,
		Description: result.Metadata.Description,
		Content:     result.Content,
		Headings:    result.Headings,
		Contact:     result.ContactInfo,
	})
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint input: %w", err)
	}
	return h.Hash(data), nil
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
