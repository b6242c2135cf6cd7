package sha256

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

func TestHashKnownDigest(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		New().Hash([]byte("hello world")),
	)
}

func TestFingerprintIgnoresFetchDetails(t *testing.T) {
	t.Parallel()

	h := New()
	base := crawler.FetchResult{
		URL:      "https://example.com/about",
		Metadata: crawler.Metadata{Title: "About", ExtractedAt: time.Unix(1, 0)},
		Content:  "Acme builds widgets.",
		Attempts: 1,
	}
	first, err := h.Fingerprint(base)
	require.NoError(t, err)

	refetched := base
	refetched.Metadata.ExtractedAt = time.Unix(99, 0)
	refetched.Attempts = 3
	second, err := h.Fingerprint(refetched)
	require.NoError(t, err)
	require.Equal(t, first, second)

	changed := base
	changed.Content = "Acme builds gadgets."
	third, err := h.Fingerprint(changed)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
	require.Len(t, third, 64)
}
