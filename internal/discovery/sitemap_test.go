package discovery

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/about/</loc></url>
  <url><loc> https://example.com/team?utm_source=sitemap </loc></url>
  <url><loc>https://example.com/about</loc></url>
  <url><loc>https://example.com/report.pdf</loc></url>
  <url><loc>https://cdn.example.net/asset</loc></url>
</urlset>`

func TestSitemapCandidates(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"https://example.com/sitemap.xml",
		"https://example.com/sitemap_index.xml",
	}, sitemapCandidates("https://example.com/"))

	require.Equal(t, []string{
		"http://example.com/en/sitemap.xml",
		"http://example.com/en/sitemap_index.xml",
		"https://example.com/sitemap.xml",
		"https://example.com/sitemap_index.xml",
	}, sitemapCandidates("http://example.com/en"))
}

func TestSitemapLoaderURLSet(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/sitemap.xml": urlsetXML,
	})
	loader := NewSitemapLoader(fetcher, crawler.NewSkipFilter(), 0, zap.NewNop())

	locs := loader.Load(context.Background(), "https://example.com/")
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/team",
	}, locs)
}

func TestSitemapLoaderIndexLimitsChildren(t *testing.T) {
	t.Parallel()

	index := `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/s1.xml</loc></sitemap>
  <sitemap><loc>https://example.com/s2.xml</loc></sitemap>
  <sitemap><loc>https://example.com/s3.xml</loc></sitemap>
  <sitemap><loc>https://example.com/s4.xml</loc></sitemap>
  <sitemap><loc>https://example.com/s5.xml</loc></sitemap>
  <sitemap><loc>https://example.com/s6.xml</loc></sitemap>
</sitemapindex>`
	child := func(path string) string {
		return `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>https://example.com/` +
			path + `</loc></url></urlset>`
	}
	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/sitemap.xml": index,
		"https://example.com/s1.xml":      child("one"),
		"https://example.com/s2.xml":      "not xml at all <<<",
		"https://example.com/s3.xml":      child("three"),
		"https://example.com/s4.xml":      child("four"),
		"https://example.com/s5.xml":      child("five"),
		"https://example.com/s6.xml":      child("six"),
	})
	loader := NewSitemapLoader(fetcher, crawler.NewSkipFilter(), 0, nil)

	locs := loader.Load(context.Background(), "https://example.com/")
	require.Equal(t, []string{
		"https://example.com/one",
		"https://example.com/three",
		"https://example.com/four",
		"https://example.com/five",
	}, locs)
	require.Zero(t, fetcher.count("https://example.com/s6.xml"), "only the first five children are fetched")
}

func TestSitemapLoaderFallsThroughCandidates(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/sitemap_index.xml": urlsetXML,
	})
	fetcher.statuses["https://example.com/sitemap.xml"] = http.StatusNotFound
	loader := NewSitemapLoader(fetcher, crawler.NewSkipFilter(), 0, nil)

	locs := loader.Load(context.Background(), "https://example.com/")
	require.Len(t, locs, 2)
	require.Equal(t, 1, fetcher.count("https://example.com/sitemap.xml"), "no retries per candidate")
}

func TestSitemapLoaderNoSitemapIsNotFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/sitemap.xml": "<html><body>soft 404</body></html>",
	})
	loader := NewSitemapLoader(fetcher, nil, 0, nil)
	require.Empty(t, loader.Load(context.Background(), "https://example.com/"))
	require.Len(t, fetcher.Requests(), 2)
}
