package crawler

import "strings"

// defaultSkipPatterns mark non-HTML assets and known non-content endpoints.
var defaultSkipPatterns = []string{
	// documents
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	// archives
	".zip", ".rar", ".tar", ".gz",
	// images
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico", ".webp",
	// media
	".mp3", ".mp4", ".avi", ".mov", ".wmv",
	// static assets
	".css", ".js", ".json", ".xml",
	// technical endpoints
	"/wp-json/", "/wp-content/uploads/", "/wp-admin/", "/api/", "/feed/", "/rss/",
	// comment and attachment actions
	"?replytocom=", "?attachment_id=", "/trackback/",
}

// SkipFilter rejects URLs whose lowercased form contains a blocked substring.
type SkipFilter struct {
	patterns []string
}

// NewSkipFilter builds a filter from the default patterns plus any extras.
func NewSkipFilter(extra ...string) *SkipFilter {
	patterns := make([]string, 0, len(defaultSkipPatterns)+len(extra))
	patterns = append(patterns, defaultSkipPatterns...)
	for _, raw := range extra {
		value := strings.ToLower(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		patterns = append(patterns, value)
	}
	return &SkipFilter{patterns: patterns}
}

// ShouldSkip reports whether the URL should never enter discovery.
func (f *SkipFilter) ShouldSkip(rawURL string) bool {
	if f == nil {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, pattern := range f.patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
