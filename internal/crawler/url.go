package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query keys dropped during normalization.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"source":       {},
	"promo":        {},
	"_ga":          {},
	"_gl":          {},
	"referrer":     {},
}

// NormalizeURL canonicalizes a URL so equivalent links share one key.
// It lowercases the scheme and host, removes default ports, drops the
// fragment and tracking parameters, sorts the remaining query keys, and strips
// trailing slashes from every path except root. Normalizing twice yields the
// same string.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	escaped := strings.TrimRight(u.EscapedPath(), "/")
	if escaped == "" {
		escaped = "/"
	}
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("unescape path: %w", err)
	}
	u.Path = unescaped
	u.RawPath = escaped

	u.RawQuery = cleanQuery(u.Query())
	u.ForceQuery = false

	return u.String(), nil
}

func cleanQuery(values url.Values) string {
	for key := range values {
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			delete(values, key)
		}
	}
	// Encode sorts by key.
	return values.Encode()
}

// SameHost reports whether two absolute URLs share a host (including port).
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && strings.EqualFold(ua.Host, ub.Host)
}
