package discovery

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

const (
	rootScore    = 100
	baseScore    = 50
	depthPenalty = 5
	queryPenalty = 5
)

var contextBonus = map[crawler.LinkContext]int{
	crawler.ContextNav:      30,
	crawler.ContextFooter:   20,
	crawler.ContextHomepage: 25,
}

// Score ranks a URL in [0,100]. The root path always scores 100; everything
// else starts at 50 and is adjusted by where the link was found, how many path
// segments it has, how deep it sits, and whether it carries a query.
func Score(rawURL string, linkCtx crawler.LinkContext, depth int) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	if u.Path == "" || u.Path == "/" {
		return rootScore
	}

	score := baseScore + contextBonus[linkCtx]
	score += segmentBonus(pathSegments(u.Path))
	score -= depthPenalty * depth
	if u.RawQuery != "" {
		score -= queryPenalty
	}
	return clamp(score, 0, 100)
}

func pathSegments(p string) int {
	count := 0
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			count++
		}
	}
	return count
}

func segmentBonus(segments int) int {
	switch {
	case segments <= 1:
		return 20
	case segments == 2:
		return 10
	case segments == 3:
		return 0
	case segments == 4:
		return -10
	default:
		return -20
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
