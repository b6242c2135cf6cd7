// Package discovery finds and ranks the pages of a site. It seeds from the
// sitemap when one exists, then walks same-host links breadth-first within a
// depth limit and a total URL budget.
package discovery
