// Package urlutil provides the canonical URL form used as identity across the
// catalog, candidates, and the queue, plus URL extraction from free text.
package urlutil

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrNotHTTP is returned for URLs whose scheme is not http or https.
var ErrNotHTTP = errors.New("url scheme must be http or https")

// Canonical normalizes a raw URL to its canonical identity form: lowercase
// scheme and host, http(s) only, no userinfo, no fragment, no trailing slash.
// The query string is preserved.
func Canonical(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrNotHTTP
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	if u.Host == "" {
		return "", errors.New("url has no hostname")
	}
	return u.String(), nil
}

// urlPattern matches http(s) URLs embedded in prose.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// trailingPunct strips punctuation that prose attaches to a URL's tail.
const trailingPunct = ".,;:!?'\")]}"

// Extract scans free text for URLs, strips trailing punctuation, dedupes by
// canonical form, and returns at most max results in order of appearance.
// Raw (as-written) and canonical forms are returned in lockstep.
func Extract(text string, max int) (raw []string, canonical []string) {
	seen := make(map[string]bool)
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, trailingPunct)
		c, err := Canonical(m)
		if err != nil || seen[c] {
			continue
		}
		seen[c] = true
		raw = append(raw, m)
		canonical = append(canonical, c)
		if max > 0 && len(raw) >= max {
			break
		}
	}
	return raw, canonical
}
