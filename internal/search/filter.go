package search

import (
	"net/url"
	"strings"
)

// DomainOf returns the host of a URL without a leading "www.".
func DomainOf(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}

// canonicalURL is the dedupe key: domain plus path, ignoring scheme,
// query, fragment and trailing slash.
func canonicalURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return strings.TrimSpace(urlStr)
	}
	return DomainOf(urlStr) + strings.TrimSuffix(parsed.EscapedPath(), "/")
}

// Dedupe drops results whose URL repeats an earlier one and results with
// neither URL nor snippet. Order is preserved.
func Dedupe(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		if r.URL == "" && strings.TrimSpace(r.Snippet) == "" {
			continue
		}
		key := canonicalURL(r.URL)
		if r.URL != "" && seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// Merge concatenates result sets and dedupes across them.
func Merge(sets ...[]Result) []Result {
	var all []Result
	for _, s := range sets {
		all = append(all, s...)
	}
	return Dedupe(all)
}
