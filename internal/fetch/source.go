package fetch

import (
	"net/url"
	"strings"
)

// SourceKind is a coarse classification of where a page comes from.
type SourceKind string

const (
	SourceAcademic   SourceKind = "academic"
	SourceGovernment SourceKind = "government"
	SourceReference  SourceKind = "reference"
	SourceNews       SourceKind = "news"
	SourceForum      SourceKind = "forum"
	SourceSocial     SourceKind = "social"
	SourceUnknown    SourceKind = "unknown"
)

var (
	academicHosts  = []string{"arxiv.org", "nature.com", "sciencedirect.com", "springer.com", "ieee.org", "acm.org", "pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov", "jstor.org", "semanticscholar.org"}
	referenceHosts = []string{"wikipedia.org", "britannica.com", "investopedia.com"}
	newsHosts      = []string{"reuters.com", "apnews.com", "bbc.co.uk", "bbc.com", "nytimes.com", "ft.com", "theguardian.com", "bloomberg.com", "economist.com", "wsj.com"}
	forumHosts     = []string{"reddit.com", "stackexchange.com", "stackoverflow.com", "quora.com", "news.ycombinator.com"}
	socialHosts    = []string{"twitter.com", "x.com", "facebook.com", "instagram.com", "tiktok.com", "linkedin.com", "medium.com"}
)

// DetectSourceKind classifies a URL by host.
func DetectSourceKind(urlStr string) SourceKind {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return SourceUnknown
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	switch {
	case strings.HasSuffix(host, ".edu") || strings.Contains(host, ".ac.") || matchesHost(host, academicHosts):
		return SourceAcademic
	case isGovernmentHost(host):
		return SourceGovernment
	case matchesHost(host, referenceHosts):
		return SourceReference
	case matchesHost(host, newsHosts):
		return SourceNews
	case matchesHost(host, forumHosts):
		return SourceForum
	case matchesHost(host, socialHosts):
		return SourceSocial
	default:
		return SourceUnknown
	}
}

// isGovernmentHost matches .gov and .int hosts and gov under a country
// code (gov.uk, health.gov.au)
func isGovernmentHost(host string) bool {
	labels := strings.Split(host, ".")
	n := len(labels)
	if labels[n-1] == "gov" || labels[n-1] == "int" {
		return true
	}
	return n >= 2 && labels[n-2] == "gov" && len(labels[n-1]) == 2
}

func matchesHost(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// CredibilityPrior is a starting credibility score (0-10) for a source kind.
// Evidence scoring may move away from it.
func CredibilityPrior(kind SourceKind) float64 {
	switch kind {
	case SourceAcademic, SourceGovernment:
		return 8
	case SourceReference, SourceNews:
		return 7
	case SourceForum:
		return 4
	case SourceSocial:
		return 3
	default:
		return 5
	}
}

// SourceContentSelectors returns content selectors suited to a source kind.
func SourceContentSelectors(kind SourceKind) []string {
	switch kind {
	case SourceAcademic:
		return append([]string{".abstract", "#abstract", "section.abstract", ".article-body", ".c-article-body"}, DefaultTextSelectors()...)
	case SourceReference:
		return append([]string{"#mw-content-text", ".mw-parser-output"}, DefaultTextSelectors()...)
	case SourceNews:
		return append([]string{"[itemprop='articleBody']", ".article-body", ".story-body"}, DefaultTextSelectors()...)
	default:
		return DefaultTextSelectors()
	}
}

// SourceNoiseSelectors returns extra elements to strip for a source kind.
func SourceNoiseSelectors(kind SourceKind) []string {
	common := []string{
		".social-share",
		".share-buttons",
		".newsletter-signup",
		".related-articles",
		".cookie-consent",
		".gdpr-notice",
	}
	switch kind {
	case SourceReference:
		return append(common, ".navbox", ".reflist", ".mw-editsection", "#toc")
	case SourceNews:
		return append(common, ".paywall", ".subscription-prompt", ".comments")
	case SourceForum:
		return append(common, ".sidebar", ".vote-buttons")
	default:
		return common
	}
}
