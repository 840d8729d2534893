// Package extract pulls repository links out of fetched HTML.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

var (
	// rawRepoPattern matches github.com and gitlab.com repository URLs anywhere in the document text.
	rawRepoPattern = regexp.MustCompile(`https?://(?:www\.)?(?:github|gitlab)\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+`)
	// anchorRepoPattern applies to anchor hrefs only.
	anchorRepoPattern = regexp.MustCompile(`^https?://(?:www\.)?github\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+`)
)

// Extractor implements discovery.LinkExtractor. It is stateless and safe for concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the set of normalized repository URLs found in html: the
// union of raw-text matches and matching anchor hrefs.
func (Extractor) Extract(html string) map[string]struct{} {
	out := make(map[string]struct{})
	if strings.TrimSpace(html) == "" {
		return out
	}
	for _, match := range rawRepoPattern.FindAllString(html, -1) {
		add(out, match)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if match := anchorRepoPattern.FindString(href); match != "" {
			add(out, match)
		}
	})
	return out
}

func add(set map[string]struct{}, raw string) {
	if normalized := discovery.NormalizeRepoURL(raw); normalized != "" {
		set[normalized] = struct{}{}
	}
}
