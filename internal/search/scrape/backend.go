// Package scrape implements the fallback search backend by scraping an HTML
// results page with colly. Visits are blocking, so the search provider runs
// this backend on its bounded worker pool.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	// DefaultSearchURL is a results page that renders without JavaScript.
	DefaultSearchURL = "https://html.duckduckgo.com/html/?q=%s"
	// DefaultSelector matches result anchors on DefaultSearchURL.
	DefaultSelector = "a.result__a"
	defaultTimeout  = 15 * time.Second
)

// Config controls the backend.
type Config struct {
	// SearchURL is a format string with one %s placeholder for the escaped query.
	SearchURL string
	Selector  string
	UserAgent string
	Timeout   time.Duration
}

// Backend scrapes result links from an HTML search page.
type Backend struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Backend.
func New(cfg Config) *Backend {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Clones share the visited store; the same query may run more than once.
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Backend{cfg: cfg, base: c}
}

// Name identifies the backend in logs and metrics.
func (*Backend) Name() string { return "scrape" }

// Search visits the results page for query and collects up to limit links.
func (b *Backend) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape search: %w", err)
	}
	collector := b.base.Clone()
	collector.SetRequestTimeout(b.cfg.Timeout)
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}

	var (
		links    []string
		seen     = make(map[string]struct{})
		visitErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnHTML(b.cfg.Selector, func(e *colly.HTMLElement) {
		if limit > 0 && len(links) >= limit {
			return
		}
		link := unwrapRedirect(e.Request.AbsoluteURL(e.Attr("href")))
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	target := fmt.Sprintf(b.cfg.SearchURL, url.QueryEscape(query))
	if err := collector.Visit(target); err != nil {
		return nil, fmt.Errorf("scrape visit: %w", err)
	}
	if visitErr != nil {
		return nil, fmt.Errorf("scrape response: %w", visitErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape search: %w", err)
	}
	return links, nil
}

// unwrapRedirect returns the target of result-redirect links (uddg or q parameter).
func unwrapRedirect(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, key := range []string{"uddg", "q", "url"} {
		if target := u.Query().Get(key); strings.HasPrefix(target, "http") {
			return target
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
