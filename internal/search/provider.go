// Package search resolves queries to candidate page URLs, falling back from the
// primary paid backend to a scraping backend that runs on a bounded worker pool.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/metrics"
)

// DefaultHosts are the deployment hosts whose pages are worth fetching.
var DefaultHosts = []string{"repl.co", "replit.com", "replit.app", "repl.run"}

// Config controls the provider.
type Config struct {
	// FallbackWorkers bounds concurrent fallback searches (default 2).
	FallbackWorkers int
	// Hosts filters candidate URLs by host suffix; empty keeps everything.
	Hosts []string
}

// Provider implements discovery.Searcher.
type Provider struct {
	primary  discovery.SearchBackend
	fallback discovery.SearchBackend
	pool     *Pool
	hosts    []string
	logger   *zap.Logger
}

// NewProvider wires the backends. Either may be nil; the fallback pool is only
// started when a fallback backend is present.
func NewProvider(
	cfg Config,
	primary, fallback discovery.SearchBackend,
	logger *zap.Logger,
) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		primary:  primary,
		fallback: fallback,
		hosts:    normalizeHosts(cfg.Hosts),
		logger:   logger,
	}
	if fallback != nil {
		p.pool = NewPool(cfg.FallbackWorkers)
	}
	return p
}

// Close stops the fallback pool.
func (p *Provider) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Search returns up to limit filtered candidate URLs for query. Any primary
// failure, including a missing credential, triggers the fallback.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]string, error) {
	log := p.logger.With(zap.String("query", query))
	links, primaryErr := p.searchPrimary(ctx, query, limit)
	if primaryErr == nil {
		return p.filter(links, limit), nil
	}
	if p.fallback == nil {
		return nil, primaryErr
	}
	log.Info("primary search failed, using fallback",
		zap.String("fallback", p.fallback.Name()),
		zap.Error(primaryErr),
	)
	future := p.pool.Submit(ctx, func(ctx context.Context) ([]string, error) {
		return p.fallback.Search(ctx, query, limit)
	})
	links, err := future.Await(ctx)
	if err != nil {
		metrics.ObserveSearch(p.fallback.Name(), "error")
		return nil, fmt.Errorf("search %q: %w", query, errors.Join(primaryErr, err))
	}
	metrics.ObserveSearch(p.fallback.Name(), "ok")
	return p.filter(links, limit), nil
}

func (p *Provider) searchPrimary(ctx context.Context, query string, limit int) ([]string, error) {
	if p.primary == nil {
		return nil, fmt.Errorf("primary search backend: %w", discovery.ErrConfigurationMissing)
	}
	links, err := p.primary.Search(ctx, query, limit)
	if err != nil {
		metrics.ObserveSearch(p.primary.Name(), "error")
		return nil, err
	}
	metrics.ObserveSearch(p.primary.Name(), "ok")
	return links, nil
}

// filter keeps deployment-host URLs with query and fragment stripped, in order, without duplicates.
func (p *Provider) filter(links []string, limit int) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		candidate, ok := CandidateURL(link, p.hosts)
		if !ok {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// CandidateURL strips query and fragment from raw and reports whether its host
// matches one of hosts (exact or subdomain). Empty hosts accepts any http(s) URL.
func CandidateURL(raw string, hosts []string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	if len(hosts) == 0 {
		return u.String(), true
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return u.String(), true
		}
	}
	return "", false
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "."))
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
