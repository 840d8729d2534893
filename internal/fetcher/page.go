// Package fetcher turns candidate page URLs into HTML bodies. The probe fetch
// goes through a static Fetcher; pages that look client-rendered are optionally
// promoted to a headless renderer.
package fetcher

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/metrics"
)

// Page outcomes recorded in metrics.
const (
	OutcomeOK       = "ok"
	OutcomeHeadless = "headless"
	OutcomeFailed   = "failed"
)

const defaultTimeout = 12 * time.Second

// Config wires the page fetcher.
type Config struct {
	Timeout time.Duration
	Headers map[string]string
}

// Page implements discovery.PageFetcher. It never returns an error.
type Page struct {
	cfg      Config
	probe    discovery.Fetcher
	headless discovery.Fetcher
	detector discovery.HeadlessDetector
	logger   *zap.Logger
}

// NewPage creates a Page. headless and detector may both be nil to disable promotion.
func NewPage(cfg Config, probe discovery.Fetcher, headless discovery.Fetcher, detector discovery.HeadlessDetector, logger *zap.Logger) *Page {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{
		cfg:      cfg,
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// FetchPage returns the page body, or "" if the page could not be retrieved.
func (p *Page) FetchPage(ctx context.Context, url string) string {
	req := discovery.FetchRequest{URL: url}
	if len(p.cfg.Headers) > 0 {
		req.Headers = make(http.Header, len(p.cfg.Headers))
		for k, v := range p.cfg.Headers {
			req.Headers.Set(k, v)
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	resp, err := p.probe.Fetch(probeCtx, req)
	cancel()
	if err != nil {
		p.logger.Warn("page fetch failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePageFetch(url, OutcomeFailed)
		return ""
	}

	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		metrics.ObservePageFetch(url, OutcomeOK)
		return string(resp.Body)
	}

	rendered, err := p.headless.Fetch(ctx, req)
	if err != nil {
		p.logger.Warn("headless render failed, keeping probe body", zap.String("url", url), zap.Error(err))
		metrics.ObservePageFetch(url, OutcomeOK)
		return string(resp.Body)
	}
	p.logger.Debug("page rendered headless", zap.String("url", url), zap.Duration("duration", rendered.Duration))
	metrics.ObservePageFetch(url, OutcomeHeadless)
	return string(rendered.Body)
}
