// Package serpapi implements the paid primary search backend.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

const (
	// DefaultBaseURL is the SerpAPI endpoint root.
	DefaultBaseURL = "https://serpapi.com"
	defaultTimeout = 20 * time.Second
	defaultEngine  = "google"
)

// Config controls the backend.
type Config struct {
	APIKey     string
	BaseURL    string
	Engine     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Backend queries SerpAPI's JSON search endpoint.
type Backend struct {
	cfg  Config
	http *http.Client
}

// New builds a Backend. A missing API key is reported per call, not here, so
// the provider can fall back.
func New(cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Engine == "" {
		cfg.Engine = defaultEngine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{cfg: cfg, http: client}
}

// Name identifies the backend in logs and metrics.
func (*Backend) Name() string { return "serpapi" }

type searchResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Link string `json:"link"`
		URL  string `json:"url"`
	} `json:"organic_results"`
}

// Search returns organic result links for query.
func (b *Backend) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return nil, fmt.Errorf("serpapi api key: %w", discovery.ErrConfigurationMissing)
	}
	params := url.Values{
		"engine":  {b.cfg.Engine},
		"q":       {query},
		"api_key": {b.cfg.APIKey},
	}
	if limit > 0 {
		params.Set("num", strconv.Itoa(limit))
	}
	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	target := strings.TrimRight(b.cfg.BaseURL, "/") + "/search.json?" + params.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build serpapi request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %w", redact(err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read serpapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi status %d", resp.StatusCode)
	}
	var doc searchResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode serpapi response: %w", err)
	}
	if doc.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", doc.Error)
	}
	links := make([]string, 0, len(doc.OrganicResults))
	for _, r := range doc.OrganicResults {
		link := r.Link
		if link == "" {
			link = r.URL
		}
		if link == "" {
			continue
		}
		links = append(links, link)
		if limit > 0 && len(links) >= limit {
			break
		}
	}
	return links, nil
}

// redact strips the api_key parameter from the URL carried by transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, perr := url.Parse(urlErr.URL)
	if perr != nil {
		return &url.Error{Op: urlErr.Op, URL: "<redacted>", Err: urlErr.Err}
	}
	q := u.Query()
	q.Del("api_key")
	u.RawQuery = q.Encode()
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}
