// Package github wraps the GitHub REST API calls used to enrich repositories.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/metrics"
)

const (
	// DefaultBaseURL is the public GitHub API root.
	DefaultBaseURL     = "https://api.github.com"
	defaultTimeout     = 12 * time.Second
	defaultPathTimeout = 10 * time.Second
	maxBodyBytes       = 4 << 20
	apiVersion         = "2022-11-28"
)

// Waiter throttles outbound calls; ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the API client.
type Config struct {
	BaseURL     string
	Token       string
	UserAgent   string
	Timeout     time.Duration
	PathTimeout time.Duration
	HTTPClient  *http.Client
	Retry       discovery.RetryPolicy
	Limiter     Waiter
}

// Client issues GitHub REST calls. Each call carries its own timeout.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a Client; zero-valued fields pick defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PathTimeout <= 0 {
		cfg.PathTimeout = defaultPathTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = discovery.NoRetry{}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// HTTPStatusError is returned for unexpected status codes.
type HTTPStatusError struct {
	Endpoint string
	Status   int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("github %s: unexpected status %d", e.Endpoint, e.Status)
}

func (c *Client) get(
	ctx context.Context,
	endpoint, path string,
	query url.Values,
	timeout time.Duration,
) (response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var resp response
	err := discovery.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		var err error
		resp, err = c.once(ctx, endpoint, target, timeout)
		return err
	})
	return resp, err
}

func (c *Client) once(ctx context.Context, endpoint, target string, timeout time.Duration) (response, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, target); err != nil {
			return response{}, fmt.Errorf("github %s: %w", endpoint, err)
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return response{}, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveGitHubRequest(endpoint, 0)
		return response{}, fmt.Errorf("github %s: %w", endpoint, err)
	}
	defer res.Body.Close() //nolint:errcheck // read-only body
	metrics.ObserveGitHubRequest(endpoint, res.StatusCode)

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("read %s body: %w", endpoint, err)
	}
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return response{}, &HTTPStatusError{Endpoint: endpoint, Status: res.StatusCode}
	}
	return response{status: res.StatusCode, header: res.Header, body: body}, nil
}

type repoDocument struct {
	Name          string `json:"name"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Stars         int    `json:"stargazers_count"`
	Forks         int    `json:"forks_count"`
	Language      string `json:"language"`
	Archived      bool   `json:"archived"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
	License *struct {
		SPDXID string `json:"spdx_id"`
		Name   string `json:"name"`
	} `json:"license"`
}

func repoPath(owner, name string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

// GetRepo fetches base metadata. A 404 yields discovery.ErrNotFound.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (discovery.RepoMetadata, error) {
	resp, err := c.get(ctx, "repo", repoPath(owner, name), nil, c.cfg.Timeout)
	if err != nil {
		return discovery.RepoMetadata{}, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return discovery.RepoMetadata{}, fmt.Errorf("github repo %s/%s: %w", owner, name, discovery.ErrNotFound)
	default:
		return discovery.RepoMetadata{}, &HTTPStatusError{Endpoint: "repo", Status: resp.status}
	}
	var doc repoDocument
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return discovery.RepoMetadata{}, fmt.Errorf("decode repo %s/%s: %w", owner, name, err)
	}
	meta := discovery.RepoMetadata{
		Owner:         doc.Owner.Login,
		Name:          doc.Name,
		HTMLURL:       doc.HTMLURL,
		CloneURL:      doc.CloneURL,
		DefaultBranch: doc.DefaultBranch,
		Stars:         doc.Stars,
		Forks:         doc.Forks,
		Language:      doc.Language,
		Archived:      doc.Archived,
	}
	if meta.Owner == "" {
		meta.Owner = owner
	}
	if meta.Name == "" {
		meta.Name = name
	}
	if doc.License != nil {
		meta.License = doc.License.SPDXID
		if meta.License == "" || meta.License == "NOASSERTION" {
			meta.License = doc.License.Name
		}
	}
	return meta, nil
}

// CommitCount returns the number of commits on the default branch.
func (c *Client) CommitCount(ctx context.Context, owner, name string) (int, error) {
	return c.count(ctx, "commits", repoPath(owner, name)+"/commits")
}

// ContributorCount returns the number of contributors.
func (c *Client) ContributorCount(ctx context.Context, owner, name string) (int, error) {
	return c.count(ctx, "contributors", repoPath(owner, name)+"/contributors")
}

// count requests a single item per page: the rel="last" page number is the
// total; without pagination the count is the length of the one page. 202
// (statistics still computing) and 404/409 (empty repository) count as zero.
func (c *Client) count(ctx context.Context, endpoint, path string) (int, error) {
	resp, err := c.get(ctx, endpoint, path, url.Values{"per_page": {"1"}}, c.cfg.Timeout)
	if err != nil {
		return 0, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusAccepted, http.StatusNoContent, http.StatusNotFound, http.StatusConflict:
		return 0, nil
	default:
		return 0, &HTTPStatusError{Endpoint: endpoint, Status: resp.status}
	}
	if n, ok := lastPage(resp.header.Get("Link")); ok {
		return n, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(resp.body, &items); err != nil {
		return 0, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return len(items), nil
}

// PathExists reports whether path exists in the repository's default branch.
func (c *Client) PathExists(ctx context.Context, owner, name, path string) (bool, error) {
	resp, err := c.get(ctx, "contents", repoPath(owner, name)+"/contents/"+path, nil, c.cfg.PathTimeout)
	if err != nil {
		return false, err
	}
	switch resp.status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &HTTPStatusError{Endpoint: "contents", Status: resp.status}
	}
}

// ReadmeLength returns the decoded README size in bytes, or 0 when absent.
func (c *Client) ReadmeLength(ctx context.Context, owner, name string) (int, error) {
	resp, err := c.get(ctx, "readme", repoPath(owner, name)+"/readme", nil, c.cfg.PathTimeout)
	if err != nil {
		return 0, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, nil
	default:
		return 0, &HTTPStatusError{Endpoint: "readme", Status: resp.status}
	}
	var doc struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		Size     int    `json:"size"`
	}
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return 0, fmt.Errorf("decode readme: %w", err)
	}
	if doc.Encoding != "" && doc.Encoding != "base64" {
		return len(doc.Content), nil
	}
	// The API wraps base64 content at 60 columns.
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(doc.Content)
	decoded, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		if doc.Size > 0 {
			return doc.Size, nil
		}
		return 0, fmt.Errorf("decode readme content: %w", err)
	}
	return len(decoded), nil
}

// SearchRepositories lists repository URLs matching query with more than
// minStars stars, most starred first.
func (c *Client) SearchRepositories(ctx context.Context, query string, minStars, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := strings.TrimSpace(query)
	if minStars > 0 {
		q = strings.TrimSpace(fmt.Sprintf("%s stars:>%d", q, minStars))
	}
	params := url.Values{
		"q":        {q},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {fmt.Sprint(limit)},
	}
	resp, err := c.get(ctx, "search", "/search/repositories", params, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &HTTPStatusError{Endpoint: "search", Status: resp.status}
	}
	var doc struct {
		Items []struct {
			HTMLURL string `json:"html_url"`
		} `json:"items"`
	}
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	out := make([]string, 0, len(doc.Items))
	for _, item := range doc.Items {
		if normalized := discovery.NormalizeRepoURL(item.HTMLURL); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out, nil
}

// IsNotFound reports whether err marks a missing repository.
func IsNotFound(err error) bool {
	return errors.Is(err, discovery.ErrNotFound)
}
