// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	repositoriesTotal          *prometheus.CounterVec
	repositoryScores           prometheus.Histogram
	githubRequestsTotal        *prometheus.CounterVec
	searchRequestsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbacksTotal       *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodscout_pages_fetched_total",
				Help: "Candidate pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		repositoriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodscout_repositories_total",
				Help: "Repositories processed, labeled by terminal state.",
			},
			[]string{"state"},
		)

		repositoryScores = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prodscout_repository_score",
				Help:    "Distribution of computed production scores.",
				Buckets: []float64{-20, -10, 0, 5, 10, 15, 20, 25, 30},
			},
		)

		githubRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodscout_github_requests_total",
				Help: "Code host API requests, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodscout_search_requests_total",
				Help: "Search backend calls, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prodscout_rate_limit_delays_seconds",
				Help:    "Histogram of client-side rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodscout_robots_fallbacks_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageFetch counts a candidate page fetch.
func ObservePageFetch(pageURL, outcome string) {
	Init()
	pagesFetchedTotal.WithLabelValues(SanitizeSite(pageURL), outcome).Inc()
}

// ObserveRepository counts a repository reaching a terminal state.
func ObserveRepository(state string) {
	Init()
	repositoriesTotal.WithLabelValues(state).Inc()
}

// ObserveScore records a computed score.
func ObserveScore(score int) {
	Init()
	repositoryScores.Observe(float64(score))
}

// ObserveGitHubRequest counts a code host API call; code 0 means a transport error.
func ObserveGitHubRequest(endpoint string, code int) {
	Init()
	githubRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveSearch counts a search backend call.
func ObserveSearch(backend, outcome string) {
	Init()
	searchRequestsTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe replaced by an allow-all policy.
func ObserveRobotsFallback(rawURL string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}
