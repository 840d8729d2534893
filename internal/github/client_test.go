package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

type fakeGitHub struct {
	repoStatus    int
	repoBody      string
	commitsLink   string
	commitsStatus int
	contributors  string
	contribStatus int
	paths         map[string]int
	readme        string
	repoCalls     atomic.Int32
	lastAuth      atomic.Value
	lastAccept    atomic.Value
	lastSearchQ   atomic.Value
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		repoStatus: http.StatusOK,
		repoBody: `{"name":"widget","html_url":"https://github.com/acme/widget","stargazers_count":150,
"forks_count":60,"language":"Go","archived":false,"owner":{"login":"acme"},
"license":{"spdx_id":"MIT","name":"MIT License"}}`,
		commitsLink:   `<https://api.github.com/repositories/1/commits?per_page=1&page=2>; rel="next", <https://api.github.com/repositories/1/commits?per_page=1&page=600>; rel="last"`,
		commitsStatus: http.StatusOK,
		contributors:  `[{"login":"a"}]`,
		contribStatus: http.StatusOK,
		paths: map[string]int{
			PathWorkflows:    http.StatusOK,
			PathDockerfile:   http.StatusOK,
			PathProcfile:     http.StatusNotFound,
			PathPackageJSON:  http.StatusOK,
			PathRequirements: http.StatusNotFound,
		},
		readme: strings.Repeat("r", 2500),
	}
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastAuth.Store(r.Header.Get("Authorization"))
	f.lastAccept.Store(r.Header.Get("Accept"))
	path := r.URL.Path
	switch {
	case path == "/search/repositories":
		f.lastSearchQ.Store(r.URL.Query().Get("q"))
		_, _ = fmt.Fprint(w, `{"items":[{"html_url":"https://github.com/acme/widget"},{"html_url":"https://github.com/acme/tool"}]}`)
	case path == "/repos/acme/widget":
		f.repoCalls.Add(1)
		w.WriteHeader(f.repoStatus)
		_, _ = fmt.Fprint(w, f.repoBody)
	case path == "/repos/acme/widget/commits":
		if f.commitsLink != "" {
			w.Header().Set("Link", f.commitsLink)
		}
		w.WriteHeader(f.commitsStatus)
		_, _ = fmt.Fprint(w, `[{"sha":"abc"}]`)
	case path == "/repos/acme/widget/contributors":
		w.WriteHeader(f.contribStatus)
		_, _ = fmt.Fprint(w, f.contributors)
	case path == "/repos/acme/widget/readme":
		content := base64.StdEncoding.EncodeToString([]byte(f.readme))
		_, _ = fmt.Fprintf(w, `{"content":%q,"encoding":"base64"}`, wrap(content, 60))
	case strings.HasPrefix(path, "/repos/acme/widget/contents/"):
		status, ok := f.paths[strings.TrimPrefix(path, "/repos/acme/widget/contents/")]
		if !ok {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, `{}`)
	default:
		http.NotFound(w, r)
	}
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\n")
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tkn", Timeout: 2 * time.Second}, zap.NewNop())
}

func TestEnrichJoinsAllSubCalls(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	fake.contributors = `[` + strings.TrimSuffix(strings.Repeat(`{"login":"x"},`, 12), ",") + `]`
	client := newTestClient(t, fake)

	got, err := client.Enrich(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.Equal(t, int32(1), fake.repoCalls.Load())
	require.Equal(t, 150, got.Metadata.Stars)
	require.Equal(t, 60, got.Metadata.Forks)
	require.Equal(t, "MIT", got.Metadata.License)
	require.Equal(t, "Go", got.Metadata.Language)
	require.Equal(t, 600, got.Commits)
	require.Equal(t, 12, got.Contributors)
	require.True(t, got.HasCI)
	require.True(t, got.HasDockerfile)
	require.False(t, got.HasProcfile)
	require.True(t, got.HasPackageJSON)
	require.False(t, got.HasRequirements)
	require.Equal(t, 2500, got.ReadmeLength)
	require.Equal(t, "Bearer tkn", fake.lastAuth.Load())
	require.Equal(t, "application/vnd.github+json", fake.lastAccept.Load())
}

func TestEnrichNotFound(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	fake.repoStatus = http.StatusNotFound
	client := newTestClient(t, fake)

	_, err := client.Enrich(context.Background(), "acme", "widget")
	require.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestEnrichArchived(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	fake.repoBody = `{"name":"widget","archived":true,"owner":{"login":"acme"}}`
	client := newTestClient(t, fake)

	_, err := client.Enrich(context.Background(), "acme", "widget")
	require.ErrorIs(t, err, discovery.ErrArchived)
}

func TestEnrichSubCallFailureDefaultsFeature(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	fake.paths[PathDockerfile] = http.StatusInternalServerError
	fake.contribStatus = http.StatusBadGateway
	client := newTestClient(t, fake)

	got, err := client.Enrich(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.False(t, got.HasDockerfile)
	require.Equal(t, 0, got.Contributors)
	require.True(t, got.HasCI)
	require.Equal(t, 600, got.Commits)
}

func TestEnrichSubCallTimeoutDefaultsFeature(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/contents/"+PathProcfile) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		fake.ServeHTTP(w, r)
	})
	fake.paths[PathProcfile] = http.StatusOK
	srv := httptest.NewServer(slow)
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, Timeout: time.Second, PathTimeout: 100 * time.Millisecond}, zap.NewNop())

	got, err := client.Enrich(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.False(t, got.HasProcfile)
	require.True(t, got.HasDockerfile)
}

func TestCountWithoutLinkUsesItemCount(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	fake.commitsLink = ""
	client := newTestClient(t, fake)

	n, err := client.CommitCount(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCountAcceptedIsZero(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	fake.contribStatus = http.StatusAccepted
	fake.contributors = `{}`
	client := newTestClient(t, fake)

	n, err := client.ContributorCount(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSearchRepositories(t *testing.T) {
	t.Parallel()

	fake := newFakeGitHub()
	client := newTestClient(t, fake)

	urls, err := client.SearchRepositories(context.Background(), "flask replit", 50, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://github.com/acme/widget", "https://github.com/acme/tool"}, urls)
	require.Equal(t, "flask replit stars:>50", fake.lastSearchQ.Load())
}

func TestRetryPolicyIsHonored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, `{"name":"widget","owner":{"login":"acme"}}`)
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := New(Config{
		BaseURL: srv.URL,
		Retry:   discovery.NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond),
	}, zap.NewNop())

	meta, err := client.GetRepo(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.Equal(t, "widget", meta.Name)
	require.Equal(t, int32(3), calls.Load())
}

func TestDefaultIsOneShot(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL}, zap.NewNop())

	_, err := client.GetRepo(context.Background(), "acme", "widget")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestLastPage(t *testing.T) {
	t.Parallel()

	n, ok := lastPage(`<https://api.github.com/x?per_page=1&page=2>; rel="next", <https://api.github.com/x?per_page=1&page=42>; rel="last"`)
	require.True(t, ok)
	require.Equal(t, 42, n)

	_, ok = lastPage(`<https://api.github.com/x?page=2>; rel="next"`)
	require.False(t, ok)

	_, ok = lastPage("")
	require.False(t, ok)
}
