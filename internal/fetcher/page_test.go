package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

type fakeFetcher struct {
	body  string
	err   error
	delay time.Duration
	calls atomic.Int32
	seen  atomic.Value
}

func (f *fakeFetcher) Fetch(ctx context.Context, req discovery.FetchRequest) (discovery.FetchResponse, error) {
	f.calls.Add(1)
	f.seen.Store(req)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return discovery.FetchResponse{}, ctx.Err()
		}
	}
	if f.err != nil {
		return discovery.FetchResponse{}, f.err
	}
	return discovery.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type fixedDetector bool

func (d fixedDetector) ShouldPromote(discovery.FetchResponse) bool { return bool(d) }

func TestFetchPageReturnsProbeBody(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{body: "<html>probe</html>"}
	p := NewPage(Config{Headers: map[string]string{"Accept-Language": "en"}}, probe, nil, nil, nil)
	require.Equal(t, "<html>probe</html>", p.FetchPage(context.Background(), "https://demo.repl.co"))

	req, ok := probe.seen.Load().(discovery.FetchRequest)
	require.True(t, ok)
	require.Equal(t, "en", req.Headers.Get("Accept-Language"))
}

func TestFetchPageSoftFails(t *testing.T) {
	t.Parallel()

	p := NewPage(Config{}, &fakeFetcher{err: errors.New("dns failure")}, nil, nil, nil)
	require.Equal(t, "", p.FetchPage(context.Background(), "https://gone.repl.co"))
}

func TestFetchPageTimeoutSoftFails(t *testing.T) {
	t.Parallel()

	p := NewPage(Config{Timeout: 20 * time.Millisecond}, &fakeFetcher{body: "late", delay: time.Second}, nil, nil, nil)
	start := time.Now()
	require.Equal(t, "", p.FetchPage(context.Background(), "https://slow.repl.co"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFetchPagePromotesToHeadless(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{body: `<div id="__next"></div>`}
	headless := &fakeFetcher{body: "<html>rendered</html>"}
	p := NewPage(Config{}, probe, headless, fixedDetector(true), nil)
	require.Equal(t, "<html>rendered</html>", p.FetchPage(context.Background(), "https://spa.repl.co"))
	require.EqualValues(t, 1, headless.calls.Load())
}

func TestFetchPageHeadlessFailureKeepsProbe(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{body: "shell"}
	headless := &fakeFetcher{err: errors.New("chrome missing")}
	p := NewPage(Config{}, probe, headless, fixedDetector(true), nil)
	require.Equal(t, "shell", p.FetchPage(context.Background(), "https://spa.repl.co"))
}

func TestFetchPageNoPromotionWhenDetectorDeclines(t *testing.T) {
	t.Parallel()

	headless := &fakeFetcher{body: "rendered"}
	p := NewPage(Config{}, &fakeFetcher{body: "static"}, headless, fixedDetector(false), nil)
	require.Equal(t, "static", p.FetchPage(context.Background(), "https://static.repl.co"))
	require.Zero(t, headless.calls.Load())
}
