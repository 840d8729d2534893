package serpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

func TestSearchParsesOrganicResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search.json", r.URL.Path)
		require.Equal(t, "site:repl.co flask", r.URL.Query().Get("q"))
		require.Equal(t, "key", r.URL.Query().Get("api_key"))
		require.Equal(t, "2", r.URL.Query().Get("num"))
		_, _ = fmt.Fprint(w, `{"organic_results":[{"link":"https://a.repl.co"},{"url":"https://b.repl.co"},{"link":"https://c.repl.co"}]}`)
	}))
	defer srv.Close()

	b := New(Config{APIKey: "key", BaseURL: srv.URL})
	links, err := b.Search(context.Background(), "site:repl.co flask", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.repl.co", "https://b.repl.co"}, links)
}

func TestSearchWithoutKeyIsConfigurationMissing(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Search(context.Background(), "q", 5)
	require.ErrorIs(t, err, discovery.ErrConfigurationMissing)
}

func TestSearchReportsAPIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"error":"Invalid API key."}`)
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "bad", BaseURL: srv.URL}).Search(context.Background(), "q", 5)
	require.ErrorContains(t, err, "Invalid API key")
}

func TestSearchNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Search(context.Background(), "q", 5)
	require.ErrorContains(t, err, "429")
}

func TestSearchTransportErrorOmitsAPIKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	_, err := New(Config{APIKey: "SECRET123", BaseURL: base}).Search(context.Background(), "q", 5)
	require.Error(t, err)
	require.NotContains(t, err.Error(), "SECRET123")
	require.Contains(t, err.Error(), "q=q")
}
