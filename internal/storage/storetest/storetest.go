// Package storetest is a behavioral suite every discovery.RepositoryStore
// engine runs against itself.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) discovery.RepositoryStore

// Now is the reference time records are stamped relative to.
var Now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// Record builds a minimal valid record.
func Record(owner, repo string, score int) discovery.RepositoryRecord {
	category := discovery.CategoryNonProduction
	if score >= 10 {
		category = discovery.CategoryProduction
	}
	return discovery.RepositoryRecord{
		RepoURL:       fmt.Sprintf("https://github.com/%s/%s", owner, repo),
		Owner:         owner,
		Repo:          repo,
		Score:         score,
		Category:      category,
		LastProcessed: Now,
	}
}

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("upsert and exists", func(t *testing.T) {
		store := open(t, factory)
		ctx := context.Background()

		rec := Record("acme", "widget", 27)
		rec.Stars = 150
		rec.License = "MIT"
		rec.Language = "Python"
		rec.HasCI = true
		rec.HasPackageJSON = true
		rec.SecretFindings = discovery.FindingsUnknown
		rec.PagesLinking = []string{"https://a.repl.co", "https://b.repl.co"}

		ok, err := store.Exists(ctx, rec.RepoURL)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.Upsert(ctx, rec))
		ok, err = store.Exists(ctx, rec.RepoURL)
		require.NoError(t, err)
		require.True(t, ok)

		got, total, err := store.List(ctx, discovery.ListQuery{})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Len(t, got, 1)
		require.Equal(t, rec.RepoURL, got[0].RepoURL)
		require.Equal(t, 150, got[0].Stars)
		require.Equal(t, "MIT", got[0].License)
		require.True(t, got[0].HasCI)
		require.False(t, got[0].HasDockerfile)
		require.True(t, got[0].HasPackageJSON)
		require.Equal(t, discovery.FindingsUnknown, got[0].SecretFindings)
		require.Equal(t, rec.PagesLinking, got[0].PagesLinking)
		require.Equal(t, discovery.CategoryProduction, got[0].Category)
		require.True(t, got[0].LastProcessed.Equal(Now))
	})

	t.Run("upsert replaces", func(t *testing.T) {
		store := open(t, factory)
		ctx := context.Background()

		require.NoError(t, store.Upsert(ctx, Record("acme", "widget", 5)))
		updated := Record("acme", "widget", 15)
		require.NoError(t, store.Upsert(ctx, updated))

		got, total, err := store.List(ctx, discovery.ListQuery{})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, 15, got[0].Score)
		require.Empty(t, got[0].License)
		require.Empty(t, got[0].PagesLinking)
	})

	t.Run("list sorts pages and searches", func(t *testing.T) {
		store := open(t, factory)
		ctx := context.Background()

		for i, r := range []struct {
			owner, repo, lang string
			score, stars      int
		}{
			{"alpha", "api", "Go", 12, 40},
			{"beta", "flask-app", "Python", 30, 10},
			{"gamma", "site", "TypeScript", 3, 99},
			{"delta", "bot", "Python", 12, 5},
		} {
			rec := Record(r.owner, r.repo, r.score)
			rec.Language = r.lang
			rec.Stars = r.stars
			rec.LastProcessed = Now.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.Upsert(ctx, rec))
		}

		got, total, err := store.List(ctx, discovery.ListQuery{Sort: "-score"})
		require.NoError(t, err)
		require.Equal(t, 4, total)
		require.Equal(t, []string{"flask-app", "api", "bot", "site"}, names(got))

		got, _, err = store.List(ctx, discovery.ListQuery{Sort: "stars"})
		require.NoError(t, err)
		require.Equal(t, []string{"bot", "flask-app", "api", "site"}, names(got))

		got, _, err = store.List(ctx, discovery.ListQuery{Sort: "not_a_column"})
		require.NoError(t, err)
		require.Equal(t, "flask-app", got[0].Repo)

		got, total, err = store.List(ctx, discovery.ListQuery{Page: 2, PageSize: 3, Sort: "-score"})
		require.NoError(t, err)
		require.Equal(t, 4, total)
		require.Equal(t, []string{"site"}, names(got))

		got, total, err = store.List(ctx, discovery.ListQuery{Page: 5, PageSize: 3})
		require.NoError(t, err)
		require.Equal(t, 4, total)
		require.Empty(t, got)

		got, total, err = store.List(ctx, discovery.ListQuery{Search: "python", Sort: "repo"})
		require.NoError(t, err)
		require.Equal(t, 2, total)
		require.Equal(t, []string{"bot", "flask-app"}, names(got))

		_, total, err = store.List(ctx, discovery.ListQuery{Search: "gam"})
		require.NoError(t, err)
		require.Equal(t, 1, total)
	})

	t.Run("stats", func(t *testing.T) {
		store := open(t, factory)
		ctx := context.Background()

		prod := Record("acme", "one", 20)
		prod.Language = "Python"
		prod.SecretFindings = 1
		other := Record("acme", "two", 2)
		other.Language = "Python"
		other.LastProcessed = Now.AddDate(0, 0, -1)
		old := Record("acme", "three", 11)
		old.Language = "Go"
		old.LintFindings = 4
		old.LastProcessed = Now.AddDate(0, 0, -45)
		unknown := Record("acme", "four", 0)
		unknown.SecretFindings = discovery.FindingsUnknown
		for _, rec := range []discovery.RepositoryRecord{prod, other, old, unknown} {
			require.NoError(t, store.Upsert(ctx, rec))
		}

		stats, err := store.Stats(ctx, Now)
		require.NoError(t, err)
		require.Equal(t, 4, stats.Total)
		require.Equal(t, 2, stats.Production)
		require.Equal(t, 2, stats.NonProduction)
		require.Equal(t, 2, stats.SecurityIssues)
		require.Equal(t, []discovery.LanguageCount{{Language: "Python", Count: 2}, {Language: "Go", Count: 1}}, stats.Languages)
		require.Len(t, stats.Timeline, 30)
		require.Equal(t, discovery.DayCount{Day: "2025-06-15", Count: 2}, stats.Timeline[29])
		require.Equal(t, discovery.DayCount{Day: "2025-06-14", Count: 1}, stats.Timeline[28])
	})

	t.Run("concurrent writers", func(t *testing.T) {
		store := open(t, factory)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.Upsert(ctx, Record("owner", fmt.Sprintf("repo-%02d", i), i))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		_, total, err := store.List(ctx, discovery.ListQuery{})
		require.NoError(t, err)
		require.Equal(t, 20, total)
	})

	t.Run("ping", func(t *testing.T) {
		store := open(t, factory)
		require.NoError(t, store.Ping(context.Background()))
	})
}

func open(t *testing.T, factory Factory) discovery.RepositoryStore {
	t.Helper()
	store := factory(t)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func names(records []discovery.RepositoryRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Repo)
	}
	return out
}
