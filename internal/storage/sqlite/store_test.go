package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage/storetest"
)

func TestRepositoryStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) discovery.RepositoryStore {
		store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "prodscout.db")})
		require.NoError(t, err)
		return store
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestReopenKeepsRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prodscout.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	rec := storetest.Record("acme", "widget", 12)
	require.NoError(t, store.Upsert(ctx, rec))
	require.NoError(t, store.Close())

	store, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer store.Close()
	ok, err := store.Exists(ctx, rec.RepoURL)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDSNPragmas(t *testing.T) {
	t.Parallel()

	got := dsn(Config{Path: "/tmp/x.db", BusyTimeout: defaultBusyTimeout})
	require.Contains(t, got, "file:/tmp/x.db?")
	require.Contains(t, got, "busy_timeout%2810000%29")
	require.Contains(t, got, "journal_mode%28WAL%29")
}
