package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("repo_url,owner\n")
	uri, err := store.PutObject(context.Background(), "exports/run.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/run.csv", uri)

	payload[0] = 'R'
	data, contentType, ok := store.Object("exports/run.csv")
	require.True(t, ok)
	require.Equal(t, "repo_url,owner\n", string(data))
	require.Equal(t, "text/csv", contentType)
	require.Equal(t, []string{"exports/run.csv"}, store.Paths())

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
