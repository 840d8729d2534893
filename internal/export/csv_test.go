package export

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage/memory"
)

func TestHeaderOrder(t *testing.T) {
	t.Parallel()

	want := "repo_url,owner,repo,stars,forks,commits,contributors,has_ci,has_dockerfile,has_procfile," +
		"has_package_json,has_requirements,readme_len,license,language,trufflehog_findings,bandit_findings," +
		"score,category,pages_linking,total_files,total_lines,last_processed"
	require.Equal(t, want, strings.Join(Header(), ","))
}

func TestCSVSortsByScore(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	records := []discovery.RepositoryRecord{
		{RepoURL: "https://github.com/b/low", Score: 3, Category: discovery.CategoryNonProduction, LastProcessed: ts},
		{RepoURL: "https://github.com/b/high", Score: 27, Category: discovery.CategoryProduction, License: "MIT",
			PagesLinking: []string{"https://a.repl.co", "https://b.repl.co"}, LastProcessed: ts},
		{RepoURL: "https://github.com/a/high", Score: 27, Category: discovery.CategoryProduction, LastProcessed: ts,
			SecretFindings: discovery.FindingsUnknown},
	}
	data, err := CSV(records)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "https://github.com/a/high", rows[1][0])
	require.Equal(t, "-1", rows[1][15])
	require.Equal(t, "https://github.com/b/high", rows[2][0])
	require.Equal(t, "MIT", rows[2][13])
	require.Equal(t, "https://a.repl.co;https://b.repl.co", rows[2][19])
	require.Equal(t, "2025-06-15T12:00:00Z", rows[2][22])
	require.Equal(t, "https://github.com/b/low", rows[3][0])

	// Input order is untouched.
	require.Equal(t, "https://github.com/b/low", records[0].RepoURL)
}

func TestCSVEmpty(t *testing.T) {
	t.Parallel()

	data, err := CSV(nil)
	require.NoError(t, err)
	require.Equal(t, strings.Join(Header(), ",")+"\n", string(data))
}

func TestWriterUploads(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	w := NewWriter(blobs, "exports")
	uri, err := w.Write(context.Background(), "run-1", []discovery.RepositoryRecord{{RepoURL: "https://github.com/a/b", Score: 1}})
	require.NoError(t, err)
	require.Equal(t, "memory://exports/runs/run-1/repositories.csv", uri)

	data, contentType, ok := blobs.Object("exports/runs/run-1/repositories.csv")
	require.True(t, ok)
	require.Equal(t, ContentType, contentType)
	require.Contains(t, string(data), "https://github.com/a/b")

	require.Equal(t, "runs/x/repositories.csv", NewWriter(blobs, "").ObjectPath("x"))
}
