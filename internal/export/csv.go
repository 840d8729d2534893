// Package export renders scored repositories as CSV and uploads the artifact.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage"
)

// ContentType is the MIME type of the export artifact.
const ContentType = "text/csv"

// Header returns the CSV header, identical to the record field order.
func Header() []string {
	return append([]string(nil), storage.Columns...)
}

// SortRecords orders records by score descending, ties by repo_url ascending.
func SortRecords(records []discovery.RepositoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].RepoURL < records[j].RepoURL
	})
}

// CSV encodes records, sorted, with a header row.
func CSV(records []discovery.RepositoryRecord) ([]byte, error) {
	sorted := append([]discovery.RepositoryRecord(nil), records...)
	SortRecords(sorted)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range sorted {
		if err := w.Write(row(rec)); err != nil {
			return nil, fmt.Errorf("write row %s: %w", rec.RepoURL, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func row(r discovery.RepositoryRecord) []string {
	return []string{
		r.RepoURL,
		r.Owner,
		r.Repo,
		strconv.Itoa(r.Stars),
		strconv.Itoa(r.Forks),
		strconv.Itoa(r.Commits),
		strconv.Itoa(r.Contributors),
		strconv.FormatBool(r.HasCI),
		strconv.FormatBool(r.HasDockerfile),
		strconv.FormatBool(r.HasProcfile),
		strconv.FormatBool(r.HasPackageJSON),
		strconv.FormatBool(r.HasRequirements),
		strconv.Itoa(r.ReadmeLength),
		r.License,
		r.Language,
		strconv.Itoa(r.SecretFindings),
		strconv.Itoa(r.LintFindings),
		strconv.Itoa(r.Score),
		string(r.Category),
		r.JoinedPages(),
		strconv.Itoa(r.TotalFiles),
		strconv.Itoa(r.TotalLines),
		r.LastProcessed.UTC().Format(time.RFC3339),
	}
}

// Writer uploads CSV exports to a blob store.
type Writer struct {
	blobs  discovery.BlobStore
	prefix string
}

// NewWriter returns a Writer placing objects under prefix.
func NewWriter(blobs discovery.BlobStore, prefix string) *Writer {
	return &Writer{blobs: blobs, prefix: prefix}
}

// ObjectPath is where the export for runID is written.
func (w *Writer) ObjectPath(runID string) string {
	if w.prefix == "" {
		return "runs/" + runID + "/repositories.csv"
	}
	return w.prefix + "/runs/" + runID + "/repositories.csv"
}

// Write encodes records and uploads them, returning the artifact URI.
func (w *Writer) Write(ctx context.Context, runID string, records []discovery.RepositoryRecord) (string, error) {
	data, err := CSV(records)
	if err != nil {
		return "", err
	}
	uri, err := w.blobs.PutObject(ctx, w.ObjectPath(runID), ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return uri, nil
}
