package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage"
)

// RepositoryStore keeps repository records in a map guarded by a mutex.
type RepositoryStore struct {
	mu      sync.RWMutex
	records map[string]discovery.RepositoryRecord
}

// NewRepositoryStore returns an empty store.
func NewRepositoryStore() *RepositoryStore {
	return &RepositoryStore{records: make(map[string]discovery.RepositoryRecord)}
}

// Upsert inserts or replaces the record keyed by RepoURL.
func (s *RepositoryStore) Upsert(_ context.Context, record discovery.RepositoryRecord) error {
	record.PagesLinking = append([]string(nil), record.PagesLinking...)
	s.mu.Lock()
	s.records[record.RepoURL] = record
	s.mu.Unlock()
	return nil
}

// Exists reports whether repoURL has been stored.
func (s *RepositoryStore) Exists(_ context.Context, repoURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[repoURL]
	return ok, nil
}

// Get returns one record.
func (s *RepositoryStore) Get(repoURL string) (discovery.RepositoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[repoURL]
	return rec, ok
}

// List filters, sorts and pages the stored records.
func (s *RepositoryStore) List(_ context.Context, query discovery.ListQuery) ([]discovery.RepositoryRecord, int, error) {
	query = query.Normalize()
	term := strings.ToLower(strings.TrimSpace(query.Search))

	s.mu.RLock()
	matched := make([]discovery.RepositoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if term == "" || matches(rec, term) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	column, desc := discovery.ResolveSort(query.Sort)
	sort.Slice(matched, func(i, j int) bool {
		c := compare(matched[i], matched[j], column)
		if c == 0 {
			if column == "repo_url" {
				return false
			}
			return matched[i].RepoURL < matched[j].RepoURL
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	total := len(matched)
	start := query.Offset()
	if start >= total {
		return []discovery.RepositoryRecord{}, total, nil
	}
	end := start + query.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matches(rec discovery.RepositoryRecord, term string) bool {
	for _, field := range []string{rec.Repo, rec.Owner, rec.License, rec.Language} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

func compare(a, b discovery.RepositoryRecord, column string) int {
	switch column {
	case "repo_url":
		return strings.Compare(a.RepoURL, b.RepoURL)
	case "owner":
		return strings.Compare(a.Owner, b.Owner)
	case "repo":
		return strings.Compare(a.Repo, b.Repo)
	case "license":
		return strings.Compare(a.License, b.License)
	case "language":
		return strings.Compare(a.Language, b.Language)
	case "category":
		return strings.Compare(string(a.Category), string(b.Category))
	case "last_processed":
		return a.LastProcessed.Compare(b.LastProcessed)
	}
	return cmpInt(intField(a, column), intField(b, column))
}

func intField(r discovery.RepositoryRecord, column string) int {
	switch column {
	case "stars":
		return r.Stars
	case "forks":
		return r.Forks
	case "commits":
		return r.Commits
	case "contributors":
		return r.Contributors
	case "readme_len":
		return r.ReadmeLength
	case "trufflehog_findings":
		return r.SecretFindings
	case "bandit_findings":
		return r.LintFindings
	case "total_files":
		return r.TotalFiles
	case "total_lines":
		return r.TotalLines
	default:
		return r.Score
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Stats summarises the stored records.
func (s *RepositoryStore) Stats(_ context.Context, now time.Time) (discovery.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats discovery.Stats
	languages := make(map[string]int)
	days := make(map[string]int)
	windowStart := storage.WindowStart(now)
	for _, rec := range s.records {
		stats.Total++
		if rec.Category == discovery.CategoryProduction {
			stats.Production++
		}
		if rec.SecretFindings > 0 || rec.LintFindings > 0 {
			stats.SecurityIssues++
		}
		if rec.Language != "" {
			languages[rec.Language]++
		}
		if ts := rec.LastProcessed.UTC(); !ts.Before(windowStart) {
			days[ts.Format(time.DateOnly)]++
		}
	}
	stats.NonProduction = stats.Total - stats.Production
	stats.Languages = storage.TopLanguages(languages)
	stats.Timeline = storage.Timeline(now, days)
	return stats, nil
}

// Ping always succeeds.
func (s *RepositoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *RepositoryStore) Close() error {
	return nil
}
