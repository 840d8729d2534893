// Package sqlite persists repository records in a SQLite file through the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage"
)

const defaultBusyTimeout = 10 * time.Second

// Config controls the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	MaxConns    int
}

// RepositoryStore implements discovery.RepositoryStore on SQLite.
type RepositoryStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// Open opens (or creates) the database and applies the schema. WAL and a busy
// timeout are set on every pooled connection so concurrent writers wait
// instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, cfg Config) (*RepositoryStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &RepositoryStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Upsert inserts the record, replacing any row with the same repo_url.
func (s *RepositoryStore) Upsert(ctx context.Context, record discovery.RepositoryRecord) error {
	query, args, err := s.builder.
		Insert(storage.Table).
		Options("OR REPLACE").
		Columns(storage.Columns...).
		Values(storage.Values(record, formatTime(record.LastProcessed))...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", record.RepoURL, err)
	}
	return nil
}

// Exists reports whether repoURL is stored.
func (s *RepositoryStore) Exists(ctx context.Context, repoURL string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM repositories WHERE repo_url = ?", repoURL).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("exists %s: %w", repoURL, err)
	}
	return true, nil
}

// List returns one page of records and the total match count.
func (s *RepositoryStore) List(ctx context.Context, query discovery.ListQuery) ([]discovery.RepositoryRecord, int, error) {
	query = query.Normalize()
	count := s.builder.Select("COUNT(*)").From(storage.Table)
	sel := s.builder.Select(storage.Columns...).From(storage.Table)
	if term := strings.TrimSpace(query.Search); term != "" {
		pred := storage.SearchPredicate(term, false)
		count = count.Where(pred)
		sel = sel.Where(pred)
	}

	var total int
	countSQL, countArgs, err := count.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count repositories: %w", err)
	}

	listSQL, listArgs, err := sel.
		OrderBy(storage.OrderBy(query.Sort)).
		Limit(uint64(query.PageSize)).
		Offset(uint64(query.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	out := make([]discovery.RepositoryRecord, 0, query.PageSize)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate repositories: %w", err)
	}
	return out, total, nil
}

func scanRecord(rows *sql.Rows) (discovery.RepositoryRecord, error) {
	var (
		rec              discovery.RepositoryRecord
		license, lang    sql.NullString
		category, pages  string
		lastProcessedRaw string
	)
	err := rows.Scan(
		&rec.RepoURL, &rec.Owner, &rec.Repo,
		&rec.Stars, &rec.Forks, &rec.Commits, &rec.Contributors,
		&rec.HasCI, &rec.HasDockerfile, &rec.HasProcfile, &rec.HasPackageJSON, &rec.HasRequirements,
		&rec.ReadmeLength, &license, &lang,
		&rec.SecretFindings, &rec.LintFindings,
		&rec.Score, &category, &pages,
		&rec.TotalFiles, &rec.TotalLines, &lastProcessedRaw,
	)
	if err != nil {
		return discovery.RepositoryRecord{}, fmt.Errorf("scan repository: %w", err)
	}
	rec.License = license.String
	rec.Language = lang.String
	rec.Category = discovery.Category(category)
	rec.PagesLinking = discovery.SplitPages(pages)
	if rec.LastProcessed, err = time.Parse(time.RFC3339, lastProcessedRaw); err != nil {
		return discovery.RepositoryRecord{}, fmt.Errorf("parse last_processed %q: %w", lastProcessedRaw, err)
	}
	return rec, nil
}

// Stats aggregates the stored records.
func (s *RepositoryStore) Stats(ctx context.Context, now time.Time) (discovery.Stats, error) {
	var stats discovery.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN category = 'production' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN trufflehog_findings > 0 OR bandit_findings > 0 THEN 1 ELSE 0 END), 0)
FROM repositories`).Scan(&stats.Total, &stats.Production, &stats.SecurityIssues)
	if err != nil {
		return discovery.Stats{}, fmt.Errorf("summary stats: %w", err)
	}
	stats.NonProduction = stats.Total - stats.Production

	languages, err := s.groupCounts(ctx,
		"SELECT language, COUNT(*) FROM repositories WHERE language IS NOT NULL AND language <> '' GROUP BY language")
	if err != nil {
		return discovery.Stats{}, fmt.Errorf("language stats: %w", err)
	}
	stats.Languages = storage.TopLanguages(languages)

	days, err := s.groupCounts(ctx,
		"SELECT substr(last_processed, 1, 10), COUNT(*) FROM repositories WHERE last_processed >= ? GROUP BY 1",
		formatTime(storage.WindowStart(now)))
	if err != nil {
		return discovery.Stats{}, fmt.Errorf("timeline stats: %w", err)
	}
	stats.Timeline = storage.Timeline(now, days)
	return stats, nil
}

func (s *RepositoryStore) groupCounts(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (s *RepositoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *RepositoryStore) Close() error {
	return s.db.Close()
}

// formatTime stores timestamps as UTC RFC3339 so lexical order is time order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
