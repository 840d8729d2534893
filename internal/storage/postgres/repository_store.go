// Package postgres persists repository records in Postgres via pgx. The
// upsert is a single INSERT ... ON CONFLICT so concurrent writers to distinct
// keys never contend beyond the pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies Schema when the store opens.
	Migrate bool
}

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RepositoryStore implements discovery.RepositoryStore on Postgres.
type RepositoryStore struct {
	pool    Pool
	builder sq.StatementBuilderType
}

// NewRepositoryStore connects a pool using cfg.
func NewRepositoryStore(ctx context.Context, cfg Config) (*RepositoryStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRepositoryStoreWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRepositoryStoreWithPool wraps an existing pool (primarily for testing).
func NewRepositoryStoreWithPool(pool Pool) (*RepositoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RepositoryStore{
		pool:    pool,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Migrate applies Schema.
func (s *RepositoryStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

var upsertSuffix = func() string {
	sets := make([]string, 0, len(storage.Columns)-1)
	for _, col := range storage.Columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return "ON CONFLICT (repo_url) DO UPDATE SET " + strings.Join(sets, ", ")
}()

// Upsert inserts the record or overwrites the row with the same repo_url.
func (s *RepositoryStore) Upsert(ctx context.Context, record discovery.RepositoryRecord) error {
	query, args, err := s.builder.
		Insert(storage.Table).
		Columns(storage.Columns...).
		Values(storage.Values(record, record.LastProcessed.UTC())...).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", record.RepoURL, err)
	}
	return nil
}

// Exists reports whether repoURL is stored.
func (s *RepositoryStore) Exists(ctx context.Context, repoURL string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM repositories WHERE repo_url = $1)", repoURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", repoURL, err)
	}
	return exists, nil
}

// List returns one page of records and the total match count.
func (s *RepositoryStore) List(ctx context.Context, query discovery.ListQuery) ([]discovery.RepositoryRecord, int, error) {
	query = query.Normalize()
	count := s.builder.Select("COUNT(*)").From(storage.Table)
	sel := s.builder.Select(storage.Columns...).From(storage.Table)
	if term := strings.TrimSpace(query.Search); term != "" {
		pred := storage.SearchPredicate(term, true)
		count = count.Where(pred)
		sel = sel.Where(pred)
	}

	countSQL, countArgs, err := count.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
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
	rows, err := s.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	out := make([]discovery.RepositoryRecord, 0, query.PageSize)
	for rows.Next() {
		var (
			rec           discovery.RepositoryRecord
			license, lang sql.NullString
			category      string
			pages         string
		)
		if err := rows.Scan(
			&rec.RepoURL, &rec.Owner, &rec.Repo,
			&rec.Stars, &rec.Forks, &rec.Commits, &rec.Contributors,
			&rec.HasCI, &rec.HasDockerfile, &rec.HasProcfile, &rec.HasPackageJSON, &rec.HasRequirements,
			&rec.ReadmeLength, &license, &lang,
			&rec.SecretFindings, &rec.LintFindings,
			&rec.Score, &category, &pages,
			&rec.TotalFiles, &rec.TotalLines, &rec.LastProcessed,
		); err != nil {
			return nil, 0, fmt.Errorf("scan repository: %w", err)
		}
		rec.License = license.String
		rec.Language = lang.String
		rec.Category = discovery.Category(category)
		rec.PagesLinking = discovery.SplitPages(pages)
		rec.LastProcessed = rec.LastProcessed.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate repositories: %w", err)
	}
	return out, total, nil
}

const (
	summaryQuery = `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE category = 'production'),
	COUNT(*) FILTER (WHERE trufflehog_findings > 0 OR bandit_findings > 0)
FROM repositories`
	languageQuery = `SELECT language, COUNT(*) FROM repositories
WHERE language IS NOT NULL AND language <> '' GROUP BY language`
	timelineQuery = `SELECT to_char(date_trunc('day', last_processed AT TIME ZONE 'UTC'), 'YYYY-MM-DD'), COUNT(*)
FROM repositories WHERE last_processed >= $1 GROUP BY 1`
)

// Stats aggregates the stored records.
func (s *RepositoryStore) Stats(ctx context.Context, now time.Time) (discovery.Stats, error) {
	var stats discovery.Stats
	if err := s.pool.QueryRow(ctx, summaryQuery).Scan(&stats.Total, &stats.Production, &stats.SecurityIssues); err != nil {
		return discovery.Stats{}, fmt.Errorf("summary stats: %w", err)
	}
	stats.NonProduction = stats.Total - stats.Production

	languages, err := s.groupCounts(ctx, languageQuery)
	if err != nil {
		return discovery.Stats{}, fmt.Errorf("language stats: %w", err)
	}
	stats.Languages = storage.TopLanguages(languages)

	days, err := s.groupCounts(ctx, timelineQuery, storage.WindowStart(now))
	if err != nil {
		return discovery.Stats{}, fmt.Errorf("timeline stats: %w", err)
	}
	stats.Timeline = storage.Timeline(now, days)
	return stats, nil
}

func (s *RepositoryStore) groupCounts(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

// Ping checks connectivity.
func (s *RepositoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *RepositoryStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
