// Package storage holds the pieces shared by the repository store engines:
// the column layout, the search predicate and the stats timeline.
package storage

import (
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

// Table is the repository table name in every SQL engine.
const Table = "repositories"

// Columns lists the repository columns in record emission order.
var Columns = []string{
	"repo_url",
	"owner",
	"repo",
	"stars",
	"forks",
	"commits",
	"contributors",
	"has_ci",
	"has_dockerfile",
	"has_procfile",
	"has_package_json",
	"has_requirements",
	"readme_len",
	"license",
	"language",
	"trufflehog_findings",
	"bandit_findings",
	"score",
	"category",
	"pages_linking",
	"total_files",
	"total_lines",
	"last_processed",
}

// searchColumns are matched by the free-text listing filter.
var searchColumns = []string{"repo", "owner", "license", "language"}

// Values returns the record's column values in Columns order. lastProcessed
// lets each engine choose its timestamp encoding.
func Values(r discovery.RepositoryRecord, lastProcessed any) []any {
	return []any{
		r.RepoURL,
		r.Owner,
		r.Repo,
		r.Stars,
		r.Forks,
		r.Commits,
		r.Contributors,
		r.HasCI,
		r.HasDockerfile,
		r.HasProcfile,
		r.HasPackageJSON,
		r.HasRequirements,
		r.ReadmeLength,
		NullString(r.License),
		NullString(r.Language),
		r.SecretFindings,
		r.LintFindings,
		r.Score,
		string(r.Category),
		r.JoinedPages(),
		r.TotalFiles,
		r.TotalLines,
		lastProcessed,
	}
}

// NullString maps "" to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SearchPredicate matches term as a substring of the searchable columns. Set
// insensitive for engines whose LIKE is case-sensitive.
func SearchPredicate(term string, insensitive bool) sq.Sqlizer {
	pattern := "%" + term + "%"
	or := sq.Or{}
	for _, col := range searchColumns {
		if insensitive {
			or = append(or, sq.ILike{col: pattern})
		} else {
			or = append(or, sq.Like{col: pattern})
		}
	}
	return or
}

// OrderBy renders the ORDER BY clause for a listing sort expression. The
// repo_url tie-breaker keeps pages stable.
func OrderBy(expr string) string {
	if expr == "" {
		expr = discovery.DefaultSort
	}
	column, desc := discovery.ResolveSort(expr)
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	if column == "repo_url" {
		return fmt.Sprintf("repo_url %s", dir)
	}
	return fmt.Sprintf("%s %s, repo_url ASC", column, dir)
}

// Timeline returns one bucket per day for the stats window ending at now,
// oldest first, filling days without records with zero.
func Timeline(now time.Time, counts map[string]int) []discovery.DayCount {
	days := int(discovery.StatsWindow / (24 * time.Hour))
	today := now.UTC().Truncate(24 * time.Hour)
	out := make([]discovery.DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format(time.DateOnly)
		out = append(out, discovery.DayCount{Day: day, Count: counts[day]})
	}
	return out
}

// WindowStart is the earliest last_processed included in the timeline.
func WindowStart(now time.Time) time.Time {
	days := int(discovery.StatsWindow / (24 * time.Hour))
	return now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
}

// TopLanguages orders counts by frequency, then name, and keeps the top entries.
func TopLanguages(counts map[string]int) []discovery.LanguageCount {
	out := make([]discovery.LanguageCount, 0, len(counts))
	for lang, n := range counts {
		out = append(out, discovery.LanguageCount{Language: lang, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	if len(out) > discovery.TopLanguages {
		out = out[:discovery.TopLanguages]
	}
	return out
}
