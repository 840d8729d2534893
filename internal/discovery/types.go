package discovery

import (
	"net/http"
	"strings"
	"time"
)

// Category classifies a scored repository.
type Category string

// Supported repository categories.
const (
	CategoryProduction    Category = "production"
	CategoryNonProduction Category = "non-production"
)

// RunStatus captures the lifecycle of a pipeline run.
type RunStatus string

// Supported run statuses.
const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Mode selects where repository candidates come from.
type Mode string

// Supported discovery modes.
const (
	// ModeDork runs search queries, fetches the result pages and extracts repository links.
	ModeDork Mode = "dork"
	// ModeGitHub asks the code host's repository search directly.
	ModeGitHub Mode = "github"
)

// RepoState tracks where a repository is in the per-repository lifecycle.
type RepoState string

// Per-repository states. Skipped, archived, not-found, failed and persisted are terminal.
const (
	RepoDiscovered RepoState = "DISCOVERED"
	RepoSkipped    RepoState = "SKIPPED"
	RepoArchived   RepoState = "ARCHIVED"
	RepoNotFound   RepoState = "NOT_FOUND"
	RepoFailed     RepoState = "FAILED"
	RepoEnriching  RepoState = "ENRICHING"
	RepoScored     RepoState = "SCORED"
	RepoPersisted  RepoState = "PERSISTED"
)

// FindingsUnknown marks a scanner that could not run.
const FindingsUnknown = -1

// PagesDelimiter joins referring page URLs on a record.
const PagesDelimiter = ";"

// FetchRequest describes a single page fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the body plus metadata returned by a Fetcher.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// RepoMetadata is the base repository document returned by the code host.
type RepoMetadata struct {
	Owner         string
	Name          string
	HTMLURL       string
	CloneURL      string
	DefaultBranch string
	Stars         int
	Forks         int
	License       string
	Language      string
	Archived      bool
}

// Enrichment is the joined result of every metadata sub-call for one repository.
type Enrichment struct {
	Metadata        RepoMetadata
	Commits         int
	Contributors    int
	HasCI           bool
	HasDockerfile   bool
	HasProcfile     bool
	HasPackageJSON  bool
	HasRequirements bool
	ReadmeLength    int
}

// Analysis holds the results of local, clone-based analysis.
type Analysis struct {
	TotalFiles     int
	TotalLines     int
	SecretFindings int
	LintFindings   int
}

// NotScanned is the Analysis used when local analysis is disabled or the clone failed.
func NotScanned() Analysis {
	return Analysis{}
}

// ScanFailed is the Analysis used when both scanners were unavailable.
func ScanFailed() Analysis {
	return Analysis{SecretFindings: FindingsUnknown, LintFindings: FindingsUnknown}
}

// RepositoryRecord is the persisted, scored view of a repository.
type RepositoryRecord struct {
	RepoURL         string    `json:"repo_url"`
	Owner           string    `json:"owner"`
	Repo            string    `json:"repo"`
	Stars           int       `json:"stars"`
	Forks           int       `json:"forks"`
	Commits         int       `json:"commits"`
	Contributors    int       `json:"contributors"`
	HasCI           bool      `json:"has_ci"`
	HasDockerfile   bool      `json:"has_dockerfile"`
	HasProcfile     bool      `json:"has_procfile"`
	HasPackageJSON  bool      `json:"has_package_json"`
	HasRequirements bool      `json:"has_requirements"`
	ReadmeLength    int       `json:"readme_len"`
	License         string    `json:"license,omitempty"`
	Language        string    `json:"language,omitempty"`
	SecretFindings  int       `json:"trufflehog_findings"`
	LintFindings    int       `json:"bandit_findings"`
	Score           int       `json:"score"`
	Category        Category  `json:"category"`
	PagesLinking    []string  `json:"pages_linking"`
	TotalFiles      int       `json:"total_files"`
	TotalLines      int       `json:"total_lines"`
	LastProcessed   time.Time `json:"last_processed"`
}

// JoinedPages returns the referring pages in their persisted form.
func (r RepositoryRecord) JoinedPages() string {
	return strings.Join(r.PagesLinking, PagesDelimiter)
}

// SplitPages parses the persisted form of referring pages.
func SplitPages(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, PagesDelimiter)
}

// ListQuery drives paged repository listing.
type ListQuery struct {
	Page     int
	PageSize int
	Sort     string
	Search   string
}

// Normalize applies paging defaults.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 10
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
	return q
}

// Offset returns the row offset for the query's page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// LanguageCount is one bucket of the language breakdown.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// DayCount is one bucket of the processing timeline.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Stats summarises stored repositories.
type Stats struct {
	Total          int             `json:"total"`
	Production     int             `json:"production"`
	NonProduction  int             `json:"non_production"`
	SecurityIssues int             `json:"security_issues"`
	Languages      []LanguageCount `json:"languages"`
	Timeline       []DayCount      `json:"timeline"`
}

// StatsWindow is how far back the processing timeline reaches.
const StatsWindow = 30 * 24 * time.Hour

// TopLanguages bounds the language breakdown.
const TopLanguages = 10
