package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

// DefaultMaxResults bounds the results requested per query.
const DefaultMaxResults = 30

// Request describes one run.
type Request struct {
	RunID      string
	Mode       discovery.Mode
	Queries    []string
	MaxResults int
	// MinScore overrides the configured production threshold when set.
	MinScore *int
	Clone    bool
	// Query and MinStars drive github mode.
	Query    string
	MinStars int
}

func (r Request) normalize(cfg Config) (Request, error) {
	if r.Mode == "" {
		r.Mode = discovery.ModeDork
	}
	if r.MaxResults <= 0 {
		r.MaxResults = cfg.MaxResults
	}
	switch r.Mode {
	case discovery.ModeDork:
		queries := make([]string, 0, len(r.Queries))
		for _, q := range r.Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
		if len(queries) == 0 {
			queries = append(queries, cfg.DefaultQueries...)
		}
		if len(queries) == 0 {
			return r, fmt.Errorf("dork mode needs at least one query")
		}
		r.Queries = queries
	case discovery.ModeGitHub:
		r.Query = strings.TrimSpace(r.Query)
		if r.Query == "" {
			return r, fmt.Errorf("github mode needs a query")
		}
		if r.MinStars < 0 {
			return r, fmt.Errorf("min stars must be >= 0")
		}
	default:
		return r, fmt.Errorf("unknown mode %q", r.Mode)
	}
	return r, nil
}

// Result summarises a finished run.
type Result struct {
	RunID  string
	Status discovery.RunStatus
	// Records are the repositories scored in this run, score descending.
	Records      []discovery.RepositoryRecord
	Candidates   int
	Repositories int
	Outcomes     map[discovery.RepoState]int
	ExportURI    string
	Notified     int
}

// Milestone identifies the point of a run an Update reports.
type Milestone string

// Milestones in emission order.
const (
	MilestoneStart      Milestone = "start"
	MilestoneSearched   Milestone = "searched"
	MilestoneFetching   Milestone = "fetching"
	MilestoneRepository Milestone = "repository"
	MilestoneExporting  Milestone = "exporting"
	MilestoneDone       Milestone = "done"
)

// Update is one progress report. For MilestoneRepository, Current increases by
// exactly one per call. Found is the number of candidates on MilestoneSearched
// and the number of pages to fetch on MilestoneFetching.
type Update struct {
	Milestone Milestone
	Step      string
	Current   int
	Total     int
	Found     int
	RepoURL   string
	Outcome   discovery.RepoState
	Score     int
}

// ProgressSink receives updates synchronously from the run.
type ProgressSink func(Update)

// StepSink adapts a plain (step, current, total) callback.
func StepSink(fn func(step string, current, total int)) ProgressSink {
	if fn == nil {
		return nil
	}
	return func(u Update) {
		fn(u.Step, u.Current, u.Total)
	}
}

// Hooks connect a run to its caller.
type Hooks struct {
	Progress ProgressSink
	// Cancelled is polled between phases.
	Cancelled func() bool
}

func (h Hooks) emit(u Update) {
	if h.Progress != nil {
		h.Progress(u)
	}
}

func (h Hooks) cancelled() bool {
	return h.Cancelled != nil && h.Cancelled()
}

// Notification is published for every production repository.
type Notification struct {
	RunID       string             `json:"run_id"`
	RepoURL     string             `json:"repo_url"`
	Score       int                `json:"score"`
	Category    discovery.Category `json:"category"`
	Stars       int                `json:"stars"`
	Language    string             `json:"language,omitempty"`
	ProcessedAt time.Time          `json:"processed_at"`
}
