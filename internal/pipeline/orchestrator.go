package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/clock/system"
	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/export"
	"github.com/JakeFAU/prodscout/internal/scoring"
)

// Analyzer runs clone-based analysis for one repository.
type Analyzer interface {
	Analyze(ctx context.Context, owner, repo, remoteURL string) discovery.Analysis
}

// Exporter writes the records of a run and returns the artifact URI.
type Exporter interface {
	Write(ctx context.Context, runID string, records []discovery.RepositoryRecord) (string, error)
}

// Config holds run defaults.
type Config struct {
	Threshold      int
	MaxResults     int
	DefaultQueries []string
	// NotifyTopic is passed to the Publisher; empty uses its default topic.
	NotifyTopic string
}

// Deps are the collaborators of an Orchestrator. Searcher and Pages are only
// needed for dork mode, RepoSearch only for github mode. Analyzer, Exporter
// and Publisher are optional.
type Deps struct {
	Searcher   discovery.Searcher
	Pages      discovery.PageFetcher
	Extractor  discovery.LinkExtractor
	Metadata   discovery.MetadataSource
	RepoSearch discovery.RepositorySearcher
	Store      discovery.RepositoryStore
	Analyzer   Analyzer
	Exporter   Exporter
	Publisher  discovery.Publisher
	Clock      discovery.Clock
}

// Orchestrator executes pipeline runs. It holds no per-run state and may run
// several requests at once.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and applies config defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("repository store is required")
	}
	if deps.Metadata == nil {
		return nil, errors.New("metadata source is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = scoring.DefaultThreshold
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("pipeline")}, nil
}

// Run executes one request to completion. The returned error is non-nil for
// invalid requests and persistence failures; Result is populated either way.
func (o *Orchestrator) Run(ctx context.Context, req Request, hooks Hooks) (Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	result := Result{RunID: req.RunID, Status: discovery.RunFailed, Outcomes: map[discovery.RepoState]int{}}
	req, err := req.normalize(o.cfg)
	if err != nil {
		return result, err
	}
	log := o.logger.With(zap.String("run_id", req.RunID), zap.String("mode", string(req.Mode)))
	log.Info("run started")
	hooks.emit(Update{Milestone: MilestoneStart, Step: "Initializing search...", Current: 0, Total: 100})

	var pages map[string][]string
	switch req.Mode {
	case discovery.ModeGitHub:
		pages, err = o.discoverGitHub(ctx, req, hooks, log)
	default:
		pages, err = o.discoverDork(ctx, req, hooks, &result, log)
	}
	if err != nil {
		return result, err
	}
	result.Repositories = len(pages)
	if hooks.cancelled() {
		return o.cancel(result, log), nil
	}

	run := &repoRun{
		o:         o,
		req:       req,
		hooks:     hooks,
		log:       log,
		threshold: o.threshold(req),
		total:     len(pages),
	}
	var wg sync.WaitGroup
	for repoURL, referrers := range pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.process(ctx, repoURL, referrers)
		}()
	}
	wg.Wait()

	records := run.records
	export.SortRecords(records)
	result.Records = records
	result.Notified = run.notified
	for state, n := range run.outcomes {
		result.Outcomes[state] = n
	}
	if run.fatal != nil {
		log.Error("run aborted", zap.Error(run.fatal))
		return result, run.fatal
	}
	if hooks.cancelled() {
		return o.cancel(result, log), nil
	}

	if o.deps.Exporter != nil {
		hooks.emit(Update{Milestone: MilestoneExporting, Step: "Writing results to CSV...", Current: 90, Total: 100})
		uri, err := o.deps.Exporter.Write(ctx, req.RunID, records)
		if err != nil {
			log.Warn("export failed", zap.Error(err))
		} else {
			result.ExportURI = uri
		}
	}

	result.Status = discovery.RunCompleted
	hooks.emit(Update{Milestone: MilestoneDone, Step: "Search completed successfully", Current: 100, Total: 100})
	log.Info("run completed",
		zap.Int("repositories", result.Repositories),
		zap.Int("scored", len(records)),
		zap.Int("notified", result.Notified),
	)
	return result, nil
}

func (o *Orchestrator) threshold(req Request) int {
	if req.MinScore != nil {
		return *req.MinScore
	}
	return o.cfg.Threshold
}

func (o *Orchestrator) cancel(result Result, log *zap.Logger) Result {
	result.Status = discovery.RunCancelled
	log.Info("run cancelled", zap.Int("scored", len(result.Records)))
	return result
}

// discoverDork returns every distinct repository linked from any candidate
// page, mapped to the sorted pages that link it.
func (o *Orchestrator) discoverDork(
	ctx context.Context,
	req Request,
	hooks Hooks,
	result *Result,
	log *zap.Logger,
) (map[string][]string, error) {
	if o.deps.Searcher == nil || o.deps.Pages == nil || o.deps.Extractor == nil {
		return nil, fmt.Errorf("dork mode: %w", discovery.ErrConfigurationMissing)
	}
	candidates := o.search(ctx, req, log)
	result.Candidates = len(candidates)
	hooks.emit(Update{
		Milestone: MilestoneSearched,
		Step:      fmt.Sprintf("Found %d candidate pages", len(candidates)),
		Current:   10,
		Total:     100,
		Found:     len(candidates),
	})
	if hooks.cancelled() {
		return nil, nil
	}

	hooks.emit(Update{
		Milestone: MilestoneFetching,
		Step:      "Fetching HTML content...",
		Current:   30,
		Total:     100,
		Found:     len(candidates),
	})
	var (
		mu    sync.Mutex
		links = make(map[string]map[string]struct{})
		wg    sync.WaitGroup
	)
	for _, page := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repos := o.deps.Extractor.Extract(o.deps.Pages.FetchPage(ctx, page))
			mu.Lock()
			defer mu.Unlock()
			for repoURL := range repos {
				if links[repoURL] == nil {
					links[repoURL] = make(map[string]struct{})
				}
				links[repoURL][page] = struct{}{}
			}
		}()
	}
	wg.Wait()

	out := make(map[string][]string, len(links))
	for repoURL, set := range links {
		referrers := make([]string, 0, len(set))
		for page := range set {
			referrers = append(referrers, page)
		}
		sort.Strings(referrers)
		out[repoURL] = referrers
	}
	log.Info("pages fetched", zap.Int("pages", len(candidates)), zap.Int("repositories", len(out)))
	return out, nil
}

// search runs every query concurrently and returns the union of candidates in
// first-seen order by query.
func (o *Orchestrator) search(ctx context.Context, req Request, log *zap.Logger) []string {
	perQuery := make([][]string, len(req.Queries))
	var wg sync.WaitGroup
	for i, query := range req.Queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			urls, err := o.deps.Searcher.Search(ctx, query, req.MaxResults)
			if err != nil {
				log.Warn("search failed", zap.String("query", query), zap.Error(err))
				return
			}
			perQuery[i] = urls
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var out []string
	for _, urls := range perQuery {
		for _, u := range urls {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

func (o *Orchestrator) discoverGitHub(
	ctx context.Context,
	req Request,
	hooks Hooks,
	log *zap.Logger,
) (map[string][]string, error) {
	if o.deps.RepoSearch == nil {
		return nil, fmt.Errorf("github mode: %w", discovery.ErrConfigurationMissing)
	}
	urls, err := o.deps.RepoSearch.SearchRepositories(ctx, req.Query, req.MinStars, req.MaxResults)
	if err != nil {
		log.Warn("repository search failed", zap.String("query", req.Query), zap.Error(err))
	}
	out := make(map[string][]string, len(urls))
	for _, raw := range urls {
		if normalized := discovery.NormalizeRepoURL(raw); normalized != "" {
			out[normalized] = nil
		}
	}
	hooks.emit(Update{
		Milestone: MilestoneSearched,
		Step:      fmt.Sprintf("Found %d repositories", len(out)),
		Current:   10,
		Total:     100,
		Found:     len(out),
	})
	return out, nil
}
