package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/metrics"
	"github.com/JakeFAU/prodscout/internal/scoring"
)

// repoRun collects the per-repository outcomes of one run.
type repoRun struct {
	o         *Orchestrator
	req       Request
	hooks     Hooks
	log       *zap.Logger
	threshold int
	total     int

	mu        sync.Mutex
	processed int
	records   []discovery.RepositoryRecord
	outcomes  map[discovery.RepoState]int
	notified  int
	fatal     error
}

func (r *repoRun) aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal != nil
}

func (r *repoRun) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

// finish records the terminal state of one repository and reports progress.
// The lock is held across the sink call so Current is strictly increasing.
func (r *repoRun) finish(repoURL string, state discovery.RepoState, record *discovery.RepositoryRecord) {
	metrics.ObserveRepository(string(state))
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[discovery.RepoState]int)
	}
	r.outcomes[state]++
	score := 0
	if record != nil {
		r.records = append(r.records, *record)
		score = record.Score
	}
	r.processed++
	r.hooks.emit(Update{
		Milestone: MilestoneRepository,
		Step:      fmt.Sprintf("Processing repository %d/%d", r.processed, r.total),
		Current:   r.processed,
		Total:     r.total,
		RepoURL:   repoURL,
		Outcome:   state,
		Score:     score,
	})
}

func (r *repoRun) process(ctx context.Context, repoURL string, referrers []string) {
	log := r.log.With(zap.String("repo_url", repoURL))
	if r.aborted() || r.hooks.cancelled() {
		return
	}
	ref, err := discovery.ParseRepoURL(repoURL)
	if err != nil || !ref.IsGitHub() {
		log.Debug("repository host not supported")
		r.finish(repoURL, discovery.RepoSkipped, nil)
		return
	}

	exists, err := r.o.deps.Store.Exists(ctx, repoURL)
	if err != nil {
		r.abort(fmt.Errorf("%w: exists %s: %w", discovery.ErrPersistence, repoURL, err))
		return
	}
	if exists {
		log.Debug("repository already stored")
		r.finish(repoURL, discovery.RepoSkipped, nil)
		return
	}

	enrichment, err := r.o.deps.Metadata.Enrich(ctx, ref.Owner, ref.Name)
	switch {
	case errors.Is(err, discovery.ErrArchived):
		log.Debug("repository archived")
		r.finish(repoURL, discovery.RepoArchived, nil)
		return
	case errors.Is(err, discovery.ErrNotFound):
		log.Debug("repository not found")
		r.finish(repoURL, discovery.RepoNotFound, nil)
		return
	case err != nil:
		log.Warn("repository enrichment failed",
			zap.String("owner", ref.Owner),
			zap.String("repo", ref.Name),
			zap.Error(err),
		)
		r.finish(repoURL, discovery.RepoFailed, nil)
		return
	}

	analysis := discovery.NotScanned()
	if r.req.Clone && r.o.deps.Analyzer != nil {
		remote := enrichment.Metadata.CloneURL
		if remote == "" {
			remote = repoURL + ".git"
		}
		analysis = r.o.deps.Analyzer.Analyze(ctx, ref.Owner, ref.Name, remote)
	}

	record := buildRecord(ref, enrichment, analysis, referrers)
	record.Score = scoring.Score(scoring.FromRecord(record))
	record.Category = scoring.Categorize(record.Score, r.threshold)
	record.LastProcessed = r.o.deps.Clock.Now()
	metrics.ObserveScore(record.Score)

	if r.aborted() {
		return
	}
	if err := r.o.deps.Store.Upsert(ctx, record); err != nil {
		r.abort(fmt.Errorf("%w: upsert %s: %w", discovery.ErrPersistence, repoURL, err))
		return
	}
	r.notify(ctx, record, log)
	log.Debug("repository persisted", zap.Int("score", record.Score), zap.String("category", string(record.Category)))
	r.finish(repoURL, discovery.RepoPersisted, &record)
}

func (r *repoRun) notify(ctx context.Context, record discovery.RepositoryRecord, log *zap.Logger) {
	if r.o.deps.Publisher == nil || record.Category != discovery.CategoryProduction {
		return
	}
	_, err := r.o.deps.Publisher.Publish(ctx, r.o.cfg.NotifyTopic, Notification{
		RunID:       r.req.RunID,
		RepoURL:     record.RepoURL,
		Score:       record.Score,
		Category:    record.Category,
		Stars:       record.Stars,
		Language:    record.Language,
		ProcessedAt: record.LastProcessed,
	})
	if err != nil {
		log.Warn("notification publish failed", zap.Error(err))
		return
	}
	r.mu.Lock()
	r.notified++
	r.mu.Unlock()
}

func buildRecord(
	ref discovery.RepoRef,
	e discovery.Enrichment,
	a discovery.Analysis,
	referrers []string,
) discovery.RepositoryRecord {
	owner, name := ref.Owner, ref.Name
	if e.Metadata.Owner != "" {
		owner = e.Metadata.Owner
	}
	if e.Metadata.Name != "" {
		name = e.Metadata.Name
	}
	return discovery.RepositoryRecord{
		RepoURL:         ref.URL(),
		Owner:           owner,
		Repo:            name,
		Stars:           e.Metadata.Stars,
		Forks:           e.Metadata.Forks,
		Commits:         e.Commits,
		Contributors:    e.Contributors,
		HasCI:           e.HasCI,
		HasDockerfile:   e.HasDockerfile,
		HasProcfile:     e.HasProcfile,
		HasPackageJSON:  e.HasPackageJSON,
		HasRequirements: e.HasRequirements,
		ReadmeLength:    e.ReadmeLength,
		License:         e.Metadata.License,
		Language:        e.Metadata.Language,
		SecretFindings:  a.SecretFindings,
		LintFindings:    a.LintFindings,
		PagesLinking:    append([]string(nil), referrers...),
		TotalFiles:      a.TotalFiles,
		TotalLines:      a.TotalLines,
	}
}
