package analysis

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

// Config controls local analysis.
type Config struct {
	CloneDir   string
	KeepClones bool
}

// Analyzer clones a repository and runs the local checks over the working copy.
type Analyzer struct {
	cfg     Config
	cloner  discovery.Cloner
	secrets discovery.SecurityScanner
	lint    discovery.SecurityScanner
	logger  *zap.Logger
}

// NewAnalyzer wires an Analyzer. Nil scanners report discovery.FindingsUnknown.
func NewAnalyzer(cfg Config, cloner discovery.Cloner, secrets, lint discovery.SecurityScanner, logger *zap.Logger) *Analyzer {
	if cfg.CloneDir == "" {
		cfg.CloneDir = "cloned_repos"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, cloner: cloner, secrets: secrets, lint: lint, logger: logger}
}

// Target returns the working-copy directory for owner/repo.
func (a *Analyzer) Target(owner, repo string) string {
	return filepath.Join(a.cfg.CloneDir, owner+"_"+repo)
}

// Analyze clones remoteURL and inspects it. A failed clone yields
// discovery.NotScanned so the repository is still scored from metadata alone.
func (a *Analyzer) Analyze(ctx context.Context, owner, repo, remoteURL string) discovery.Analysis {
	target := a.Target(owner, repo)
	if a.cloner == nil || !a.cloner.Clone(ctx, remoteURL, target) {
		return discovery.NotScanned()
	}
	if !a.cfg.KeepClones {
		defer func() {
			if err := os.RemoveAll(target); err != nil {
				a.logger.Warn("remove working copy", zap.String("path", target), zap.Error(err))
			}
		}()
	}

	result := discovery.ScanFailed()
	var wg sync.WaitGroup
	if a.secrets != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.SecretFindings = a.secrets.Scan(ctx, target)
		}()
	}
	if a.lint != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.LintFindings = a.lint.Scan(ctx, target)
		}()
	}
	result.TotalFiles, result.TotalLines = CountSource(target)
	wg.Wait()

	a.logger.Debug("local analysis done",
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("files", result.TotalFiles),
		zap.Int("lines", result.TotalLines),
		zap.Int("secrets", result.SecretFindings),
		zap.Int("lint", result.LintFindings),
	)
	return result
}
