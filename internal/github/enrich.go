package github

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

// Probed repository paths.
const (
	PathWorkflows    = ".github/workflows"
	PathDockerfile   = "Dockerfile"
	PathProcfile     = "Procfile"
	PathPackageJSON  = "package.json"
	PathRequirements = "requirements.txt"
)

// Enrich launches every metadata sub-call concurrently and joins them. A
// failing sub-call defaults its feature and never cancels its siblings; only a
// base metadata failure fails the enrichment. Archived repositories yield
// discovery.ErrArchived.
func (c *Client) Enrich(ctx context.Context, owner, name string) (discovery.Enrichment, error) {
	var (
		wg      sync.WaitGroup
		out     discovery.Enrichment
		baseErr error
	)
	log := c.logger.With(zap.String("owner", owner), zap.String("repo", name))

	wg.Add(1)
	go func() {
		defer wg.Done()
		out.Metadata, baseErr = c.GetRepo(ctx, owner, name)
	}()

	countInto := func(dst *int, label string, fn func(context.Context, string, string) (int, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := fn(ctx, owner, name)
			if err != nil {
				log.Warn("metadata sub-call failed", zap.String("call", label), zap.Error(err))
				return
			}
			*dst = n
		}()
	}
	countInto(&out.Commits, "commits", c.CommitCount)
	countInto(&out.Contributors, "contributors", c.ContributorCount)
	countInto(&out.ReadmeLength, "readme", c.ReadmeLength)

	checks := []struct {
		path string
		dst  *bool
	}{
		{PathWorkflows, &out.HasCI},
		{PathDockerfile, &out.HasDockerfile},
		{PathProcfile, &out.HasProcfile},
		{PathPackageJSON, &out.HasPackageJSON},
		{PathRequirements, &out.HasRequirements},
	}
	for _, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.PathExists(ctx, owner, name, check.path)
			if err != nil {
				log.Warn("path check failed", zap.String("path", check.path), zap.Error(err))
				return
			}
			*check.dst = ok
		}()
	}

	wg.Wait()

	if baseErr != nil {
		if IsNotFound(baseErr) {
			log.Debug("repository not found")
		} else {
			log.Warn("repository metadata failed", zap.Error(baseErr))
		}
		return discovery.Enrichment{}, baseErr
	}
	if out.Metadata.Archived {
		log.Debug("repository archived")
		return discovery.Enrichment{}, fmt.Errorf("github repo %s/%s: %w", owner, name, discovery.ErrArchived)
	}
	return out, nil
}
