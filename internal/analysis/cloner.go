package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const defaultCloneTimeout = 2 * time.Minute

// GitCloner shallow-clones repositories with the git binary.
type GitCloner struct {
	Binary  string
	Depth   int
	Timeout time.Duration

	run    runner
	logger *zap.Logger
}

// NewGitCloner returns a cloner using "git" from PATH with depth 1.
func NewGitCloner(logger *zap.Logger) *GitCloner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitCloner{
		Binary:  "git",
		Depth:   1,
		Timeout: defaultCloneTimeout,
		run:     execRunner,
		logger:  logger,
	}
}

// Clone replaces target with a fresh shallow clone of remoteURL.
func (c *GitCloner) Clone(ctx context.Context, remoteURL, target string) bool {
	if err := os.RemoveAll(target); err != nil {
		c.logger.Warn("clear clone target", zap.String("path", target), zap.Error(err))
		return false
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		c.logger.Warn("create clone dir", zap.String("path", target), zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	depth := c.Depth
	if depth <= 0 {
		depth = 1
	}
	_, err := c.run(ctx, c.Binary, "clone", "--depth", strconv.Itoa(depth), "--quiet", remoteURL, target)
	if err != nil {
		c.logger.Warn("git clone failed", zap.String("repo_url", remoteURL), zap.Error(err))
		return false
	}
	return true
}
