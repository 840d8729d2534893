package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

const defaultScanTimeout = 5 * time.Minute

// Trufflehog counts secret findings with `trufflehog filesystem <path> --json`.
type Trufflehog struct {
	Binary  string
	Timeout time.Duration

	run    runner
	logger *zap.Logger
}

// NewTrufflehog returns a scanner using "trufflehog" from PATH.
func NewTrufflehog(logger *zap.Logger) *Trufflehog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trufflehog{Binary: "trufflehog", Timeout: defaultScanTimeout, run: execRunner, logger: logger}
}

// Scan returns the number of findings, 0 when path is not a directory, or
// discovery.FindingsUnknown when the scanner fails.
func (s *Trufflehog) Scan(ctx context.Context, path string) int {
	if !isDir(path) {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out, err := s.run(ctx, s.Binary, "filesystem", path, "--json")
	if err != nil {
		s.logger.Warn("trufflehog scan failed", zap.String("path", path), zap.Error(err))
		return discovery.FindingsUnknown
	}
	count, err := countJSONLines(out)
	if err != nil {
		s.logger.Warn("trufflehog output unreadable", zap.String("path", path), zap.Error(err))
		return discovery.FindingsUnknown
	}
	return count
}

// Bandit counts lint and security findings with `bandit -r <path> -f json`.
type Bandit struct {
	Binary  string
	Timeout time.Duration

	run    runner
	logger *zap.Logger
}

// NewBandit returns a scanner using "bandit" from PATH.
func NewBandit(logger *zap.Logger) *Bandit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bandit{Binary: "bandit", Timeout: defaultScanTimeout, run: execRunner, logger: logger}
}

type banditReport struct {
	Results []json.RawMessage `json:"results"`
}

// Scan returns len(results). Bandit exits 1 when it finds issues, so only a
// failure to start or unparsable output counts as discovery.FindingsUnknown.
func (s *Bandit) Scan(ctx context.Context, path string) int {
	if !isDir(path) {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out, err := s.run(ctx, s.Binary, "-r", path, "-f", "json")
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		s.logger.Warn("bandit scan failed", zap.String("path", path), zap.Error(err))
		return discovery.FindingsUnknown
	}
	var report banditReport
	if err := json.Unmarshal(out, &report); err != nil {
		s.logger.Warn("bandit output unreadable", zap.String("path", path), zap.Error(err))
		return discovery.FindingsUnknown
	}
	return len(report.Results)
}

func countJSONLines(out []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	count := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return 0, errors.New("invalid json line")
		}
		count++
	}
	return count, scanner.Err()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
