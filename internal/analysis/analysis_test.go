package analysis

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCountSource(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "import os\nprint(os)\n")
	writeFile(t, filepath.Join(root, "web", "index.HTML"), "<html>\n<body></body>\n</html>")
	writeFile(t, filepath.Join(root, "web", "empty.css"), "")
	writeFile(t, filepath.Join(root, "README.md"), "one\ntwo\n")
	writeFile(t, filepath.Join(root, ".git", "hooks", "x.js"), "ignored\n")

	files, lines := CountSource(root)
	require.Equal(t, 3, files)
	require.Equal(t, 5, lines)
}

func TestCountSourceMissingRoot(t *testing.T) {
	t.Parallel()

	files, lines := CountSource(filepath.Join(t.TempDir(), "missing"))
	require.Zero(t, files)
	require.Zero(t, lines)
}

// exitError produces a real *exec.ExitError by running a command that exits 1.
func exitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit 1").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Skip("sh not available")
	}
	return err
}

func TestTrufflehogScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewTrufflehog(nil)

	var gotArgs []string
	s.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("{\"a\":1}\n\n{\"b\":2}\n"), nil
	}
	require.Equal(t, 2, s.Scan(context.Background(), dir))
	require.Equal(t, []string{"trufflehog", "filesystem", dir, "--json"}, gotArgs)

	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("executable not found")
	}
	require.Equal(t, discovery.FindingsUnknown, s.Scan(context.Background(), dir))

	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("not json\n"), nil
	}
	require.Equal(t, discovery.FindingsUnknown, s.Scan(context.Background(), dir))

	require.Zero(t, s.Scan(context.Background(), filepath.Join(dir, "missing")))
}

func TestBanditScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewBandit(nil)
	report := []byte(`{"results":[{"issue":"a"},{"issue":"b"},{"issue":"c"}],"errors":[]}`)

	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return report, nil
	}
	require.Equal(t, 3, s.Scan(context.Background(), dir))

	exitErr := exitError(t)
	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return report, exitErr
	}
	require.Equal(t, 3, s.Scan(context.Background(), dir), "non-zero exit is tolerated")

	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("executable not found")
	}
	require.Equal(t, discovery.FindingsUnknown, s.Scan(context.Background(), dir))

	s.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("garbage"), exitErr
	}
	require.Equal(t, discovery.FindingsUnknown, s.Scan(context.Background(), dir))
}

func TestGitClonerArgs(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "clones", "acme_widget")
	writeFile(t, filepath.Join(target, "stale.txt"), "old")

	c := NewGitCloner(nil)
	var gotArgs []string
	c.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return nil, nil
	}
	require.True(t, c.Clone(context.Background(), "https://github.com/acme/widget", target))
	require.Equal(t, "git clone --depth 1 --quiet https://github.com/acme/widget "+target, strings.Join(gotArgs, " "))
	_, err := os.Stat(filepath.Join(target, "stale.txt"))
	require.True(t, os.IsNotExist(err))

	c.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("authentication required")
	}
	require.False(t, c.Clone(context.Background(), "https://github.com/acme/private", target))
}

type fakeCloner struct {
	ok    bool
	files map[string]string
}

func (f *fakeCloner) Clone(_ context.Context, _, target string) bool {
	if !f.ok {
		return false
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return false
	}
	for name, content := range f.files {
		path := filepath.Join(target, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return false
		}
	}
	return true
}

type fixedScanner struct {
	mu    sync.Mutex
	count int
	paths []string
}

func (s *fixedScanner) Scan(_ context.Context, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return s.count
}

func TestAnalyzer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	secrets := &fixedScanner{count: 1}
	lint := &fixedScanner{count: 7}
	a := NewAnalyzer(Config{CloneDir: dir}, &fakeCloner{ok: true, files: map[string]string{
		"main.py":   "a\nb\nc\n",
		"static.js": "x\n",
	}}, secrets, lint, nil)

	got := a.Analyze(context.Background(), "acme", "widget", "https://github.com/acme/widget")
	require.Equal(t, discovery.Analysis{TotalFiles: 2, TotalLines: 4, SecretFindings: 1, LintFindings: 7}, got)
	require.Equal(t, []string{filepath.Join(dir, "acme_widget")}, secrets.paths)

	_, err := os.Stat(a.Target("acme", "widget"))
	require.True(t, os.IsNotExist(err), "working copy removed")
}

func TestAnalyzerCloneFailure(t *testing.T) {
	t.Parallel()

	secrets := &fixedScanner{count: 3}
	a := NewAnalyzer(Config{CloneDir: t.TempDir()}, &fakeCloner{ok: false}, secrets, nil, nil)
	require.Equal(t, discovery.NotScanned(), a.Analyze(context.Background(), "acme", "gone", "https://github.com/acme/gone"))
	require.Empty(t, secrets.paths)
}

func TestAnalyzerMissingScanner(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(Config{CloneDir: t.TempDir(), KeepClones: true}, &fakeCloner{ok: true}, nil, nil, nil)
	got := a.Analyze(context.Background(), "acme", "bare", "https://github.com/acme/bare")
	require.Equal(t, discovery.FindingsUnknown, got.SecretFindings)
	require.Equal(t, discovery.FindingsUnknown, got.LintFindings)

	_, err := os.Stat(a.Target("acme", "bare"))
	require.NoError(t, err, "working copy kept")
}
