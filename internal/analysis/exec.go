package analysis

import (
	"bytes"
	"context"
	"os/exec"
)

// runner executes a command and returns its stdout. A non-zero exit is
// returned as an *exec.ExitError alongside whatever stdout was produced.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}
