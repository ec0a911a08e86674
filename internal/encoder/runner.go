package encoder

import (
	"context"
	"os/exec"
)

// Runner abstracts process execution so ffprobe/thumbnail invocations can
// be faked in tests without touching a real binary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	RunWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error)
}

// CommandRunner runs real OS processes via os/exec.
type CommandRunner struct{}

// NewCommandRunner returns a Runner backed by the OS.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func (r *CommandRunner) RunWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	go func() {
		defer stdin.Close()
		stdin.Write(input)
	}()

	return cmd.CombinedOutput()
}
