package convert

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxErrorLineLen = 240

// Runner executes an external tool and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs binaries through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.Debug().Str("tool", name).Strs("args", args).Msg("running external tool")
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput() //nolint:gosec // tool paths come from config
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// toolError turns a failed invocation into a short message: the last
// non-empty line of the tool output, or the exec error itself.
func toolError(ctx context.Context, tool string, out []byte, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out", tool)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s cancelled", tool)
	}
	if line := lastLine(string(out)); line != "" {
		return fmt.Errorf("%s failed: %s", tool, line)
	}
	return fmt.Errorf("%s failed: %w", tool, err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// shortMessage keeps the first non-empty line and caps its length.
func shortMessage(msg string) string {
	for _, l := range strings.Split(msg, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			msg = l
			break
		}
	}
	if len(msg) > maxErrorLineLen {
		msg = msg[:maxErrorLineLen] + "..."
	}
	return msg
}

// CheckTools reports which of the given binaries cannot be found.
func CheckTools(names ...string) []string {
	var missing []string
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	return missing
}
