package gitutil

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codectx-dev/codectx/internal/logger"
)

// DefaultTimeout bounds every git subprocess invocation.
const DefaultTimeout = 10 * time.Second

// cloneTimeout bounds clone operations, which legitimately run long.
const cloneTimeout = 10 * time.Minute

// Runner executes git subcommands with a hard timeout.
type Runner struct {
	log     *logger.Logger
	gitExec string
	timeout time.Duration
}

// NewRunner creates a Runner. A zero timeout means DefaultTimeout.
func NewRunner(log *logger.Logger, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		log:     log,
		gitExec: "git",
		timeout: timeout,
	}
}

// Run executes `git args...` in cwd and returns trimmed stdout.
// Non-zero exit, timeout, or undecodable output all return ok=false;
// git failures are expected states here, not errors to propagate.
func (r *Runner) Run(ctx context.Context, cwd string, args ...string) (string, bool) {
	return r.run(ctx, r.timeout, cwd, args...)
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, cwd string, args ...string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.gitExec, args...)
	// force kill git and child processes shortly after ctx expiry
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	start := time.Now()
	err := cmd.Run()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())

	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		r.log.Debug("git command failed",
			"cwd", cwd, "args", strings.Join(args, " "),
			"err", err, "stderr", stderr, "time", runTime)
		return "", false
	}
	if !utf8.ValidString(stdout) {
		r.log.Debug("git command produced undecodable output",
			"cwd", cwd, "args", strings.Join(args, " "))
		return "", false
	}
	return stdout, true
}
