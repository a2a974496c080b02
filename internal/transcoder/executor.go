package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Result is what one engine invocation produced. A nonzero ExitCode is a
// normal result, not an error.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Elapsed  time.Duration
	TimedOut bool
}

// Invoker runs an argument vector as a child process. Implementations must
// be safe for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, args []string, dir string) (Result, error)
}

// ProcessInvoker runs a fixed binary (normally ffmpeg) with the given args.
type ProcessInvoker struct {
	binPath string
	stderr  io.Writer // Optional live copy of stderr
}

// waitDelay bounds how long Wait blocks on output pipes after the process
// has been killed.
const waitDelay = 5 * time.Second

// NewProcessInvoker returns an invoker for binPath. When live is non-nil the
// child's stderr is copied there as it is produced, in addition to being
// captured.
func NewProcessInvoker(binPath string, live io.Writer) *ProcessInvoker {
	return &ProcessInvoker{binPath: binPath, stderr: live}
}

// Invoke starts the process and waits for it. When ctx expires the process
// is killed and Result.TimedOut is set. An error is returned only if the
// process could not be started.
func (p *ProcessInvoker) Invoke(ctx context.Context, args []string, dir string) (Result, error) {
	cmd := exec.CommandContext(ctx, p.binPath, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if p.stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, p.stderr)
	} else {
		cmd.Stderr = &stderr
	}

	// 1. Start the process. Only a failure here is an error; everything after
	// this point is reported through the Result.
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Elapsed: time.Since(start)}, fmt.Errorf("start %s: %w", p.binPath, err)
	}

	// 2. Wait for ffmpeg to exit (or be killed by ctx).
	waitErr := cmd.Wait()
	res := Result{
		Stdout:  stdout.Bytes(),
		Stderr:  stderr.Bytes(),
		Elapsed: time.Since(start),
	}

	// 3. Turn the wait status into an exit code.
	classify(&res, waitErr, ctx.Err())
	return res, nil
}

// classify fills the exit fields of res. A context that ended only counts
// when the process did not exit cleanly: ffmpeg finishing right as the
// deadline passes is still a success.
func classify(res *Result, waitErr, ctxErr error) {
	if waitErr == nil {
		res.ExitCode = 0
		return
	}

	if ctxErr != nil {
		res.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		res.ExitCode = -1
		if !res.TimedOut {
			res.Stderr = append(res.Stderr, []byte("\nprocess killed: "+ctxErr.Error())...)
		}
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return
	}
	// I/O failure after the process ran; report it through stderr.
	res.ExitCode = -1
	res.Stderr = append(res.Stderr, []byte("\n"+waitErr.Error())...)
}
