package assistant

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bmadloop/internal/errs"
)

// CLIInvoker shells out to the assistant CLI in headless mode.
type CLIInvoker struct {
	command string
	logger  *zap.Logger
}

// NewCLIInvoker creates an invoker for the given assistant command.
func NewCLIInvoker(command string, logger *zap.Logger) *CLIInvoker {
	return &CLIInvoker{command: command, logger: logger}
}

// Invoke runs the assistant with the request prompt and streams its output.
func (c *CLIInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := []string{"--dangerously-skip-permissions", "-p", req.Prompt}
	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = req.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.EInternal, "creating stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.EInternal, "creating stderr pipe", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, errs.Newf(errs.EToolUnavailable, "assistant command %q not found", c.command)
		}
		return nil, errs.Wrap(errs.EToolUnavailable, "starting assistant", err)
	}
	c.logger.Debug("assistant invoked",
		zap.String("command", c.command),
		zap.String("kind", string(req.Kind)))

	var mu sync.Mutex
	var out strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)

	stream := func(line string) {
		mu.Lock()
		out.WriteString(line)
		out.WriteByte('\n')
		mu.Unlock()
		if req.OnOutput != nil {
			req.OnOutput(line)
		}
	}

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			stream(scanner.Text())
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			stream("[stderr] " + scanner.Text())
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, errs.Newf(errs.ETimeout, "assistant timed out after %s", req.Timeout)
	}
	if ctx.Err() == context.Canceled {
		return nil, ctx.Err()
	}

	result := &Result{Text: out.String(), Duration: duration}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			c.logger.Debug("assistant exited nonzero", zap.Int("code", result.ExitCode))
			return result, nil
		}
		return nil, errs.Wrap(errs.EToolUnavailable, "running assistant", waitErr)
	}
	return result, nil
}
