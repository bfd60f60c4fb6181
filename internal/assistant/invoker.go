// Package assistant abstracts the AI coding assistant CLI. The runner and
// the deep verifier talk to an Invoker; the CLI implementation shells out,
// the demo implementation fakes plausible responses offline.
package assistant

import (
	"context"
	"time"
)

// Kind distinguishes what a request is for, so implementations can shape
// behavior (the demo invoker fakes different output per kind).
type Kind string

const (
	// KindPipeline is a pipeline step prompt: create, develop, review, commit.
	KindPipeline Kind = "pipeline"
	// KindVerify is a deep verification prompt expecting a JSON reply.
	KindVerify Kind = "verify"
)

// Request is one assistant invocation.
type Request struct {
	Kind    Kind
	Prompt  string
	WorkDir string
	Timeout time.Duration

	// OnOutput, when set, receives each output line as it streams.
	OnOutput func(line string)
}

// Result is the outcome of an invocation that ran to completion.
type Result struct {
	Text     string
	ExitCode int
	Duration time.Duration
}

// Invoker runs assistant requests. Invocation-level failures (binary
// missing, timeout) are returned as errors; a process that ran and exited
// nonzero yields a Result with its exit code.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}
