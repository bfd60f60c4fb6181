package assistant

import (
	"context"
	"fmt"
	"time"
)

// DemoInvoker fakes assistant responses so the full loop can run offline.
// Pipeline requests stream canned progress lines; verify requests return a
// well-formed verification report.
type DemoInvoker struct {
	// LineDelay paces streamed output so demo runs look live. Zero means
	// no pacing, which is what tests want.
	LineDelay time.Duration
}

// NewDemoInvoker creates a demo invoker with presentation pacing.
func NewDemoInvoker() *DemoInvoker {
	return &DemoInvoker{LineDelay: 150 * time.Millisecond}
}

var demoPipelineLines = []string{
	"Reading story context...",
	"Planning implementation...",
	"Editing source files...",
	"Running test suite... all tests passed",
	"Done.",
}

const demoVerifyReport = `{
  "overall_implemented": true,
  "summary": "All tasks implemented with passing tests.",
  "tasks": [
    {"task": "Implement feature", "implemented": true}
  ],
  "files_found": ["internal/feature/feature.go", "internal/feature/feature_test.go"],
  "files_missing": [],
  "tests_found": true,
  "matches_requirements": true,
  "tests_pass": true
}`

// Invoke returns a canned response for the request kind.
func (d *DemoInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	var text string
	switch req.Kind {
	case KindVerify:
		text = demoVerifyReport
		if req.OnOutput != nil {
			req.OnOutput("Inspecting repository...")
		}
	default:
		for i, line := range demoPipelineLines {
			if err := d.pause(ctx); err != nil {
				return nil, err
			}
			if req.OnOutput != nil {
				req.OnOutput(line)
			}
			text += line
			if i < len(demoPipelineLines)-1 {
				text += "\n"
			}
		}
	}

	return &Result{Text: text, Duration: time.Since(start)}, nil
}

func (d *DemoInvoker) pause(ctx context.Context) error {
	if d.LineDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(d.LineDelay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("demo interrupted: %w", ctx.Err())
	}
}
