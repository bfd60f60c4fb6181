package domain

import "time"

// RunState is the per-story state machine position.
type RunState string

const (
	RunPending     RunState = "pending"
	RunAttempting  RunState = "attempting"
	RunVerifying   RunState = "verifying"
	RunSucceeded   RunState = "succeeded"
	RunRemediating RunState = "remediating"
	RunAbandoned   RunState = "abandoned"
)

// Terminal reports whether the state ends processing for the story.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunAbandoned
}

// Attempt is one pass through the pipeline for a story, owned by the
// retry controller while the story is being processed.
type Attempt struct {
	Index     int // 1-based
	Steps     []*StepExecution
	Verdict   *Verdict
	Fatal     bool // pipeline aborted, no partial verdict from steps
	Error     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// NewAttempt creates an attempt with all pipeline steps initialized.
func NewAttempt(index int) *Attempt {
	steps := make([]*StepExecution, len(PipelineSteps()))
	for i, name := range PipelineSteps() {
		steps[i] = &StepExecution{Name: name, Status: StepPending}
	}
	return &Attempt{Index: index, Steps: steps}
}

// CurrentStep returns the first step that is not yet complete, or nil.
func (a *Attempt) CurrentStep() *StepExecution {
	for _, s := range a.Steps {
		if !s.IsComplete() {
			return s
		}
	}
	return nil
}

// CompletedSteps returns the count of finished steps.
func (a *Attempt) CompletedSteps() int {
	count := 0
	for _, s := range a.Steps {
		if s.IsComplete() {
			count++
		}
	}
	return count
}

// ProgressPercent returns attempt progress as a percentage (0-100).
func (a *Attempt) ProgressPercent() float64 {
	if len(a.Steps) == 0 {
		return 0
	}
	return float64(a.CompletedSteps()) / float64(len(a.Steps)) * 100
}

// StoryRun is the full processing record for one story.
type StoryRun struct {
	Story     Story
	State     RunState
	Attempts  []*Attempt
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// LastVerdict returns the most recent verdict across attempts, or nil.
func (r *StoryRun) LastVerdict() *Verdict {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		if r.Attempts[i].Verdict != nil {
			return r.Attempts[i].Verdict
		}
	}
	return nil
}
