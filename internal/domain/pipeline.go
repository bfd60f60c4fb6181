package domain

import "time"

// StepName identifies a pipeline step.
type StepName string

const (
	StepReadStatus     StepName = "read-status"
	StepCreateStory    StepName = "create-story"
	StepDevStory       StepName = "dev-story"
	StepRunTests       StepName = "run-tests"
	StepCodeReview     StepName = "code-review"
	StepFixIssues      StepName = "fix-issues"
	StepRunTestsFinal  StepName = "run-tests-final"
	StepUpdateStory    StepName = "update-story"
	StepUpdateSprint   StepName = "update-sprint"
	StepUpdateWorkflow StepName = "update-workflow"
	StepGitCommit      StepName = "git-commit"
)

// PipelineSteps returns all pipeline steps in execution order.
func PipelineSteps() []StepName {
	return []StepName{
		StepReadStatus,
		StepCreateStory,
		StepDevStory,
		StepRunTests,
		StepCodeReview,
		StepFixIssues,
		StepRunTestsFinal,
		StepUpdateStory,
		StepUpdateSprint,
		StepUpdateWorkflow,
		StepGitCommit,
	}
}

// Title returns a human-readable step description.
func (s StepName) Title() string {
	switch s {
	case StepReadStatus:
		return "Read workflow status"
	case StepCreateStory:
		return "Create story"
	case StepDevStory:
		return "Develop story"
	case StepRunTests:
		return "Run tests"
	case StepCodeReview:
		return "Code review"
	case StepFixIssues:
		return "Fix issues"
	case StepRunTestsFinal:
		return "Run tests until pass"
	case StepUpdateStory:
		return "Update story status"
	case StepUpdateSprint:
		return "Update sprint record"
	case StepUpdateWorkflow:
		return "Update workflow status"
	case StepGitCommit:
		return "Git commit"
	default:
		return string(s)
	}
}

// StepStatus represents the execution status of a step
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepExecution represents the execution state of a single step
type StepExecution struct {
	Name      StepName
	Status    StepStatus
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Output    []string
	Error     string
}

// IsComplete returns true if the step has finished (success, failed, or skipped)
func (s *StepExecution) IsComplete() bool {
	return s.Status == StepSuccess || s.Status == StepFailed || s.Status == StepSkipped
}
