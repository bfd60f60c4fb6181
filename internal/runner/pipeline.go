// Package runner drives stories through the implementation pipeline: the
// step sequence for one attempt, the retry controller around attempts,
// and the sequencer that decides which stories to process.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bmadloop/internal/assistant"
	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/events"
	"bmadloop/internal/tracking"
)

// Pipeline executes the step sequence of a single attempt. The stop
// signal is consulted before every step; a step that has started always
// runs to completion.
type Pipeline struct {
	cfg     *config.Config
	store   tracking.Store
	invoker assistant.Invoker
	bus     *events.Bus
	signal  StopSignal
	logger  *zap.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg *config.Config, store tracking.Store, invoker assistant.Invoker, bus *events.Bus, signal StopSignal, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		invoker: invoker,
		bus:     bus,
		signal:  signal,
		logger:  logger,
	}
}

// Run executes all steps of the attempt. A returned error other than
// ErrStopRequested marks the attempt failed; errors carrying
// EToolUnavailable additionally flag it fatal, since no further attempt
// can do better.
func (p *Pipeline) Run(ctx context.Context, run *domain.StoryRun, attempt *domain.Attempt, progress *ProgressWriter) error {
	attempt.StartTime = time.Now()
	defer func() {
		attempt.EndTime = time.Now()
		attempt.Duration = attempt.EndTime.Sub(attempt.StartTime)
	}()

	for _, step := range attempt.Steps {
		if p.signal.Requested() {
			p.bus.Publish(events.Event{Type: events.StopRequested, StoryID: run.Story.ID.String()})
			return ErrStopRequested
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if step.Name == domain.StepCreateStory && run.Story.FileExists {
			step.Status = domain.StepSkipped
			p.publishStep(run, attempt, step)
			progress.Update(run, attempt, p.cfg.MaxAttempts)
			continue
		}

		if err := p.runStep(ctx, run, attempt, step); err != nil {
			progress.Update(run, attempt, p.cfg.MaxAttempts)
			if errs.HasCode(err, errs.EToolUnavailable) {
				attempt.Fatal = true
			}
			attempt.Error = err.Error()
			return err
		}
		progress.Update(run, attempt, p.cfg.MaxAttempts)
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, run *domain.StoryRun, attempt *domain.Attempt, step *domain.StepExecution) error {
	step.Status = domain.StepRunning
	step.StartTime = time.Now()
	step.Output = step.Output[:0]
	p.bus.Publish(events.Event{
		Type:    events.StepStarted,
		StoryID: run.Story.ID.String(),
		Attempt: attempt.Index,
		Step:    string(step.Name),
	})
	p.logger.Info("step started",
		zap.String("story", run.Story.ID.String()),
		zap.Int("attempt", attempt.Index),
		zap.String("step", string(step.Name)))

	err := p.execute(ctx, run, step)

	step.EndTime = time.Now()
	step.Duration = step.EndTime.Sub(step.StartTime)
	if err != nil {
		step.Status = domain.StepFailed
		step.Error = err.Error()
	} else {
		step.Status = domain.StepSuccess
	}
	p.publishStep(run, attempt, step)
	return err
}

func (p *Pipeline) execute(ctx context.Context, run *domain.StoryRun, step *domain.StepExecution) error {
	switch step.Name {
	case domain.StepReadStatus:
		return p.readStatus(run, step)
	case domain.StepUpdateStory:
		return p.updateStory(run, step)
	case domain.StepUpdateSprint:
		return p.updateSprint(run, step)
	default:
		return p.invokeStep(ctx, run, step)
	}
}

// readStatus refreshes the story from tracking so later steps see the
// current state, not what the sequencer loaded.
func (p *Pipeline) readStatus(run *domain.StoryRun, step *domain.StepExecution) error {
	story, err := p.store.ReadStory(run.Story.ID)
	if err != nil {
		return err
	}
	run.Story = *story

	rec, err := p.store.ReadSprintRecord()
	if err != nil && !errs.HasCode(err, errs.ENotFound) {
		return err
	}
	line := fmt.Sprintf("story %s: status=%s tasks=%d/%d", story.Key, story.Status,
		story.DoneTaskCount(), len(story.Tasks))
	if rec != nil {
		if st, ok := rec.StatusOf(story.ID); ok {
			line += fmt.Sprintf(" sprint=%s", st)
		}
	}
	step.Output = append(step.Output, line)
	return nil
}

func (p *Pipeline) updateStory(run *domain.StoryRun, step *domain.StepExecution) error {
	story, err := p.store.ReadStory(run.Story.ID)
	if err != nil {
		return err
	}
	story.Status = domain.StatusDone
	if err := p.store.WriteStory(story); err != nil {
		return err
	}
	run.Story = *story
	step.Output = append(step.Output, fmt.Sprintf("story %s marked done", story.Key))
	return nil
}

func (p *Pipeline) updateSprint(run *domain.StoryRun, step *domain.StepExecution) error {
	rec, err := p.store.ReadSprintRecord()
	if err != nil {
		if !errs.HasCode(err, errs.ENotFound) {
			return err
		}
		rec = tracking.NewSprintRecord()
	}
	rec.SetStatusOf(run.Story.ID, domain.StatusDone)
	if err := p.store.WriteSprintRecord(rec); err != nil {
		return err
	}
	step.Output = append(step.Output, fmt.Sprintf("sprint record: %s -> done", run.Story.ID))
	return nil
}

func (p *Pipeline) invokeStep(ctx context.Context, run *domain.StoryRun, step *domain.StepExecution) error {
	res, err := p.invoker.Invoke(ctx, assistant.Request{
		Kind:    assistant.KindPipeline,
		Prompt:  stepPrompt(step.Name, &run.Story),
		WorkDir: p.cfg.WorkingDir,
		Timeout: p.cfg.StepTimeout(),
		OnOutput: func(line string) {
			step.Output = append(step.Output, line)
			p.bus.Publish(events.Event{
				Type:    events.StepOutput,
				StoryID: run.Story.ID.String(),
				Step:    string(step.Name),
				Line:    line,
			})
		},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.Newf(errs.EInternal, "assistant exited with code %d on step %s", res.ExitCode, step.Name)
	}
	return nil
}

func (p *Pipeline) publishStep(run *domain.StoryRun, attempt *domain.Attempt, step *domain.StepExecution) {
	p.bus.Publish(events.Event{
		Type:    events.StepFinished,
		StoryID: run.Story.ID.String(),
		Attempt: attempt.Index,
		Step:    string(step.Name),
		Status:  string(step.Status),
	})
}

// stepPrompt builds the assistant prompt for a pipeline step.
func stepPrompt(name domain.StepName, story *domain.Story) string {
	switch name {
	case domain.StepCreateStory:
		return fmt.Sprintf("/bmad:bmm:workflows:create-story - Create story: %s", story.Key)
	case domain.StepDevStory:
		return fmt.Sprintf(
			"/bmad:bmm:workflows:dev-story - Work on story file: %s. "+
				"Complete all tasks and check them off in the story file. "+
				"Run tests after each implementation. "+
				"Do not ask clarifying questions - use best judgment based on existing patterns.",
			story.FilePath)
	case domain.StepRunTests:
		return fmt.Sprintf("Run the full test suite for story %s and fix any failures you find.", story.Key)
	case domain.StepCodeReview:
		return fmt.Sprintf(
			"/bmad:bmm:workflows:code-review - Review story: %s. "+
				"IMPORTANT: When presenting options, always choose option 1 to "+
				"auto-fix all issues immediately. Do not wait for user input.",
			story.FilePath)
	case domain.StepFixIssues:
		return fmt.Sprintf("Address every outstanding review finding for story %s.", story.Key)
	case domain.StepRunTestsFinal:
		return fmt.Sprintf("Run the test suite for story %s again and keep fixing until it passes.", story.Key)
	case domain.StepUpdateWorkflow:
		return fmt.Sprintf(
			"/bmad:bmm:workflows:workflow-status - Record story %s as complete "+
				"in the workflow status file.",
			story.Key)
	case domain.StepGitCommit:
		return fmt.Sprintf(
			"Commit all changes for story %s. Use a conventional subject of the form "+
				"'feat(story): <description> %s' (or fix(story) for a bugfix). "+
				"Then push to the current branch.",
			story.Key, story.ID)
	default:
		return ""
	}
}
