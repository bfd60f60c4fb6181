package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bmadloop/internal/assistant"
	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/events"
	"bmadloop/internal/tracking"
	"bmadloop/internal/verify"
)

// RetryController owns the per-story state machine: attempt, verify,
// remediate, until the story succeeds or the attempt budget runs out.
// The budget is a hard bound; nothing extends it.
type RetryController struct {
	cfg      *config.Config
	pipeline *Pipeline
	engine   *verify.Engine
	store    tracking.Store
	invoker  assistant.Invoker
	bus      *events.Bus
	signal   StopSignal
	progress *ProgressWriter
	logger   *zap.Logger
}

// NewRetryController creates a controller.
func NewRetryController(cfg *config.Config, pipeline *Pipeline, engine *verify.Engine, store tracking.Store, invoker assistant.Invoker, bus *events.Bus, signal StopSignal, progress *ProgressWriter, logger *zap.Logger) *RetryController {
	return &RetryController{
		cfg:      cfg,
		pipeline: pipeline,
		engine:   engine,
		store:    store,
		invoker:  invoker,
		bus:      bus,
		signal:   signal,
		progress: progress,
		logger:   logger,
	}
}

// ProcessStory runs one story to a terminal state. The returned run
// always reflects what happened, even when an error is also returned.
func (c *RetryController) ProcessStory(ctx context.Context, story *domain.Story) (*domain.StoryRun, error) {
	run := &domain.StoryRun{Story: *story, State: domain.RunPending, StartTime: time.Now()}
	defer func() {
		run.EndTime = time.Now()
		run.Duration = run.EndTime.Sub(run.StartTime)
	}()

	c.bus.Publish(events.Event{Type: events.StoryStarted, StoryID: story.ID.String()})

	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	// A fix-tracking remediation repairs the records directly, so the
	// following attempt goes straight to verification.
	verifyOnly := false

	for i := 1; i <= maxAttempts; i++ {
		if c.signal.Requested() {
			c.bus.Publish(events.Event{Type: events.StopRequested, StoryID: story.ID.String()})
			return run, ErrStopRequested
		}

		attempt := domain.NewAttempt(i)
		run.Attempts = append(run.Attempts, attempt)
		c.bus.Publish(events.Event{Type: events.AttemptStarted, StoryID: story.ID.String(), Attempt: i})

		if verifyOnly {
			for _, s := range attempt.Steps {
				s.Status = domain.StepSkipped
			}
		} else {
			run.State = domain.RunAttempting
			c.progress.Update(run, attempt, maxAttempts)

			err := c.pipeline.Run(ctx, run, attempt, c.progress)
			if errors.Is(err, ErrStopRequested) || errors.Is(err, context.Canceled) {
				return run, err
			}
			if err != nil {
				if attempt.Fatal {
					run.State = domain.RunAbandoned
					c.finish(run)
					return run, err
				}
				c.logger.Warn("attempt pipeline failed, verifying anyway",
					zap.String("story", story.ID.String()),
					zap.Int("attempt", i),
					zap.Error(err))
			}
		}
		verifyOnly = false

		run.State = domain.RunVerifying
		c.progress.Update(run, attempt, maxAttempts)

		verdict, err := c.engine.Verify(ctx, story.ID)
		if err != nil {
			run.State = domain.RunAbandoned
			c.finish(run)
			return run, err
		}
		attempt.Verdict = verdict
		c.bus.Publish(events.Event{Type: events.VerdictReady, StoryID: story.ID.String(), Attempt: i, Verdict: verdict})

		if verdict.Passed {
			run.State = domain.RunSucceeded
			c.finish(run)
			return run, nil
		}

		run.State = domain.RunRemediating
		c.bus.Publish(events.Event{
			Type:    events.Remediating,
			StoryID: story.ID.String(),
			Attempt: i,
			Status:  string(verdict.Remediation),
		})

		if verdict.Remediation == domain.RemediationFixTracking {
			if err := c.fixTracking(ctx, run); err != nil {
				run.State = domain.RunAbandoned
				c.finish(run)
				return run, err
			}
			verifyOnly = true
		}
	}

	run.State = domain.RunAbandoned
	if v := run.LastVerdict(); v != nil {
		v.Remediation = domain.RemediationAbandon
	}
	c.logger.Warn("story abandoned",
		zap.String("story", story.ID.String()),
		zap.Int("attempts", len(run.Attempts)))
	c.finish(run)
	return run, nil
}

// fixTracking repairs stale tracking records: the deep inspection found
// the code, so the story file, sprint record, and commit history are
// brought in line with reality.
func (c *RetryController) fixTracking(ctx context.Context, run *domain.StoryRun) error {
	story, err := c.store.ReadStory(run.Story.ID)
	if err != nil {
		return err
	}
	story.Status = domain.StatusDone
	for i := range story.Tasks {
		story.Tasks[i].Done = true
	}
	if err := c.store.WriteStory(story); err != nil {
		return err
	}

	rec, err := c.store.ReadSprintRecord()
	if err != nil {
		if !errs.HasCode(err, errs.ENotFound) {
			return err
		}
		rec = tracking.NewSprintRecord()
	}
	rec.SetStatusOf(story.ID, domain.StatusDone)
	if err := c.store.WriteSprintRecord(rec); err != nil {
		return err
	}
	run.Story = *story

	// The commit check needs a story commit too. A commit failure here is
	// not fatal: the next verification pass will surface it.
	_, err = c.invoker.Invoke(ctx, assistant.Request{
		Kind:    assistant.KindPipeline,
		WorkDir: c.cfg.WorkingDir,
		Timeout: c.cfg.StepTimeout(),
		Prompt: fmt.Sprintf(
			"Commit the tracking record updates for story %s with the subject "+
				"'fix(story): reconcile tracking records %s'.",
			story.Key, story.ID),
	})
	if err != nil {
		c.logger.Warn("fix-tracking commit failed", zap.String("story", story.ID.String()), zap.Error(err))
	}
	return nil
}

func (c *RetryController) finish(run *domain.StoryRun) {
	c.bus.Publish(events.Event{
		Type:    events.StoryFinished,
		StoryID: run.Story.ID.String(),
		Status:  string(run.State),
	})
}
