package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/events"
	"bmadloop/internal/tracking"
)

// Summary is the outcome of processing a batch of stories.
type Summary struct {
	Runs      []*domain.StoryRun
	Succeeded int
	Abandoned int
	Stopped   bool
	StartTime time.Time
	Duration  time.Duration
}

// Loop processes a sequence of stories through the retry controller,
// honoring the stop signal at story boundaries.
type Loop struct {
	controller *RetryController
	store      tracking.Store
	bus        *events.Bus
	signal     StopSignal
	progress   *ProgressWriter
	logger     *zap.Logger
}

// NewLoop creates a loop.
func NewLoop(controller *RetryController, store tracking.Store, bus *events.Bus, signal StopSignal, progress *ProgressWriter, logger *zap.Logger) *Loop {
	return &Loop{
		controller: controller,
		store:      store,
		bus:        bus,
		signal:     signal,
		progress:   progress,
		logger:     logger,
	}
}

// Run processes the stories in order. The returned summary covers every
// story that was started; an abandoned story is reported through the
// error, not by aborting the batch.
func (l *Loop) Run(ctx context.Context, ids []domain.StoryID) (*Summary, error) {
	summary := &Summary{StartTime: time.Now()}
	defer func() {
		summary.Duration = time.Since(summary.StartTime)
		l.progress.Clear()
		l.bus.Publish(events.Event{Type: events.RunFinished})
	}()

	l.bus.Publish(events.Event{Type: events.RunStarted})
	l.logger.Info("run started", zap.Int("stories", len(ids)))

	for _, id := range ids {
		if l.signal.Requested() {
			summary.Stopped = true
			l.bus.Publish(events.Event{Type: events.StopRequested})
			break
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		story, err := l.store.ReadStory(id)
		if err != nil {
			return summary, err
		}

		run, err := l.controller.ProcessStory(ctx, story)
		if run != nil {
			summary.Runs = append(summary.Runs, run)
			switch run.State {
			case domain.RunSucceeded:
				summary.Succeeded++
			case domain.RunAbandoned:
				summary.Abandoned++
			}
		}
		if errors.Is(err, ErrStopRequested) {
			summary.Stopped = true
			break
		}
		if err != nil {
			return summary, err
		}
	}

	l.logger.Info("run finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("abandoned", summary.Abandoned),
		zap.Bool("stopped", summary.Stopped))

	if summary.Abandoned > 0 {
		return summary, errs.Newf(errs.EStoriesAbandoned,
			"%d of %d stories abandoned", summary.Abandoned, len(summary.Runs))
	}
	return summary, nil
}
