package cli

import (
	"context"

	"go.uber.org/zap"

	"bmadloop/internal/assistant"
	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/events"
	"bmadloop/internal/runner"
	"bmadloop/internal/storage"
	"bmadloop/internal/tracking"
	"bmadloop/internal/verify"
)

// app wires the runtime components together for the commands.
type app struct {
	cfg        *config.Config
	store      *tracking.FileStore
	invoker    assistant.Invoker
	bus        *events.Bus
	signal     *runner.FileSignal
	progress   *runner.ProgressWriter
	engine     *verify.Engine
	controller *runner.RetryController
	loop       *runner.Loop
	seq        *runner.Sequencer
	history    storage.Store
	logger     *zap.Logger
}

func newApp(cfg *config.Config, logger *zap.Logger) *app {
	a := &app{
		cfg:    cfg,
		store:  tracking.NewFileStore(cfg.SprintStatusPath, cfg.StoryDir),
		bus:    events.NewBus(),
		logger: logger,
	}

	if cfg.Demo {
		a.invoker = assistant.NewDemoInvoker()
	} else {
		a.invoker = assistant.NewCLIInvoker(cfg.AssistantCommand, logger)
	}

	a.signal = runner.NewFileSignal(cfg.StopFilePath())
	a.progress = runner.NewProgressWriter(cfg.ProgressFilePath())

	quick := verify.NewQuickVerifier(a.store, cfg.WorkingDir, logger)
	if cfg.Demo {
		// Demo runs have no real commits to find.
		quick.SetCommitChecker(func(ctx context.Context, workDir string, id domain.StoryID) (bool, error) {
			return true, nil
		})
	}
	deep := verify.NewDeepVerifier(a.store, a.invoker, cfg.WorkingDir, cfg.DeepVerifyTimeout(), logger)
	a.engine = verify.NewEngine(quick, deep, logger)

	pipeline := runner.NewPipeline(cfg, a.store, a.invoker, a.bus, a.signal, logger)
	a.controller = runner.NewRetryController(cfg, pipeline, a.engine, a.store, a.invoker, a.bus, a.signal, a.progress, logger)
	a.loop = runner.NewLoop(a.controller, a.store, a.bus, a.signal, a.progress, logger)
	a.seq = runner.NewSequencer(a.store)
	return a
}

// openHistory opens the run history database, creating the data
// directory if needed.
func (a *app) openHistory() error {
	if err := ensureDataDir(a.cfg); err != nil {
		return err
	}
	store, err := storage.NewSQLiteStore(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.history = store
	return nil
}

func (a *app) closeHistory() {
	if a.history != nil {
		_ = a.history.Close()
	}
}

// saveRuns persists completed runs; persistence failures are logged,
// never fatal to the run itself.
func (a *app) saveRuns(ctx context.Context, runs []*domain.StoryRun) {
	if a.history == nil {
		return
	}
	for _, run := range runs {
		if _, err := a.history.SaveRun(ctx, run); err != nil {
			a.logger.Warn("failed to save run history",
				zap.String("story", run.Story.ID.String()),
				zap.Error(err))
		}
	}
}
