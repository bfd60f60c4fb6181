package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bmadloop/internal/api"
	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/notify"
	"bmadloop/internal/preflight"
	"bmadloop/internal/runner"
	"bmadloop/internal/tui"
	"bmadloop/internal/util"
)

func newRunCmd() *cobra.Command {
	var (
		storyCount  int
		epic        int
		auto        int
		maxAttempts int
		timeout     int
		noTUI       bool
		notifyOn    bool
		apiEnabled  bool
		apiPort     int
	)

	cmd := &cobra.Command{
		Use:   "run [story-id]",
		Short: "Process stories through the implement-verify-retry loop",
		Long: `Run drives one or more stories through the full pipeline, verifies
each one, and retries failures within the attempt budget.

Story selection:
  run 5-2              a single story
  run 5-10 -c 35       5-10 and the 34 stories after it
  run --epic 5         every story in epic 5
  run --auto 3         the next 3 backlog stories in sprint order

Create a stop file (bmadloop stop) to halt at the next step boundary.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			cfg.MaxAttempts = maxAttempts
			cfg.Timeout = timeout
			cfg.APIEnabled = apiEnabled
			cfg.APIPort = apiPort

			a := newApp(cfg, logger)
			ids, err := resolveStories(cmd, a, args, storyCount, epic, auto)
			if err != nil {
				return err
			}

			if err := runPreflight(cmd, cfg); err != nil {
				return err
			}

			// A sentinel left over from a previous stop must not halt
			// this run before it starts.
			if err := a.signal.Clear(); err != nil {
				return errs.Wrap(errs.EInternal, "clearing stale stop signal", err)
			}

			if err := a.openHistory(); err != nil {
				return err
			}
			defer a.closeHistory()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// First interrupt becomes a graceful stop at the next step
			// boundary; a second one cancels outright.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					_ = a.signal.Request()
				case <-ctx.Done():
					return
				}
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			if cfg.APIEnabled {
				srv := api.NewServer(cfg, a.store, a.history, a.bus, logger)
				go func() {
					if err := srv.Start(cfg.APIPort); err != nil {
						logger.Warn("api server stopped", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Stop(shutdownCtx)
				}()
			}

			summary, runErr := a.runStories(ctx, ids, noTUI)
			// Persist even when the run context was cancelled.
			a.saveRuns(context.Background(), summary.Runs)
			printSummary(cmd, summary)

			notifier := notify.New(notifyOn)
			for _, run := range summary.Runs {
				notifier.StorySettled(run)
			}
			notifier.BatchFinished(summary.Succeeded, summary.Abandoned, summary.Stopped)
			return runErr
		},
	}

	cmd.Flags().IntVarP(&storyCount, "count", "c", 1, "number of consecutive stories starting at story-id")
	cmd.Flags().IntVarP(&epic, "epic", "e", 0, "process every story in this epic")
	cmd.Flags().IntVar(&auto, "auto", 0, "process the next N backlog stories in sprint order")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", config.DefaultMaxAttempts, "attempt budget per story")
	cmd.Flags().IntVar(&timeout, "timeout", config.DefaultTimeout, "per-step assistant timeout in seconds")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "plain log output instead of the interactive view")
	cmd.Flags().BoolVar(&notifyOn, "notify", false, "send desktop notifications for story and batch outcomes")
	cmd.Flags().BoolVar(&apiEnabled, "api", false, "serve the read-only status API while running")
	cmd.Flags().IntVar(&apiPort, "port", config.DefaultAPIPort, "status API port")
	return cmd
}

// resolveStories maps command arguments to the story selection.
func resolveStories(cmd *cobra.Command, a *app, args []string, count, epic, auto int) ([]domain.StoryID, error) {
	selections := 0
	if len(args) == 1 {
		selections++
	}
	if epic > 0 {
		selections++
	}
	if auto > 0 {
		selections++
	}
	if selections != 1 {
		return nil, errs.New(errs.EUsage, "specify exactly one of: a story id, --epic, or --auto")
	}

	switch {
	case len(args) == 1:
		id, err := domain.ParseStoryID(args[0])
		if err != nil {
			return nil, errs.Newf(errs.EUsage, "invalid story id %q", args[0])
		}
		if count > 1 {
			return a.seq.Continuation(id, count)
		}
		return a.seq.Single(id)

	case epic > 0:
		return a.seq.Epic(epic)

	default:
		ids, err := a.seq.Auto(auto)
		if err != nil && errs.HasCode(err, errs.EExhaustedBacklog) && len(ids) > 0 {
			// Process what exists; the shortfall is a note, not a crash.
			cmd.Printf("Note: %v\n", err)
			return ids, nil
		}
		return ids, err
	}
}

// runPreflight blocks the run on a broken environment. Demo runs only
// warn: they touch nothing real.
func runPreflight(cmd *cobra.Command, cfg *config.Config) error {
	results := preflight.RunAll(cfg)
	if results.AllPass {
		return nil
	}
	var lines []string
	for _, check := range results.FailedChecks() {
		lines = append(lines, fmt.Sprintf("%s: %s", check.Name, check.Error))
	}
	if cfg.Demo {
		cmd.Printf("Preflight warnings (ignored in demo mode):\n  %s\n", strings.Join(lines, "\n  "))
		return nil
	}
	return errs.Newf(errs.EPreflightFailed, "preflight checks failed:\n  %s", strings.Join(lines, "\n  "))
}

// runStories runs the loop, with the TUI attached unless disabled or
// not running on a terminal.
func (a *app) runStories(ctx context.Context, ids []domain.StoryID, noTUI bool) (*runner.Summary, error) {
	useTUI := !noTUI && !a.cfg.Verbose && isTerminal(os.Stdout)
	if !useTUI {
		return a.loop.Run(ctx, ids)
	}

	type result struct {
		summary *runner.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := a.loop.Run(ctx, ids)
		done <- result{summary, err}
	}()

	if err := tui.Run(ctx, a.bus, a.signal, a.cfg.MaxAttempts, a.logger); err != nil {
		a.logger.Warn("tui exited", zap.Error(err))
	}
	res := <-done
	return res.summary, res.err
}

func printSummary(cmd *cobra.Command, summary *runner.Summary) {
	if summary == nil || len(summary.Runs) == 0 {
		cmd.Println("No stories processed.")
		return
	}

	cmd.Println()
	for _, run := range summary.Runs {
		verdictNote := ""
		if v := run.LastVerdict(); v != nil {
			verdictNote = fmt.Sprintf(" (%s verification, %s)", v.Mode, v.Remediation)
		}
		cmd.Printf("  %-16s %-11s %d attempts in %s%s\n",
			run.Story.Key, run.State, len(run.Attempts),
			util.FormatDuration(run.Duration), verdictNote)
	}
	cmd.Println()
	cmd.Printf("%d succeeded, %d abandoned in %s\n",
		summary.Succeeded, summary.Abandoned, util.FormatDuration(summary.Duration))
	if summary.Stopped {
		cmd.Println("Run halted by stop signal.")
	}
}
