package cli

import (
	"github.com/spf13/cobra"

	"bmadloop/internal/domain"
	"bmadloop/internal/storage"
	"bmadloop/internal/util"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past story runs",
	}
	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd(), newHistoryStatsCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		limit int
		story string
		state string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			if err := a.openHistory(); err != nil {
				return err
			}
			defer a.closeHistory()

			filter := &storage.RunFilter{StoryID: story, Limit: limit, State: domain.RunState(state)}
			runs, err := a.history.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("No runs recorded.")
				return nil
			}

			cmd.Printf("%-36s  %-10s  %-11s  %8s  %8s  %s\n",
				"ID", "STORY", "STATE", "ATTEMPTS", "DURATION", "WHEN")
			for _, run := range runs {
				cmd.Printf("%-36s  %-10s  %-11s  %8d  %8s  %s\n",
					run.ID, run.StoryID, run.State, len(run.Attempts),
					util.FormatDurationCompact(run.Duration),
					run.StartTime.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&story, "story", "", "filter by story id")
	cmd.Flags().StringVar(&state, "state", "", "filter by run state (succeeded, abandoned)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var withOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			if err := a.openHistory(); err != nil {
				return err
			}
			defer a.closeHistory()

			var run *storage.RunRecord
			if withOutput {
				run, err = a.history.GetRunWithOutput(cmd.Context(), args[0])
			} else {
				run, err = a.history.GetRun(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			cmd.Printf("Run %s\n", run.ID)
			cmd.Printf("  story:    %s (%s)\n", run.StoryKey, run.StoryID)
			cmd.Printf("  state:    %s\n", run.State)
			cmd.Printf("  duration: %s\n", util.FormatDuration(run.Duration))
			cmd.Printf("  started:  %s\n", run.StartTime.Local().Format("2006-01-02 15:04:05"))

			for _, attempt := range run.Attempts {
				cmd.Printf("\nAttempt %d (%s)\n", attempt.Index, util.FormatDurationCompact(attempt.Duration))
				if attempt.Error != "" {
					cmd.Printf("  error: %s\n", attempt.Error)
				}
				if attempt.VerdictMode != "" {
					result := "failed"
					if attempt.VerdictPassed {
						result = "passed"
					}
					cmd.Printf("  verdict: %s (%s), remediation %s\n",
						result, attempt.VerdictMode, attempt.Remediation)
					for _, check := range attempt.Checks {
						mark := "✗"
						if check.Passed {
							mark = "✓"
						}
						cmd.Printf("    %s %-22s %s\n", mark, check.Name, check.Detail)
					}
					if attempt.Summary != "" {
						cmd.Printf("  summary: %s\n", attempt.Summary)
					}
				}
				for _, step := range attempt.Steps {
					cmd.Printf("  %-14s %-9s %s\n", step.StepName, step.Status,
						util.FormatDurationCompact(step.Duration))
					if withOutput {
						for _, line := range step.Output {
							cmd.Printf("    | %s\n", line)
						}
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withOutput, "output", false, "include captured step output")
	return cmd
}

func newHistoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate run statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			if err := a.openHistory(); err != nil {
				return err
			}
			defer a.closeHistory()

			stats, err := a.history.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Runs:           %d\n", stats.TotalRuns)
			cmd.Printf("Succeeded:      %d\n", stats.Succeeded)
			cmd.Printf("Abandoned:      %d\n", stats.Abandoned)
			cmd.Printf("Total attempts: %d\n", stats.TotalAttempts)
			cmd.Printf("Avg attempts:   %.1f\n", stats.AvgAttempts)
			cmd.Printf("Avg duration:   %s\n", util.FormatDuration(stats.AvgDuration))
			return nil
		},
	}
}
