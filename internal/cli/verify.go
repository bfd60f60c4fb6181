package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bmadloop/internal/assistant"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/tracking"
)

func newVerifyCmd() *cobra.Command {
	var (
		deep        bool
		full        bool
		interactive bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "verify <story-id>",
		Short: "Verify a story without running the pipeline",
		Long: `Verify checks whether a story is really done. The default quick pass
inspects tracking records only; --deep asks the assistant to inspect the
code; --full runs quick verification and escalates to deep on failure,
exactly as the run loop does.

With --interactive, a failed verdict is followed by a menu of remediation
actions to apply on the spot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseStoryID(args[0])
			if err != nil {
				return errs.Newf(errs.EUsage, "invalid story id %q", args[0])
			}
			if deep && full {
				return errs.New(errs.EUsage, "--deep and --full are mutually exclusive")
			}
			if interactive && asJSON {
				return errs.New(errs.EUsage, "--interactive and --json are mutually exclusive")
			}

			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			ctx := cmd.Context()

			var verdict *domain.Verdict
			switch {
			case deep:
				verdict, err = a.engine.Deep(ctx, id)
			case full:
				verdict, err = a.engine.Verify(ctx, id)
			default:
				verdict, err = a.engine.Quick(ctx, id)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(verdict)
			}

			printVerdict(cmd, verdict)
			if verdict.Passed {
				return nil
			}
			if interactive {
				return remediationMenu(cmd, a, id)
			}
			return fmt.Errorf("story %s failed %s verification", id, verdict.Mode)
		},
	}

	cmd.Flags().BoolVarP(&deep, "deep", "d", false, "assistant-mediated code inspection only")
	cmd.Flags().BoolVar(&full, "full", false, "quick verification with deep escalation on failure")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "offer remediation actions after a failed verdict")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the verdict as JSON")
	return cmd
}

// remediationMenu offers the corrective actions for a failed verdict and
// applies the chosen one.
func remediationMenu(cmd *cobra.Command, a *app, id domain.StoryID) error {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(cmd.InOrStdin())

	for {
		cmd.Println("\nRemediation actions:")
		cmd.Println("  1) create the story file")
		cmd.Println("  2) run story development")
		cmd.Println("  3) fix tracking records")
		cmd.Println("  4) deep check first")
		cmd.Println("  q) quit")
		cmd.Print("> ")

		if !scanner.Scan() {
			return scanner.Err()
		}
		choice := strings.TrimSpace(scanner.Text())

		story, err := a.store.ReadStory(id)
		if err != nil {
			return err
		}

		switch choice {
		case "1":
			return a.invokeAction(ctx, cmd, fmt.Sprintf(
				"/bmad:bmm:workflows:create-story - Create story: %s", story.Key))
		case "2":
			return a.invokeAction(ctx, cmd, fmt.Sprintf(
				"/bmad:bmm:workflows:dev-story - Work on story file: %s. "+
					"Complete all tasks and check them off in the story file.",
				story.FilePath))
		case "3":
			if err := repairTracking(a, story); err != nil {
				return err
			}
			cmd.Printf("Tracking records for %s marked done.\n", story.Key)
			return nil
		case "4":
			verdict, err := a.engine.Deep(ctx, id)
			if err != nil {
				return err
			}
			printVerdict(cmd, verdict)
			if verdict.Passed {
				return nil
			}
		case "q", "":
			return nil
		default:
			cmd.Printf("Unknown choice %q.\n", choice)
		}
	}
}

func (a *app) invokeAction(ctx context.Context, cmd *cobra.Command, prompt string) error {
	res, err := a.invoker.Invoke(ctx, assistant.Request{
		Kind:    assistant.KindPipeline,
		Prompt:  prompt,
		WorkDir: a.cfg.WorkingDir,
		Timeout: a.cfg.StepTimeout(),
		OnOutput: func(line string) {
			cmd.Println(line)
		},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.Newf(errs.EInternal, "assistant exited with code %d", res.ExitCode)
	}
	return nil
}

func repairTracking(a *app, story *domain.Story) error {
	story.Status = domain.StatusDone
	for i := range story.Tasks {
		story.Tasks[i].Done = true
	}
	if err := a.store.WriteStory(story); err != nil {
		return err
	}
	rec, err := a.store.ReadSprintRecord()
	if err != nil {
		if !errs.HasCode(err, errs.ENotFound) {
			return err
		}
		rec = tracking.NewSprintRecord()
	}
	rec.SetStatusOf(story.ID, domain.StatusDone)
	return a.store.WriteSprintRecord(rec)
}

func printVerdict(cmd *cobra.Command, v *domain.Verdict) {
	status := "FAILED"
	if v.Passed {
		status = "PASSED"
	}
	cmd.Printf("Story %s: %s (%s verification)\n", v.StoryID, status, v.Mode)
	for _, check := range v.Checks {
		mark := "✗"
		if check.Passed {
			mark = "✓"
		}
		if check.Detail != "" {
			cmd.Printf("  %s %-22s %s\n", mark, check.Name, check.Detail)
		} else {
			cmd.Printf("  %s %s\n", mark, check.Name)
		}
	}
	if v.Summary != "" {
		cmd.Printf("  summary: %s\n", v.Summary)
	}
	if !v.Passed {
		cmd.Printf("  remediation: %s\n", v.Remediation)
	}
}
