package cli

import (
	"github.com/spf13/cobra"

	"bmadloop/internal/errs"
	"bmadloop/internal/preflight"
)

func newPreflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the environment without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cfg)

			for _, check := range results.Checks {
				mark := "✗"
				detail := check.Error
				if check.Passed {
					mark = "✓"
					detail = check.Message
				}
				cmd.Printf("  %s %-16s %s\n", mark, check.Name, detail)
			}

			cmd.Printf("\n%d/%d checks passed\n", results.PassedCount(), len(results.Checks))
			if !results.AllPass {
				return errs.New(errs.EPreflightFailed, "environment is not ready")
			}
			return nil
		},
	}
}
