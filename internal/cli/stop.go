package cli

import (
	"github.com/spf13/cobra"

	"bmadloop/internal/runner"
)

func newStopCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Request a graceful stop of the active run",
		Long: `Stop creates a sentinel file that the run loop checks at every step
boundary. The step in flight finishes; nothing is interrupted mid-step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			if err := ensureDataDir(cfg); err != nil {
				return err
			}
			signal := runner.NewFileSignal(cfg.StopFilePath())

			if clear {
				if err := signal.Clear(); err != nil {
					return err
				}
				cmd.Println("Stop signal cleared.")
				return nil
			}

			if err := signal.Request(); err != nil {
				return err
			}
			cmd.Printf("Stop requested (%s). The run halts at the next step boundary.\n", signal.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "remove a pending stop signal instead of setting one")
	return cmd
}
