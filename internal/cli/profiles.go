package cli

import (
	"github.com/spf13/cobra"

	"bmadloop/internal/profile"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved project profiles",
		Long: `Profiles store per-project paths and limits, so switching projects is
"--profile <name>" instead of a stack of flags. Profiles live in the user
config directory and apply before any explicit flags.`,
	}
	cmd.AddCommand(newProfileSaveCmd(), newProfileListCmd(), newProfileShowCmd(), newProfileDeleteCmd())
	return cmd
}

func newProfileSaveCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current flag-derived configuration as a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			p := &profile.Profile{
				Name:             args[0],
				Description:      description,
				WorkingDir:       cfg.WorkingDir,
				SprintStatusPath: cfg.SprintStatusPath,
				StoryDir:         cfg.StoryDir,
				AssistantCommand: cfg.AssistantCommand,
				Timeout:          cfg.Timeout,
				DeepTimeout:      cfg.DeepTimeout,
				MaxAttempts:      cfg.MaxAttempts,
				APIPort:          cfg.APIPort,
			}
			if err := profileStore().Save(p); err != nil {
				return err
			}
			cmd.Printf("Profile %q saved.\n", p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "profile description")
	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := profileStore()
			names, err := store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				cmd.Println("No profiles saved.")
				return nil
			}
			for _, name := range names {
				p, err := store.Load(name)
				if err != nil {
					cmd.Printf("  %-20s (unreadable: %v)\n", name, err)
					continue
				}
				cmd.Printf("  %-20s %s\n", name, p.Description)
			}
			return nil
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profileStore().Load(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Profile %s\n", p.Name)
			if p.Description != "" {
				cmd.Printf("  description:   %s\n", p.Description)
			}
			cmd.Printf("  working dir:   %s\n", p.WorkingDir)
			cmd.Printf("  sprint record: %s\n", p.SprintStatusPath)
			cmd.Printf("  story dir:     %s\n", p.StoryDir)
			cmd.Printf("  assistant:     %s\n", p.AssistantCommand)
			cmd.Printf("  step timeout:  %ds\n", p.Timeout)
			cmd.Printf("  deep timeout:  %ds\n", p.DeepTimeout)
			cmd.Printf("  max attempts:  %d\n", p.MaxAttempts)
			cmd.Printf("  api port:      %d\n", p.APIPort)
			return nil
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profileStore().Delete(args[0]); err != nil {
				return err
			}
			cmd.Printf("Profile %q deleted.\n", args[0])
			return nil
		},
	}
}
