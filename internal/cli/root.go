// Package cli provides the cobra command tree for bmadloop.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bmadloop/internal/config"
	"bmadloop/internal/profile"
)

// flags shared across subcommands.
var (
	flagVerbose    bool
	flagWorkingDir string
	flagSprintPath string
	flagStoryDir   string
	flagAssistant  string
	flagProfile    string
	flagDemo       bool

	logger *zap.Logger
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bmadloop",
		Short: "Verified story automation loop for BMAD projects",
		Long: `bmadloop drives development stories through an AI coding assistant
and refuses to take the assistant's word for it: every story is verified
against its tracking records and, when those disagree, against the code
itself. Failed stories are retried with a bounded budget, and stale
tracking is repaired instead of triggering pointless re-implementation.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zcfg := zap.NewProductionConfig()
			if flagVerbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&flagWorkingDir, "dir", "", "project working directory (default: current directory)")
	pf.StringVar(&flagSprintPath, "sprint-status", "", "path to sprint-status.yaml")
	pf.StringVar(&flagStoryDir, "story-dir", "", "directory holding story files")
	pf.StringVar(&flagAssistant, "assistant", "", "assistant CLI command (default: claude)")
	pf.StringVar(&flagProfile, "profile", "", "apply a saved project profile")
	pf.BoolVar(&flagDemo, "demo", false, "run with a simulated assistant, no real calls")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newRunCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newStopCmd(),
		newPreflightCmd(),
		newProfileCmd(),
	)
	return rootCmd
}

// buildConfig assembles configuration from defaults, the selected
// profile, and global flags, in that precedence order.
func buildConfig() (*config.Config, error) {
	cfg := config.New()

	if flagProfile != "" {
		p, err := profileStore().Load(flagProfile)
		if err != nil {
			return nil, err
		}
		p.Apply(cfg)
	}

	if flagWorkingDir != "" {
		cfg.WorkingDir = flagWorkingDir
		cfg.SprintStatusPath = filepath.Join(flagWorkingDir, config.DefaultSprintStatus)
		cfg.StoryDir = filepath.Join(flagWorkingDir, config.DefaultStoryDir)
		cfg.DataDir = filepath.Join(flagWorkingDir, config.DefaultDataDir)
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "bmadloop.db")
	}
	if flagSprintPath != "" {
		cfg.SprintStatusPath = flagSprintPath
	}
	if flagStoryDir != "" {
		cfg.StoryDir = flagStoryDir
	}
	if flagAssistant != "" {
		cfg.AssistantCommand = flagAssistant
	}
	cfg.Demo = flagDemo
	cfg.Verbose = flagVerbose
	return cfg, nil
}

// profileStore returns the shared profile store. Profiles live under the
// user config directory so one install can serve several projects.
func profileStore() *profile.Store {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return profile.NewStore(filepath.Join(dir, "bmadloop"))
}

// Execute runs the root command with the given output writers and
// returns the error for main to map to an exit code.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return err
}

func ensureDataDir(cfg *config.Config) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
