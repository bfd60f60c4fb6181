package cli

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"bmadloop/internal/domain"
	"bmadloop/internal/runner"
	"bmadloop/internal/tracking"
)

const backlogPreview = 5

var (
	statusTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#cba6f7"))
	statusDone   = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	statusActive = lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa"))
	statusSubtle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086"))
)

func newStatusCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sprint record and any active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			store := tracking.NewFileStore(cfg.SprintStatusPath, cfg.StoryDir)

			rec, err := store.ReadSprintRecord()
			if err != nil {
				return err
			}

			counts := rec.CountByStatus()
			cmd.Println(statusTitle.Render("Sprint Status"))
			cmd.Printf("%d stories: %s, %s, %s\n\n",
				len(rec.StoryKeys()),
				statusDone.Render(fmt.Sprintf("%d done", counts[domain.StatusDone])),
				statusActive.Render(fmt.Sprintf("%d in progress", counts[domain.StatusInProgress])),
				statusSubtle.Render(fmt.Sprintf("%d backlog", counts[domain.StatusBacklog])))

			printEpicBreakdown(cmd, rec)
			printInProgress(cmd, rec)
			printBacklogPreview(cmd, rec)
			if all {
				printDone(cmd, rec)
			}

			if progress, err := runner.ReadProgress(cfg.ProgressFilePath()); err == nil {
				cmd.Printf("\n%s %s (%s), attempt %d/%d",
					statusActive.Render("Active run:"),
					progress.StoryKey, progress.State, progress.Attempt, progress.MaxAttempt)
				if progress.StepTitle != "" {
					cmd.Printf(", %s", progress.StepTitle)
				}
				cmd.Printf(" (%.0f%%)\n", progress.Percent)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "also list done stories")
	return cmd
}

func printEpicBreakdown(cmd *cobra.Command, rec *tracking.SprintRecord) {
	type epicCount struct{ done, total int }
	epics := make(map[int]*epicCount)
	for _, key := range rec.StoryKeys() {
		id, err := domain.ParseStoryID(key)
		if err != nil {
			continue
		}
		ec := epics[id.Epic]
		if ec == nil {
			ec = &epicCount{}
			epics[id.Epic] = ec
		}
		ec.total++
		if st, _ := rec.Get(key); st == domain.StatusDone {
			ec.done++
		}
	}

	nums := make([]int, 0, len(epics))
	for n := range epics {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	cmd.Println(statusTitle.Render("Epics"))
	for _, n := range nums {
		ec := epics[n]
		line := fmt.Sprintf("  epic %-3d %d/%d done", n, ec.done, ec.total)
		if ec.done == ec.total {
			line = statusDone.Render(line)
		}
		cmd.Println(line)
	}
	cmd.Println()
}

func printInProgress(cmd *cobra.Command, rec *tracking.SprintRecord) {
	stories := rec.StoriesWithStatus(domain.StatusInProgress)
	if len(stories) == 0 {
		return
	}
	cmd.Println(statusTitle.Render("In progress"))
	for _, id := range stories {
		key, _ := rec.KeyFor(id)
		cmd.Printf("  %s\n", statusActive.Render(key))
	}
	cmd.Println()
}

func printBacklogPreview(cmd *cobra.Command, rec *tracking.SprintRecord) {
	backlog := rec.StoriesWithStatus(domain.StatusBacklog)
	if len(backlog) == 0 {
		return
	}
	cmd.Println(statusTitle.Render("Next up"))
	for i, id := range backlog {
		if i == backlogPreview {
			cmd.Println(statusSubtle.Render(fmt.Sprintf("  … and %d more", len(backlog)-backlogPreview)))
			break
		}
		key, _ := rec.KeyFor(id)
		cmd.Printf("  %s\n", key)
	}
	cmd.Println()
}

func printDone(cmd *cobra.Command, rec *tracking.SprintRecord) {
	stories := rec.StoriesWithStatus(domain.StatusDone)
	if len(stories) == 0 {
		return
	}
	cmd.Println(statusTitle.Render("Done"))
	for _, id := range stories {
		key, _ := rec.KeyFor(id)
		cmd.Printf("  %s\n", statusDone.Render(key))
	}
	cmd.Println()
}
