// Package notify sends desktop notifications for run outcomes, so long
// story batches can run unattended.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"bmadloop/internal/domain"
)

// Notifier sends desktop notifications when enabled. All methods are
// no-ops when disabled or on unsupported platforms; notification
// failures are swallowed since they must never affect a run.
type Notifier struct {
	enabled bool
}

// New creates a notifier.
func New(enabled bool) *Notifier {
	return &Notifier{enabled: enabled}
}

// StorySettled notifies that a story reached a terminal state.
func (n *Notifier) StorySettled(run *domain.StoryRun) {
	switch run.State {
	case domain.RunSucceeded:
		n.send("Story Verified", fmt.Sprintf("%s passed verification after %d attempt(s)",
			run.Story.Key, len(run.Attempts)))
	case domain.RunAbandoned:
		n.send("Story Abandoned", fmt.Sprintf("%s exhausted its attempt budget", run.Story.Key))
	}
}

// BatchFinished notifies that a whole batch completed.
func (n *Notifier) BatchFinished(succeeded, abandoned int, stopped bool) {
	switch {
	case stopped:
		n.send("Run Stopped", fmt.Sprintf("Halted by stop signal: %d succeeded, %d abandoned",
			succeeded, abandoned))
	case abandoned > 0:
		n.send("Run Complete with Failures", fmt.Sprintf("%d succeeded, %d abandoned",
			succeeded, abandoned))
	default:
		n.send("Run Complete", fmt.Sprintf("All %d stories verified", succeeded))
	}
}

func (n *Notifier) send(title, message string) {
	if !n.enabled {
		return
	}
	switch runtime.GOOS {
	case "darwin":
		title = strings.ReplaceAll(title, `"`, `\"`)
		message = strings.ReplaceAll(message, `"`, `\"`)
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
		_ = exec.Command("osascript", "-e", script).Run()
	case "linux":
		_ = exec.Command("notify-send", title, message).Run()
	}
}
