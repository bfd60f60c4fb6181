package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"bmadloop/internal/domain"
)

// Progress is the snapshot written to the progress file after every step,
// so external tooling can follow a run without attaching to it.
type Progress struct {
	StoryID    string    `json:"story_id"`
	StoryKey   string    `json:"story_key"`
	State      string    `json:"state"`
	Attempt    int       `json:"attempt"`
	MaxAttempt int       `json:"max_attempts"`
	Step       string    `json:"step,omitempty"`
	StepTitle  string    `json:"step_title,omitempty"`
	Percent    float64   `json:"percent"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProgressWriter persists run progress as JSON. Writes are atomic and
// failures are ignored: progress reporting must never break a run.
type ProgressWriter struct {
	path string
}

// NewProgressWriter creates a writer for the given file.
func NewProgressWriter(path string) *ProgressWriter {
	return &ProgressWriter{path: path}
}

// Update writes the current snapshot.
func (w *ProgressWriter) Update(run *domain.StoryRun, attempt *domain.Attempt, maxAttempts int) {
	p := Progress{
		StoryID:    run.Story.ID.String(),
		StoryKey:   run.Story.Key,
		State:      string(run.State),
		MaxAttempt: maxAttempts,
		UpdatedAt:  time.Now(),
	}
	if attempt != nil {
		p.Attempt = attempt.Index
		p.Percent = attempt.ProgressPercent()
		if step := attempt.CurrentStep(); step != nil {
			p.Step = string(step.Name)
			p.StepTitle = step.Name.Title()
		}
	}
	w.write(p)
}

// Clear removes the progress file at the end of a run.
func (w *ProgressWriter) Clear() {
	os.Remove(w.path)
}

func (w *ProgressWriter) write(p Progress) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	os.Rename(tmp, w.path)
}

// ReadProgress loads the last written snapshot.
func ReadProgress(path string) (*Progress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
