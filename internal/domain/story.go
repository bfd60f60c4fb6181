package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StoryStatus represents the development status of a story
type StoryStatus string

const (
	StatusBacklog    StoryStatus = "backlog"
	StatusInProgress StoryStatus = "in-progress"
	StatusDone       StoryStatus = "done"
)

// StoryID identifies a story by epic number and sequence within the epic,
// e.g. "5-2". Sprint record keys may carry a trailing slug ("5-2-user-auth").
type StoryID struct {
	Epic int
	Seq  int
}

// storyKeyPattern matches sprint record keys that identify stories.
// Epic aggregate keys ("epic-5") and retrospective keys are not stories.
var storyKeyPattern = regexp.MustCompile(`^(\d+)-(\d+)(?:-|$)`)

// ParseStoryID parses an identifier like "5-2" or "5-2-user-auth".
func ParseStoryID(s string) (StoryID, error) {
	m := storyKeyPattern.FindStringSubmatch(s)
	if m == nil {
		return StoryID{}, fmt.Errorf("invalid story identifier %q", s)
	}
	epic, err := strconv.Atoi(m[1])
	if err != nil {
		return StoryID{}, fmt.Errorf("invalid epic in %q: %w", s, err)
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return StoryID{}, fmt.Errorf("invalid sequence in %q: %w", s, err)
	}
	return StoryID{Epic: epic, Seq: seq}, nil
}

// String returns the canonical "epic-seq" form.
func (id StoryID) String() string {
	return fmt.Sprintf("%d-%d", id.Epic, id.Seq)
}

// Next returns the identifier of the following story within the same epic.
func (id StoryID) Next() StoryID {
	return StoryID{Epic: id.Epic, Seq: id.Seq + 1}
}

// Less orders identifiers by epic, then sequence.
func (id StoryID) Less(other StoryID) bool {
	if id.Epic != other.Epic {
		return id.Epic < other.Epic
	}
	return id.Seq < other.Seq
}

// IsStoryKey reports whether a sprint record key identifies a story.
func IsStoryKey(key string) bool {
	if strings.HasPrefix(key, "epic-") {
		return false
	}
	if strings.HasSuffix(key, "-retrospective") {
		return false
	}
	return storyKeyPattern.MatchString(key)
}

// Task is a single checklist entry in a story file.
type Task struct {
	Text string
	Done bool
}

// Story represents a development story and its tracking record.
type Story struct {
	ID           StoryID
	Key          string // full sprint record key, may include a slug
	Status       StoryStatus
	Tasks        []Task
	Requirements string
	FilePath     string
	FileExists   bool
}

// AllTasksDone reports whether every task is checked. A story with no
// parsed tasks is not considered complete.
func (s *Story) AllTasksDone() bool {
	if len(s.Tasks) == 0 {
		return false
	}
	for _, t := range s.Tasks {
		if !t.Done {
			return false
		}
	}
	return true
}

// DoneTaskCount returns how many tasks are checked.
func (s *Story) DoneTaskCount() int {
	count := 0
	for _, t := range s.Tasks {
		if t.Done {
			count++
		}
	}
	return count
}
