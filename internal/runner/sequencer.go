package runner

import (
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/tracking"
)

// Sequencer decides which stories a run processes and in what order.
type Sequencer struct {
	store tracking.Store
}

// NewSequencer creates a sequencer over the tracking store.
func NewSequencer(store tracking.Store) *Sequencer {
	return &Sequencer{store: store}
}

// Single selects exactly one story.
func (s *Sequencer) Single(id domain.StoryID) ([]domain.StoryID, error) {
	return []domain.StoryID{id}, nil
}

// Continuation selects count consecutive stories starting at start. The
// sequence is arithmetic within the epic; stories that do not exist yet
// are created by the pipeline's create-story step.
func (s *Sequencer) Continuation(start domain.StoryID, count int) ([]domain.StoryID, error) {
	if count < 1 {
		return nil, errs.Newf(errs.EUsage, "story count must be positive, got %d", count)
	}
	ids := make([]domain.StoryID, 0, count)
	id := start
	for i := 0; i < count; i++ {
		ids = append(ids, id)
		id = id.Next()
	}
	return ids, nil
}

// Epic selects every story of an epic, in sequence order. Done stories
// are included: their quick verification passes on the first attempt,
// so they settle immediately and the loop moves on.
func (s *Sequencer) Epic(epic int) ([]domain.StoryID, error) {
	rec, err := s.store.ReadSprintRecord()
	if err != nil {
		return nil, err
	}

	ids := rec.EpicStories(epic)
	if len(ids) == 0 {
		return nil, errs.Newf(errs.EExhaustedBacklog, "no stories in epic %d", epic)
	}
	return ids, nil
}

// Auto selects up to count backlog stories in the order the sprint
// record lists them. When the backlog holds fewer than requested, the
// available stories are returned alongside an exhausted-backlog error so
// the caller can process what exists and report the shortfall.
func (s *Sequencer) Auto(count int) ([]domain.StoryID, error) {
	if count < 1 {
		return nil, errs.Newf(errs.EUsage, "story count must be positive, got %d", count)
	}
	rec, err := s.store.ReadSprintRecord()
	if err != nil {
		return nil, err
	}

	backlog := rec.StoriesWithStatus(domain.StatusBacklog)
	if len(backlog) >= count {
		return backlog[:count], nil
	}
	return backlog, errs.Newf(errs.EExhaustedBacklog,
		"backlog has %d stories, %d requested", len(backlog), count)
}
