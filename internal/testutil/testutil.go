// Package testutil provides shared test fixtures.
package testutil

import (
	"sync"

	"bmadloop/internal/domain"
	"bmadloop/internal/tracking"
)

// MemStore is an in-memory tracking.Store for tests.
type MemStore struct {
	mu      sync.Mutex
	Stories map[string]*domain.Story
	Record  *tracking.SprintRecord

	StoryWrites  int
	SprintWrites int
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		Stories: make(map[string]*domain.Story),
		Record:  tracking.NewSprintRecord(),
	}
}

// ReadStory returns the stored story, or an empty backlog story when the
// identifier is unknown, mirroring how the file store treats missing
// story files.
func (m *MemStore) ReadStory(id domain.StoryID) (*domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Stories[id.String()]; ok {
		clone := *s
		clone.Tasks = append([]domain.Task(nil), s.Tasks...)
		return &clone, nil
	}
	return &domain.Story{ID: id, Key: id.String(), Status: domain.StatusBacklog}, nil
}

// WriteStory stores the story and marks its file present.
func (m *MemStore) WriteStory(story *domain.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *story
	clone.FileExists = true
	clone.Tasks = append([]domain.Task(nil), story.Tasks...)
	m.Stories[story.ID.String()] = &clone
	story.FileExists = true
	m.StoryWrites++
	return nil
}

// ReadSprintRecord returns the record.
func (m *MemStore) ReadSprintRecord() (*tracking.SprintRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Record, nil
}

// WriteSprintRecord replaces the record.
func (m *MemStore) WriteSprintRecord(rec *tracking.SprintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Record = rec
	m.SprintWrites++
	return nil
}

// SeedDoneStory stores a fully complete story with matching sprint entry.
func (m *MemStore) SeedDoneStory(id domain.StoryID, key string) {
	m.Stories[id.String()] = &domain.Story{
		ID:         id,
		Key:        key,
		Status:     domain.StatusDone,
		Tasks:      []domain.Task{{Text: "Implement", Done: true}, {Text: "Test", Done: true}},
		FileExists: true,
		FilePath:   "/stories/" + key + ".md",
	}
	m.Record.Set(key, domain.StatusDone)
}
