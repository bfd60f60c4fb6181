// Package tracking provides read/write access to story records and the
// aggregate sprint record. It is pure data access: no verification or
// retry logic lives here.
package tracking

import (
	"sort"
	"strings"

	"bmadloop/internal/domain"
)

// Store is the tracking read/write surface used by the verifiers and the
// runner. Writes have atomic semantics: readers never observe a partial
// record.
type Store interface {
	ReadStory(id domain.StoryID) (*domain.Story, error)
	WriteStory(story *domain.Story) error
	ReadSprintRecord() (*SprintRecord, error)
	WriteSprintRecord(rec *SprintRecord) error
}

// SprintRecord is the aggregate story-to-status mapping. Entry order is
// preserved: the sequencer's auto-pick mode yields backlog stories in
// recorded order.
type SprintRecord struct {
	keys   []string
	status map[string]domain.StoryStatus
}

// NewSprintRecord creates an empty sprint record.
func NewSprintRecord() *SprintRecord {
	return &SprintRecord{status: make(map[string]domain.StoryStatus)}
}

// Set records the status for a key, appending new keys at the end.
func (r *SprintRecord) Set(key string, status domain.StoryStatus) {
	if _, ok := r.status[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.status[key] = status
}

// Get returns the status for an exact key.
func (r *SprintRecord) Get(key string) (domain.StoryStatus, bool) {
	s, ok := r.status[key]
	return s, ok
}

// Len returns the number of entries.
func (r *SprintRecord) Len() int {
	return len(r.keys)
}

// Keys returns all keys in recorded order.
func (r *SprintRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// KeyFor resolves a story identifier to its full record key. Record keys
// may carry a slug suffix ("5-2-user-auth"), so "5-2" matches either the
// exact key or a "5-2-" prefix.
func (r *SprintRecord) KeyFor(id domain.StoryID) (string, bool) {
	want := id.String()
	if _, ok := r.status[want]; ok {
		return want, true
	}
	prefix := want + "-"
	for _, k := range r.keys {
		if domain.IsStoryKey(k) && strings.HasPrefix(k, prefix) {
			return k, true
		}
	}
	return "", false
}

// StatusOf returns the recorded status for a story identifier.
func (r *SprintRecord) StatusOf(id domain.StoryID) (domain.StoryStatus, bool) {
	key, ok := r.KeyFor(id)
	if !ok {
		return "", false
	}
	return r.status[key], true
}

// SetStatusOf updates the entry for a story identifier, creating a bare
// "epic-seq" entry when no key exists yet.
func (r *SprintRecord) SetStatusOf(id domain.StoryID, status domain.StoryStatus) {
	if key, ok := r.KeyFor(id); ok {
		r.status[key] = status
		return
	}
	r.Set(id.String(), status)
}

// StoryKeys returns the keys that identify stories, in recorded order.
func (r *SprintRecord) StoryKeys() []string {
	var out []string
	for _, k := range r.keys {
		if domain.IsStoryKey(k) {
			out = append(out, k)
		}
	}
	return out
}

// StoriesWithStatus returns story identifiers with the given status, in
// recorded order.
func (r *SprintRecord) StoriesWithStatus(status domain.StoryStatus) []domain.StoryID {
	var out []domain.StoryID
	for _, k := range r.StoryKeys() {
		if r.status[k] != status {
			continue
		}
		id, err := domain.ParseStoryID(k)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// EpicStories returns all story identifiers under an epic in ascending
// sequence order, without duplicates.
func (r *SprintRecord) EpicStories(epic int) []domain.StoryID {
	seen := make(map[domain.StoryID]bool)
	var out []domain.StoryID
	for _, k := range r.StoryKeys() {
		id, err := domain.ParseStoryID(k)
		if err != nil || id.Epic != epic || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// CountByStatus returns entry counts per status for story keys.
func (r *SprintRecord) CountByStatus() map[domain.StoryStatus]int {
	counts := make(map[domain.StoryStatus]int)
	for _, k := range r.StoryKeys() {
		counts[r.status[k]]++
	}
	return counts
}
