// Package events is the in-process publish/subscribe bus connecting the
// runner to its observers: the TUI, the websocket stream, and the
// progress file. Subscribers that fall behind lose events rather than
// stall the runner.
package events

import (
	"sync"
	"time"

	"bmadloop/internal/domain"
)

// Type identifies an event.
type Type string

const (
	RunStarted     Type = "run_started"
	RunFinished    Type = "run_finished"
	StoryStarted   Type = "story_started"
	StoryFinished  Type = "story_finished"
	AttemptStarted Type = "attempt_started"
	StepStarted    Type = "step_started"
	StepOutput     Type = "step_output"
	StepFinished   Type = "step_finished"
	VerdictReady   Type = "verdict_ready"
	Remediating    Type = "remediating"
	StopRequested  Type = "stop_requested"
)

// Event is one bus message. Fields are set as relevant to the type.
type Event struct {
	Type    Type            `json:"type"`
	Time    time.Time       `json:"time"`
	StoryID string          `json:"story_id,omitempty"`
	Attempt int             `json:"attempt,omitempty"`
	Step    string          `json:"step,omitempty"`
	Status  string          `json:"status,omitempty"`
	Line    string          `json:"line,omitempty"`
	Verdict *domain.Verdict `json:"verdict,omitempty"`
}

const subscriberBuffer = 256

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called when the subscriber is done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers, stamping the time if
// unset. Full subscriber buffers drop the event.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
