// Package analytics records product events fired after successful
// mutations.
package analytics

import (
	"sync"

	"go.uber.org/zap"
)

// Event names.
const (
	StoryCreated           = "story_created"
	StoryUpdated           = "story_updated"
	StoryMoved             = "story_moved"
	StoryDeleted           = "story_deleted"
	StoryRestored          = "story_restored"
	StoryArchived          = "story_archived"
	StoriesBulkUpdated     = "stories_bulk_updated"
	StoriesBulkDeleted     = "stories_bulk_deleted"
	ObjectiveCreated       = "objective_created"
	ObjectiveUpdated       = "objective_updated"
	ObjectiveDeleted       = "objective_deleted"
	KeyResultCreated       = "key_result_created"
	KeyResultUpdated       = "key_result_updated"
	KeyResultDeleted       = "key_result_deleted"
	ObjectiveStatusCreated = "objective_status_created"
	ObjectiveStatusUpdated = "objective_status_updated"
	ObjectiveStatusDeleted = "objective_status_deleted"
)

type Tracker interface {
	Track(event string, props map[string]any)
}

// Log writes every event as a structured log line.
type Log struct {
	log *zap.SugaredLogger
}

func NewLog(log *zap.SugaredLogger) *Log {
	return &Log{log: log.Named("analytics")}
}

func (t *Log) Track(event string, props map[string]any) {
	kv := make([]any, 0, 2+len(props)*2)
	kv = append(kv, "event", event)
	for k, v := range props {
		kv = append(kv, k, v)
	}
	t.log.Infow("track", kv...)
}

type Nop struct{}

func (Nop) Track(string, map[string]any) {}

type Event struct {
	Name  string
	Props map[string]any
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Track(event string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: event, Props: props})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
