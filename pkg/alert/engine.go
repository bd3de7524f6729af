// Package alert decides, per incoming snapshot, whether a help-request
// episode has started, ended, or is already being handled. It is
// client-local working memory: nothing here is persisted, and the whole
// table is rebuilt from a fresh read after a reconnect.
package alert

import (
	"sync"

	"classwatch/pkg/types"
)

// Event is the dedup engine's verdict on one snapshot.
type Event int

const (
	// EventNone: no alert state change; play nothing.
	EventNone Event = iota
	// EventAlertStart: a new help-request episode began; play the one-shot
	// audible alert exactly once.
	EventAlertStart
	// EventAlertClear: the episode is over (resolved or session ended);
	// clear any visual alert for the classroom.
	EventAlertClear
)

// episode is one continuous help-request period as observed by this client.
type episode struct {
	acknowledgedLocally bool
}

// Engine tracks alert episodes per classroom. The re-trigger guard is
// episode presence, not field-value comparison: two non-adjacent snapshots
// can carry identical field values without an intervening clear, and must
// not re-fire the alert.
type Engine struct {
	mu       sync.Mutex
	episodes map[string]*episode
}

// NewEngine creates an empty episode table.
func NewEngine() *Engine {
	return &Engine{episodes: make(map[string]*episode)}
}

// Observe feeds one snapshot through the dedup logic and returns the
// resulting event. Safe for concurrent use, though snapshots for one
// classroom should be observed in delivery order.
func (e *Engine) Observe(s *types.ClassroomSession) Event {
	if s == nil {
		return EventNone
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pending := s.Active && s.HelpRequested && !s.MonitorEnRoute

	ep, tracked := e.episodes[s.ClassroomID]
	if !tracked {
		if pending {
			e.episodes[s.ClassroomID] = &episode{}
			return EventAlertStart
		}
		return EventNone
	}

	// The episode is considered handled whether this monitor or another
	// acknowledged it.
	if !ep.acknowledgedLocally && (s.MonitorEnRoute || !s.HelpRequested) {
		ep.acknowledgedLocally = true
	}

	// Fully resolved or session ended: discard so a future request starts a
	// fresh episode.
	if (!s.HelpRequested && !s.MonitorEnRoute) || !s.Active {
		delete(e.episodes, s.ClassroomID)
		return EventAlertClear
	}

	// A pending snapshot after the previous episode was handled is a new
	// request, not a re-delivery of the old one.
	if pending && ep.acknowledgedLocally {
		e.episodes[s.ClassroomID] = &episode{}
		return EventAlertStart
	}

	return EventNone
}

// Reset drops every tracked episode. Called on reconnect; the fresh read
// that follows re-starts an episode for any classroom still pending, so an
// active request is never silently lost.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.episodes = make(map[string]*episode)
}

// Tracked returns the number of classrooms with a live episode.
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.episodes)
}
