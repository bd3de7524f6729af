package types

import (
	"time"
)

// Stream message types delivered over a snapshot subscription socket.
const (
	StreamTypeSnapshot = "snapshot"
	StreamTypeSystem   = "system"
	StreamTypeError    = "error"
	StreamTypeAck      = "ack"
)

// System events carried in StreamTypeSystem messages.
const (
	EventSyncComplete = "sync_complete"
	EventSeatLost     = "seat_lost"
)

// StreamMessage is one frame on the client-facing snapshot stream.
// Snapshots for one classroom are delivered in commit order; no ordering is
// guaranteed across classrooms.
type StreamMessage struct {
	Type      string            `json:"type"`
	Session   *ClassroomSession `json:"session,omitempty"`
	CommandID string            `json:"command_id,omitempty"`
	Event     string            `json:"event,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Command actions a connected client may send over its socket. These are the
// only session writes clients can express; arbitrary field combinations are
// not representable on the wire.
const (
	ActionClaimSeat       = "claim_seat"
	ActionReleaseSeat     = "release_seat"
	ActionStartSession    = "start_session"
	ActionRequestHelp     = "request_help"
	ActionAcknowledgeHelp = "acknowledge_help"
	ActionResolveHelp     = "resolve_help"
	ActionEndSession      = "end_session"
	ActionForceEndSession = "force_end_session"
)

// Command is a client-issued seat or transition request.
type Command struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	ClassroomID string `json:"classroom_id"`
}

// IsValidAction reports whether the action names a known command.
func IsValidAction(action string) bool {
	switch action {
	case ActionClaimSeat, ActionReleaseSeat,
		ActionStartSession, ActionRequestHelp,
		ActionAcknowledgeHelp, ActionResolveHelp,
		ActionEndSession, ActionForceEndSession:
		return true
	}
	return false
}

// Validate checks the command shape before dispatch.
func (c *Command) Validate() error {
	if !IsValidAction(c.Action) {
		return ErrInvalidAction
	}
	if !IsValidClassroomID(c.ClassroomID) {
		return ErrInvalidClassroomID
	}
	return nil
}
