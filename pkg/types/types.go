package types

import (
	"time"
)

// Role is the single role an identity holds at any time.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleProfessor Role = "professor"
	RoleMonitor   Role = "monitor"
)

// IsValid reports whether the role is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleProfessor, RoleMonitor:
		return true
	}
	return false
}

// SessionState is the derived state of a classroom session. Only the four
// valid combinations of the three booleans are representable; transition
// writes never produce any other combination.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateTeaching       SessionState = "teaching"
	StateHelpPending    SessionState = "help_pending"
	StateHelpInProgress SessionState = "help_in_progress"
	StateInvalid        SessionState = "invalid"
)

// TeacherRef identifies the identity currently holding a classroom's
// teaching seat.
type TeacherRef struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
}

// ClassroomSession is the shared record tracking one classroom's
// teaching/help state. One document per classroom, keyed by classroom ID,
// created implicitly on first teacher interaction and never deleted by
// normal flow.
//
// Invariants after every committed write:
//   - MonitorEnRoute implies HelpRequested
//   - HelpRequested implies Active
//   - at most one ActiveTeacher
type ClassroomSession struct {
	ClassroomID    string      `json:"classroom_id" db:"classroom_id"`
	Active         bool        `json:"active" db:"active"`
	HelpRequested  bool        `json:"help_requested" db:"help_requested"`
	MonitorEnRoute bool        `json:"monitor_en_route" db:"monitor_en_route"`
	ActiveTeacher  *TeacherRef `json:"active_teacher,omitempty"`

	// Revision increases by one per committed write to this document and
	// orders snapshot delivery per subscriber.
	Revision  int64     `json:"revision" db:"revision"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// State derives the session state from the three booleans.
func (s *ClassroomSession) State() SessionState {
	switch {
	case !s.Active && !s.HelpRequested && !s.MonitorEnRoute:
		return StateIdle
	case s.Active && !s.HelpRequested && !s.MonitorEnRoute:
		return StateTeaching
	case s.Active && s.HelpRequested && !s.MonitorEnRoute:
		return StateHelpPending
	case s.Active && s.HelpRequested && s.MonitorEnRoute:
		return StateHelpInProgress
	}
	return StateInvalid
}

// SeatHeldBy reports whether the teaching seat is held by the given identity.
func (s *ClassroomSession) SeatHeldBy(identityID string) bool {
	return s.ActiveTeacher != nil && s.ActiveTeacher.IdentityID == identityID
}

// SeatVacant reports whether no teacher currently holds the seat.
func (s *ClassroomSession) SeatVacant() bool {
	return s.ActiveTeacher == nil
}

// Clone returns a deep copy safe to hand to subscribers.
func (s *ClassroomSession) Clone() *ClassroomSession {
	dup := *s
	if s.ActiveTeacher != nil {
		teacher := *s.ActiveTeacher
		dup.ActiveTeacher = &teacher
	}
	return &dup
}

// SessionPatch is a partial-field merge update against a classroom session.
// Nil pointer fields are left untouched; ClearTeacher vacates the seat and
// takes precedence over ActiveTeacher.
//
// ExpectState and ExpectTeacher are write preconditions evaluated atomically
// with the merge: the commit is rejected when the current state is not in
// ExpectState (ErrInvalidTransition) or the seat is not held by ExpectTeacher
// (ErrSeatLost). They are how transitions only ever write a next-valid state
// even under concurrent writers.
type SessionPatch struct {
	Active         *bool
	HelpRequested  *bool
	MonitorEnRoute *bool
	ActiveTeacher  *TeacherRef
	ClearTeacher   bool

	ExpectState   []SessionState
	ExpectTeacher string
}

// StateAllowed reports whether state satisfies the ExpectState precondition.
func (p *SessionPatch) StateAllowed(state SessionState) bool {
	if len(p.ExpectState) == 0 {
		return true
	}
	for _, expected := range p.ExpectState {
		if state == expected {
			return true
		}
	}
	return false
}

// Apply merges the patch into a session in place.
func (p *SessionPatch) Apply(s *ClassroomSession) {
	if p.Active != nil {
		s.Active = *p.Active
	}
	if p.HelpRequested != nil {
		s.HelpRequested = *p.HelpRequested
	}
	if p.MonitorEnRoute != nil {
		s.MonitorEnRoute = *p.MonitorEnRoute
	}
	if p.ClearTeacher {
		s.ActiveTeacher = nil
	} else if p.ActiveTeacher != nil {
		teacher := *p.ActiveTeacher
		s.ActiveTeacher = &teacher
	}
}

// Identity is one authenticated user. Exactly one role at a time; role
// changes take effect on the next authorization decision, not retroactively.
type Identity struct {
	ID          string    `json:"id" db:"id"`
	LoginName   string    `json:"login_name" db:"login_name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Bool returns a pointer to b for building patches.
func Bool(b bool) *bool { return &b }
