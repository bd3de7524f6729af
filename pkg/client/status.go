package client

import "classwatch/pkg/types"

// StatusLine renders the teacher-facing status for a snapshot: what the
// dashboard shows under the classroom name.
func StatusLine(session *types.ClassroomSession) string {
	if session == nil {
		return "No session"
	}
	switch session.State() {
	case types.StateTeaching:
		return "Class in progress"
	case types.StateHelpPending:
		return "Help requested"
	case types.StateHelpInProgress:
		return "Monitor on the way"
	case types.StateIdle:
		return "No class in progress"
	default:
		return "Unknown"
	}
}

// SeatLine renders the roster entry for a classroom: who holds the seat,
// or that it is vacant.
func SeatLine(session *types.ClassroomSession) string {
	if session == nil || session.SeatVacant() {
		return "Vacant"
	}
	if session.ActiveTeacher.DisplayName != "" {
		return session.ActiveTeacher.DisplayName
	}
	return session.ActiveTeacher.IdentityID
}
