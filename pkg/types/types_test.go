package types

import (
	"testing"
)

func TestStateDerivation(t *testing.T) {
	cases := []struct {
		name           string
		active         bool
		helpRequested  bool
		monitorEnRoute bool
		want           SessionState
	}{
		{"all clear", false, false, false, StateIdle},
		{"active only", true, false, false, StateTeaching},
		{"help pending", true, true, false, StateHelpPending},
		{"help in progress", true, true, true, StateHelpInProgress},
		{"help without session", false, true, false, StateInvalid},
		{"en route without request", true, false, true, StateInvalid},
		{"en route without session", false, false, true, StateInvalid},
		{"en route and request without session", false, true, true, StateInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &ClassroomSession{
				Active:         tc.active,
				HelpRequested:  tc.helpRequested,
				MonitorEnRoute: tc.monitorEnRoute,
			}
			if got := s.State(); got != tc.want {
				t.Errorf("State() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSeatPredicates(t *testing.T) {
	s := &ClassroomSession{ClassroomID: "cs101"}

	if !s.SeatVacant() {
		t.Error("expected vacant seat on fresh session")
	}
	if s.SeatHeldBy("t1") {
		t.Error("vacant seat should not be held by anyone")
	}

	s.ActiveTeacher = &TeacherRef{IdentityID: "t1", DisplayName: "Dr. Silva"}
	if s.SeatVacant() {
		t.Error("seat should not be vacant after assignment")
	}
	if !s.SeatHeldBy("t1") {
		t.Error("seat should be held by t1")
	}
	if s.SeatHeldBy("t2") {
		t.Error("seat should not be held by t2")
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := &ClassroomSession{
		ClassroomID:   "cs101",
		Active:        true,
		ActiveTeacher: &TeacherRef{IdentityID: "t1", DisplayName: "Dr. Silva"},
		Revision:      3,
	}

	clone := original.Clone()
	clone.Active = false
	clone.ActiveTeacher.IdentityID = "t2"

	if !original.Active {
		t.Error("mutating clone changed original Active")
	}
	if original.ActiveTeacher.IdentityID != "t1" {
		t.Error("mutating clone teacher changed original teacher")
	}
}

func TestPatchApplyPartialMerge(t *testing.T) {
	s := &ClassroomSession{
		ClassroomID:   "cs101",
		Active:        true,
		HelpRequested: true,
		ActiveTeacher: &TeacherRef{IdentityID: "t1"},
	}

	// Only MonitorEnRoute set; everything else untouched.
	patch := SessionPatch{MonitorEnRoute: Bool(true)}
	patch.Apply(s)

	if !s.Active || !s.HelpRequested || !s.MonitorEnRoute {
		t.Errorf("unexpected flags after patch: %+v", s)
	}
	if s.ActiveTeacher == nil || s.ActiveTeacher.IdentityID != "t1" {
		t.Error("patch without teacher fields should leave seat untouched")
	}
}

func TestPatchClearTeacherWinsOverAssignment(t *testing.T) {
	s := &ClassroomSession{
		ClassroomID:   "cs101",
		ActiveTeacher: &TeacherRef{IdentityID: "t1"},
	}

	patch := SessionPatch{
		ClearTeacher:  true,
		ActiveTeacher: &TeacherRef{IdentityID: "t2"},
	}
	patch.Apply(s)

	if s.ActiveTeacher != nil {
		t.Error("ClearTeacher should take precedence over ActiveTeacher")
	}
}

func TestPatchStateAllowed(t *testing.T) {
	unrestricted := SessionPatch{}
	if !unrestricted.StateAllowed(StateIdle) {
		t.Error("empty ExpectState should allow every state")
	}

	restricted := SessionPatch{ExpectState: []SessionState{StateTeaching, StateHelpPending}}
	if !restricted.StateAllowed(StateTeaching) {
		t.Error("expected Teaching to be allowed")
	}
	if restricted.StateAllowed(StateIdle) {
		t.Error("expected Idle to be rejected")
	}
}

func TestClassroomIDValidation(t *testing.T) {
	valid := []string{"cs101", "CS-101", "lab_3", "a", "x1-y2_z3"}
	for _, id := range valid {
		if !IsValidClassroomID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "room 1", "a/b", "sala#3", "ã101",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"} // 51 chars
	for _, id := range invalid {
		if IsValidClassroomID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestCommandValidate(t *testing.T) {
	cmd := &Command{ID: "c1", Action: ActionStartSession, ClassroomID: "cs101"}
	if err := cmd.Validate(); err != nil {
		t.Errorf("valid command rejected: %v", err)
	}

	cmd = &Command{ID: "c2", Action: "self_destruct", ClassroomID: "cs101"}
	if err := cmd.Validate(); err != ErrInvalidAction {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}

	cmd = &Command{ID: "c3", Action: ActionRequestHelp, ClassroomID: "bad id"}
	if err := cmd.Validate(); err != ErrInvalidClassroomID {
		t.Errorf("expected ErrInvalidClassroomID, got %v", err)
	}
}

func TestRoleIsValid(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleProfessor, RoleMonitor} {
		if !role.IsValid() {
			t.Errorf("expected %s to be valid", role)
		}
	}
	if Role("student").IsValid() {
		t.Error("unknown role accepted")
	}
}
