package machine

import (
	"context"
	"log"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Machine is the authoritative definition of valid states and transitions
// for classroom sessions. Each transition is a partial-field merge update
// whose preconditions (state set, seat ownership) are checked atomically
// with the commit, so every committed write is a valid state:
//
//	Idle -> Teaching            StartSession (teacher)
//	Teaching -> HelpPending     RequestHelp (teacher)
//	HelpPending -> HelpInProgress   AcknowledgeHelp (monitor)
//	HelpInProgress -> Teaching  ResolveHelp (monitor)
//	any active -> Idle          EndSession (teacher) / ForceEndSession (monitor)
//
// These six transitions are the only session writes in the system; clients
// cannot hand-construct arbitrary field combinations.
type Machine struct {
	store interfaces.SessionStore
}

// NewMachine creates a new session state machine over the store.
func NewMachine(store interfaces.SessionStore) *Machine {
	return &Machine{store: store}
}

var activeStates = []types.SessionState{
	types.StateTeaching,
	types.StateHelpPending,
	types.StateHelpInProgress,
}

// StartSession moves Idle to Teaching. The caller must be the seated
// teacher; a vacated or stolen seat surfaces as ErrSeatLost.
func (m *Machine) StartSession(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error) {
	if err := requireRole(caller, types.RoleProfessor); err != nil {
		return nil, err
	}

	session, err := m.store.ApplyPatch(ctx, classroomID, types.SessionPatch{
		Active:        types.Bool(true),
		ExpectState:   []types.SessionState{types.StateIdle},
		ExpectTeacher: caller.ID,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Session started: classroom=%s teacher=%s", classroomID, caller.ID)
	return session, nil
}

// RequestHelp moves Teaching to HelpPending. Rejected with
// ErrInvalidTransition when help is already requested or in progress; a
// second RequestHelp without an intervening resolve leaves state unchanged.
func (m *Machine) RequestHelp(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error) {
	if err := requireRole(caller, types.RoleProfessor); err != nil {
		return nil, err
	}

	session, err := m.store.ApplyPatch(ctx, classroomID, types.SessionPatch{
		HelpRequested: types.Bool(true),
		ExpectState:   []types.SessionState{types.StateTeaching},
		ExpectTeacher: caller.ID,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Help requested: classroom=%s teacher=%s", classroomID, caller.ID)
	return session, nil
}

// AcknowledgeHelp moves HelpPending to HelpInProgress: a monitor is en
// route.
func (m *Machine) AcknowledgeHelp(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error) {
	if err := requireRole(caller, types.RoleMonitor); err != nil {
		return nil, err
	}

	session, err := m.store.ApplyPatch(ctx, classroomID, types.SessionPatch{
		MonitorEnRoute: types.Bool(true),
		ExpectState:    []types.SessionState{types.StateHelpPending},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Help acknowledged: classroom=%s monitor=%s", classroomID, caller.ID)
	return session, nil
}

// ResolveHelp moves HelpInProgress back to Teaching.
func (m *Machine) ResolveHelp(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error) {
	if err := requireRole(caller, types.RoleMonitor); err != nil {
		return nil, err
	}

	session, err := m.store.ApplyPatch(ctx, classroomID, types.SessionPatch{
		HelpRequested:  types.Bool(false),
		MonitorEnRoute: types.Bool(false),
		ExpectState:    []types.SessionState{types.StateHelpInProgress},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Help resolved: classroom=%s monitor=%s", classroomID, caller.ID)
	return session, nil
}

// EndSession moves any active state to Idle and vacates the seat.
func (m *Machine) EndSession(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error) {
	if err := requireRole(caller, types.RoleProfessor); err != nil {
		return nil, err
	}

	session, err := m.store.ApplyPatch(ctx, classroomID, endPatch(caller.ID))
	if err != nil {
		return nil, err
	}

	log.Printf("Session ended: classroom=%s teacher=%s", classroomID, caller.ID)
	return session, nil
}

// ForceEndSession is the monitor override for stuck sessions: same effect as
// EndSession, usable without teacher cooperation.
func (m *Machine) ForceEndSession(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error) {
	if err := requireRole(caller, types.RoleMonitor); err != nil {
		return nil, err
	}

	session, err := m.store.ApplyPatch(ctx, classroomID, endPatch(""))
	if err != nil {
		return nil, err
	}

	log.Printf("Session force-ended: classroom=%s monitor=%s", classroomID, caller.ID)
	return session, nil
}

func endPatch(expectTeacher string) types.SessionPatch {
	return types.SessionPatch{
		Active:         types.Bool(false),
		HelpRequested:  types.Bool(false),
		MonitorEnRoute: types.Bool(false),
		ClearTeacher:   true,
		ExpectState:    activeStates,
		ExpectTeacher:  expectTeacher,
	}
}

func requireRole(caller *types.Identity, role types.Role) error {
	if caller == nil || caller.Role != role {
		return interfaces.ErrPermissionDenied
	}
	return nil
}
