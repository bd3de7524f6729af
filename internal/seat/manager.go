package seat

import (
	"context"
	"log"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Manager grants a classroom's teaching seat to exactly one identity at a
// time. The claim goes through the store's conditional write, so two racing
// claims on a vacant seat cannot both win; the loser gets ErrSeatDenied up
// front rather than discovering the steal later.
type Manager struct {
	store interfaces.SessionStore
}

// NewManager creates a new seat manager.
func NewManager(store interfaces.SessionStore) *Manager {
	return &Manager{store: store}
}

// ClaimSeat grants the seat to the identity if vacant or already held by the
// same identity. Claiming also records the teacher's display name on the
// session document for monitor wallboards. Only professors hold seats.
func (m *Manager) ClaimSeat(ctx context.Context, classroomID string, identity *types.Identity) (*types.ClassroomSession, error) {
	if identity == nil || identity.Role != types.RoleProfessor {
		return nil, interfaces.ErrPermissionDenied
	}
	if !types.IsValidClassroomID(classroomID) {
		return nil, types.ErrInvalidClassroomID
	}

	session, err := m.store.ClaimSeat(ctx, classroomID, types.TeacherRef{
		IdentityID:  identity.ID,
		DisplayName: identity.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Seat claimed: classroom=%s teacher=%s", classroomID, identity.ID)
	return session, nil
}

// ReleaseSeat clears the seat only if currently held by the identity.
// Idempotent: releasing an already-vacant or foreign-held seat is a no-op,
// which makes double-logout races harmless.
func (m *Manager) ReleaseSeat(ctx context.Context, classroomID string, identity *types.Identity) error {
	if identity == nil {
		return interfaces.ErrPermissionDenied
	}
	if err := m.store.ReleaseSeat(ctx, classroomID, identity.ID); err != nil {
		return err
	}
	log.Printf("Seat released: classroom=%s teacher=%s", classroomID, identity.ID)
	return nil
}

// ValidateSeat checks seat ownership against a current snapshot. Seated
// clients call this before every transition to detect a steal or a forced
// end that vacated the seat underneath them.
func (m *Manager) ValidateSeat(session *types.ClassroomSession, identityID string) error {
	if session == nil {
		return interfaces.ErrNotFound
	}
	if !session.SeatHeldBy(identityID) {
		return interfaces.ErrSeatLost
	}
	return nil
}
