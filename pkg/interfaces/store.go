package interfaces

import (
	"context"

	"classwatch/pkg/types"
)

// SubscribeAll subscribes to every classroom document (monitor wallboard).
const SubscribeAll = "*"

// Subscription is a live snapshot feed for one classroom or for all
// classrooms. Snapshots for one classroom arrive in commit order. After
// Cancel returns no further snapshots are delivered; in-flight writes
// already submitted still commit.
type Subscription interface {
	// Snapshots is closed when the subscription is cancelled or the store
	// shuts down.
	Snapshots() <-chan *types.ClassroomSession
	Cancel()
}

// SessionStore is the real-time classroom session store: typed reads,
// partial-field merge writes and subscriptions over classroom documents.
type SessionStore interface {
	// EnsureSession returns the session for the classroom, creating it in
	// the default Idle state with a vacant seat if absent.
	EnsureSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error)

	// GetSession returns ErrNotFound when the classroom document is absent.
	GetSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error)

	ListSessions(ctx context.Context) ([]*types.ClassroomSession, error)

	// ApplyPatch commits a partial-field merge update and returns the
	// committed snapshot. Concurrent unrelated field writes do not clobber
	// each other.
	ApplyPatch(ctx context.Context, classroomID string, patch types.SessionPatch) (*types.ClassroomSession, error)

	// ClaimSeat atomically sets the active teacher if the seat is vacant or
	// already held by the same identity; returns ErrSeatDenied otherwise.
	ClaimSeat(ctx context.Context, classroomID string, teacher types.TeacherRef) (*types.ClassroomSession, error)

	// ReleaseSeat clears the seat only if held by identityID. Idempotent.
	ReleaseSeat(ctx context.Context, classroomID string, identityID string) error

	Subscribe(classroomID string) (Subscription, error)
}

// IdentityStore manages identity documents. Credential material lives with
// the identity record; deleting an identity also revokes its credential.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *types.Identity, secretHash []byte) error
	GetIdentity(ctx context.Context, id string) (*types.Identity, error)
	GetIdentityByLogin(ctx context.Context, loginName string) (*types.Identity, []byte, error)
	ListIdentities(ctx context.Context) ([]*types.Identity, error)
	UpdateRole(ctx context.Context, id string, role types.Role) error
	DeleteIdentity(ctx context.Context, id string) error
}
