package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Backend is the persistence surface the store drives. *database.Manager
// implements it; tests substitute an in-memory fake.
type Backend interface {
	SetCommitHook(func(*types.ClassroomSession))
	EnsureSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error)
	GetSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error)
	ListSessions(ctx context.Context) ([]*types.ClassroomSession, error)
	ApplyPatch(ctx context.Context, classroomID string, patch types.SessionPatch) (*types.ClassroomSession, error)
	ClaimSeat(ctx context.Context, classroomID string, teacher types.TeacherRef) (*types.ClassroomSession, error)
	ReleaseSeat(ctx context.Context, classroomID string, identityID string) error
}

const subscriptionBuffer = 64

// Store is the real-time session store: reads and merge writes delegate to
// the backend, and every committed write fans out to subscribers in commit
// order. The backend invokes the commit hook from its single writer
// goroutine, which is what makes per-document delivery order match commit
// order.
type Store struct {
	backend Backend

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscription // classroomID (or "*") -> subID -> sub
	nextID uint64
	closed bool
}

// NewStore wires the store to its backend and registers the commit hook.
func NewStore(backend Backend) *Store {
	s := &Store{
		backend: backend,
		subs:    make(map[string]map[uint64]*subscription),
	}
	backend.SetCommitHook(s.broadcast)
	return s
}

type subscription struct {
	store       *Store
	classroomID string
	id          uint64
	ch          chan *types.ClassroomSession

	// syncing is true while Subscribe performs the initial read; broadcasts
	// arriving in that window are staged in pending instead of sent, then
	// merged with the read by revision. The channel does not exist yet.
	syncing bool
	pending []*types.ClassroomSession

	cancelOnce sync.Once
}

func (s *subscription) Snapshots() <-chan *types.ClassroomSession { return s.ch }

// Cancel stops delivery. No further snapshots arrive after Cancel returns;
// writes already submitted still commit in the store.
func (s *subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		s.store.removeLocked(s)
	})
}

func (s *Store) removeLocked(sub *subscription) {
	if group, ok := s.subs[sub.classroomID]; ok {
		if _, ok := group[sub.id]; ok {
			delete(group, sub.id)
			if sub.ch != nil {
				close(sub.ch)
			}
			if len(group) == 0 {
				delete(s.subs, sub.classroomID)
			}
		}
	}
}

// Subscribe opens a snapshot feed for one classroom, or for every classroom
// with interfaces.SubscribeAll. The current committed state is delivered
// first, then live updates.
//
// The subscriber is registered before the initial read, so a write that
// commits while the read runs is staged and merged in rather than lost. The
// channel is created after the read, sized to hold the full initial state
// plus live headroom, so initial delivery never blocks.
func (s *Store) Subscribe(classroomID string) (interfaces.Subscription, error) {
	if classroomID != interfaces.SubscribeAll && !types.IsValidClassroomID(classroomID) {
		return nil, types.ErrInvalidClassroomID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: store is shut down", interfaces.ErrStoreUnavailable)
	}
	s.nextID++
	sub := &subscription{
		store:       s,
		classroomID: classroomID,
		id:          s.nextID,
		syncing:     true,
	}
	if s.subs[classroomID] == nil {
		s.subs[classroomID] = make(map[uint64]*subscription)
	}
	s.subs[classroomID][sub.id] = sub
	s.mu.Unlock()

	initial, err := s.readInitial(classroomID)
	if err != nil {
		s.mu.Lock()
		s.removeLocked(sub)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store is shut down", interfaces.ErrStoreUnavailable)
	}

	merged := mergeByRevision(initial, sub.pending)
	sub.pending = nil
	sub.syncing = false
	sub.ch = make(chan *types.ClassroomSession, len(merged)+subscriptionBuffer)
	for _, session := range merged {
		sub.ch <- session
	}

	return sub, nil
}

func (s *Store) readInitial(classroomID string) ([]*types.ClassroomSession, error) {
	if classroomID == interfaces.SubscribeAll {
		return s.backend.ListSessions(context.Background())
	}
	session, err := s.backend.GetSession(context.Background(), classroomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []*types.ClassroomSession{session}, nil
}

// mergeByRevision combines the initial read with snapshots that committed
// while it ran, keeping the newest revision per classroom so the subscriber
// never starts on a stale document.
func mergeByRevision(initial, staged []*types.ClassroomSession) []*types.ClassroomSession {
	newest := make(map[string]*types.ClassroomSession, len(staged))
	for _, snap := range staged {
		if cur, ok := newest[snap.ClassroomID]; !ok || snap.Revision > cur.Revision {
			newest[snap.ClassroomID] = snap
		}
	}

	merged := make([]*types.ClassroomSession, 0, len(initial)+len(newest))
	for _, snap := range initial {
		if fresher, ok := newest[snap.ClassroomID]; ok && fresher.Revision > snap.Revision {
			merged = append(merged, fresher)
		} else {
			merged = append(merged, snap.Clone())
		}
		delete(newest, snap.ClassroomID)
	}
	// Classrooms created after the read started exist only in the staged set.
	for _, snap := range staged {
		if kept, ok := newest[snap.ClassroomID]; ok && kept == snap {
			merged = append(merged, snap)
			delete(newest, snap.ClassroomID)
		}
	}
	return merged
}

// broadcast delivers a committed snapshot to classroom and wildcard
// subscribers. Called from the backend writer goroutine in commit order.
// A slow subscriber loses its oldest buffered snapshot, never the newest:
// missed intermediate states are acceptable, a stale terminal state is not.
func (s *Store) broadcast(session *types.ClassroomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{session.ClassroomID, interfaces.SubscribeAll} {
		for _, sub := range s.subs[key] {
			snap := session.Clone()
			if sub.syncing {
				sub.pending = append(sub.pending, snap)
				continue
			}
			select {
			case sub.ch <- snap:
			default:
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- snap:
				default:
				}
			}
		}
	}
}

// EnsureSession returns the classroom session, creating it Idle with a
// vacant seat when absent.
func (s *Store) EnsureSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error) {
	if !types.IsValidClassroomID(classroomID) {
		return nil, types.ErrInvalidClassroomID
	}
	return s.backend.EnsureSession(ctx, classroomID)
}

// GetSession returns the current committed session document.
func (s *Store) GetSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error) {
	return s.backend.GetSession(ctx, classroomID)
}

// ListSessions returns every classroom session document.
func (s *Store) ListSessions(ctx context.Context) ([]*types.ClassroomSession, error) {
	return s.backend.ListSessions(ctx)
}

// ApplyPatch commits a partial-field merge update.
func (s *Store) ApplyPatch(ctx context.Context, classroomID string, patch types.SessionPatch) (*types.ClassroomSession, error) {
	return s.backend.ApplyPatch(ctx, classroomID, patch)
}

// ClaimSeat atomically grants the teaching seat.
func (s *Store) ClaimSeat(ctx context.Context, classroomID string, teacher types.TeacherRef) (*types.ClassroomSession, error) {
	return s.backend.ClaimSeat(ctx, classroomID, teacher)
}

// ReleaseSeat clears the seat if held by identityID.
func (s *Store) ReleaseSeat(ctx context.Context, classroomID string, identityID string) error {
	return s.backend.ReleaseSeat(ctx, classroomID, identityID)
}

// Close cancels all subscriptions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, group := range s.subs {
		for _, sub := range group {
			if sub.ch != nil {
				close(sub.ch)
			}
		}
	}
	s.subs = make(map[string]map[uint64]*subscription)
}
