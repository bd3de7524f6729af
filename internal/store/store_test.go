package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// fakeBackend is an in-memory Backend that invokes the commit hook
// synchronously from the writing goroutine, like the real single-writer
// database manager.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]*types.ClassroomSession
	hook     func(*types.ClassroomSession)

	// onGet, if set, runs once after GetSession has captured its result but
	// before it returns: a write racing the initial subscription read.
	onGet func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*types.ClassroomSession)}
}

func (f *fakeBackend) SetCommitHook(hook func(*types.ClassroomSession)) {
	f.hook = hook
}

func (f *fakeBackend) commit(s *types.ClassroomSession) {
	if f.hook != nil {
		f.hook(s.Clone())
	}
}

func (f *fakeBackend) EnsureSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[classroomID]; ok {
		return s.Clone(), nil
	}
	s := &types.ClassroomSession{ClassroomID: classroomID, UpdatedAt: time.Now()}
	f.sessions[classroomID] = s
	f.commit(s)
	return s.Clone(), nil
}

func (f *fakeBackend) GetSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error) {
	f.mu.Lock()
	s, ok := f.sessions[classroomID]
	if !ok {
		f.mu.Unlock()
		return nil, interfaces.ErrNotFound
	}
	result := s.Clone()
	f.mu.Unlock()

	if f.onGet != nil {
		race := f.onGet
		f.onGet = nil
		race()
	}
	return result, nil
}

func (f *fakeBackend) ListSessions(ctx context.Context) ([]*types.ClassroomSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.ClassroomSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (f *fakeBackend) ApplyPatch(ctx context.Context, classroomID string, patch types.SessionPatch) (*types.ClassroomSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[classroomID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if !patch.StateAllowed(s.State()) {
		return nil, interfaces.ErrInvalidTransition
	}
	patch.Apply(s)
	s.Revision++
	f.commit(s)
	return s.Clone(), nil
}

func (f *fakeBackend) ClaimSeat(ctx context.Context, classroomID string, teacher types.TeacherRef) (*types.ClassroomSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[classroomID]
	if !ok {
		s = &types.ClassroomSession{ClassroomID: classroomID}
		f.sessions[classroomID] = s
	}
	if !s.SeatVacant() && !s.SeatHeldBy(teacher.IdentityID) {
		return nil, interfaces.ErrSeatDenied
	}
	ref := teacher
	s.ActiveTeacher = &ref
	s.Revision++
	f.commit(s)
	return s.Clone(), nil
}

func (f *fakeBackend) ReleaseSeat(ctx context.Context, classroomID string, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[classroomID]
	if !ok || !s.SeatHeldBy(identityID) {
		return nil
	}
	s.ActiveTeacher = nil
	s.Revision++
	f.commit(s)
	return nil
}

func receiveSnapshot(t *testing.T, sub interfaces.Subscription) *types.ClassroomSession {
	t.Helper()
	select {
	case s, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("snapshot channel closed unexpectedly")
		}
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribeDeliversInitialStateFirst(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}

	sub, err := s.Subscribe("cs101")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Cancel()

	first := receiveSnapshot(t, sub)
	if first.ClassroomID != "cs101" {
		t.Errorf("initial snapshot classroom = %s", first.ClassroomID)
	}

	// A write after subscribing arrives as a strictly newer revision.
	if _, err := s.ClaimSeat(ctx, "cs101", types.TeacherRef{IdentityID: "t1"}); err != nil {
		t.Fatal(err)
	}
	second := receiveSnapshot(t, sub)
	if second.Revision <= first.Revision {
		t.Errorf("live snapshot revision %d not newer than initial %d", second.Revision, first.Revision)
	}
}

func TestSnapshotsArriveInCommitOrder(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}

	sub, err := s.Subscribe("cs101")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	_ = receiveSnapshot(t, sub) // initial

	// Interleave commits with reads so nothing overflows; revisions must be
	// strictly increasing.
	last := int64(0)
	for i := 0; i < 20; i++ {
		if _, err := s.ClaimSeat(ctx, "cs101", types.TeacherRef{IdentityID: "t1"}); err != nil {
			t.Fatal(err)
		}
		snap := receiveSnapshot(t, sub)
		if snap.Revision <= last {
			t.Fatalf("revision went backwards: %d after %d", snap.Revision, last)
		}
		last = snap.Revision
	}
}

func TestWildcardSubscriptionSeesEveryClassroom(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}

	sub, err := s.Subscribe(interfaces.SubscribeAll)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	_ = receiveSnapshot(t, sub) // initial cs101

	if _, err := s.EnsureSession(ctx, "lab2"); err != nil {
		t.Fatal(err)
	}
	snap := receiveSnapshot(t, sub)
	if snap.ClassroomID != "lab2" {
		t.Errorf("wildcard subscriber got %s, want lab2", snap.ClassroomID)
	}
}

func TestSingleClassroomSubscriptionFiltersOthers(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	sub, err := s.Subscribe("cs101")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	if _, err := s.EnsureSession(ctx, "lab2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}

	snap := receiveSnapshot(t, sub)
	if snap.ClassroomID != "cs101" {
		t.Errorf("got snapshot for %s, want cs101 only", snap.ClassroomID)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	sub, err := s.Subscribe("cs101")
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	sub.Cancel() // idempotent

	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}

	// Channel is closed; any buffered values drain, then ok=false.
	for {
		select {
		case _, ok := <-sub.Snapshots():
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed after Cancel")
		}
	}
}

// A slow subscriber loses intermediate snapshots, never the newest one.
func TestOverflowKeepsNewestSnapshot(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}
	sub, err := s.Subscribe("cs101")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	// Do not read; overflow the buffer.
	const writes = subscriptionBuffer + 40
	var want int64
	for i := 0; i < writes; i++ {
		snap, err := s.ClaimSeat(ctx, "cs101", types.TeacherRef{IdentityID: "t1"})
		if err != nil {
			t.Fatal(err)
		}
		want = snap.Revision
	}

	var last *types.ClassroomSession
	count := 0
drain:
	for {
		select {
		case snap := <-sub.Snapshots():
			last = snap
			count++
		default:
			break drain
		}
	}

	// One initial snapshot plus the live buffer.
	if count > subscriptionBuffer+1 {
		t.Errorf("drained %d snapshots from a %d-slot buffer", count, subscriptionBuffer+1)
	}
	if last == nil || last.Revision != want {
		t.Errorf("newest drained revision = %v, want %d", last, want)
	}
}

// A wildcard subscribe over more classrooms than the live buffer holds must
// return promptly and deliver every classroom's current state.
func TestSubscribeAllWithManyClassrooms(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	const classrooms = subscriptionBuffer + 10
	for i := 0; i < classrooms; i++ {
		if _, err := s.EnsureSession(ctx, fmt.Sprintf("room-%03d", i)); err != nil {
			t.Fatal(err)
		}
	}

	subCh := make(chan interfaces.Subscription, 1)
	errCh := make(chan error, 1)
	go func() {
		sub, err := s.Subscribe(interfaces.SubscribeAll)
		if err != nil {
			errCh <- err
			return
		}
		subCh <- sub
	}()

	var sub interfaces.Subscription
	select {
	case sub = <-subCh:
	case err := <-errCh:
		t.Fatalf("Subscribe failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe blocked delivering the initial state")
	}
	defer sub.Cancel()

	seen := make(map[string]bool)
	for i := 0; i < classrooms; i++ {
		seen[receiveSnapshot(t, sub).ClassroomID] = true
	}
	if len(seen) != classrooms {
		t.Errorf("distinct classrooms delivered = %d, want %d", len(seen), classrooms)
	}
}

// A write that commits while the initial read is in flight must still reach
// the subscriber: the fresh state wins over the stale read result.
func TestSubscribeSeesWriteDuringInitialRead(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.EnsureSession(ctx, "cs101"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimSeat(ctx, "cs101", types.TeacherRef{IdentityID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyPatch(ctx, "cs101", types.SessionPatch{
		Active:        types.Bool(true),
		HelpRequested: types.Bool(true),
	}); err != nil {
		t.Fatal(err)
	}

	// The help request resolves while the subscriber's read is in flight;
	// the read returns the stale pending state.
	backend.onGet = func() {
		if _, err := s.ApplyPatch(ctx, "cs101", types.SessionPatch{
			HelpRequested: types.Bool(false),
		}); err != nil {
			t.Errorf("racing resolve failed: %v", err)
		}
	}

	sub, err := s.Subscribe("cs101")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	snap := receiveSnapshot(t, sub)
	if snap.HelpRequested {
		t.Fatalf("initial snapshot shows a resolved help request as pending (revision %d)", snap.Revision)
	}
}

func TestSubscribeRejectsInvalidClassroomID(t *testing.T) {
	s := NewStore(newFakeBackend())
	defer s.Close()

	if _, err := s.Subscribe("not a classroom"); !errors.Is(err, types.ErrInvalidClassroomID) {
		t.Errorf("got %v, want ErrInvalidClassroomID", err)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	s := NewStore(newFakeBackend())
	s.Close()

	if _, err := s.Subscribe("cs101"); !errors.Is(err, interfaces.ErrStoreUnavailable) {
		t.Errorf("got %v, want ErrStoreUnavailable", err)
	}
}
