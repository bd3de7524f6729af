package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"classwatch/internal/router"
	"classwatch/pkg/types"
)

type stubTransitions struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTransitions) bump(classroomID string) (*types.ClassroomSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &types.ClassroomSession{ClassroomID: classroomID}, nil
}

func (s *stubTransitions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubTransitions) StartSession(ctx context.Context, id string, c *types.Identity) (*types.ClassroomSession, error) {
	return s.bump(id)
}
func (s *stubTransitions) RequestHelp(ctx context.Context, id string, c *types.Identity) (*types.ClassroomSession, error) {
	return s.bump(id)
}
func (s *stubTransitions) AcknowledgeHelp(ctx context.Context, id string, c *types.Identity) (*types.ClassroomSession, error) {
	return s.bump(id)
}
func (s *stubTransitions) ResolveHelp(ctx context.Context, id string, c *types.Identity) (*types.ClassroomSession, error) {
	return s.bump(id)
}
func (s *stubTransitions) EndSession(ctx context.Context, id string, c *types.Identity) (*types.ClassroomSession, error) {
	return s.bump(id)
}
func (s *stubTransitions) ForceEndSession(ctx context.Context, id string, c *types.Identity) (*types.ClassroomSession, error) {
	return s.bump(id)
}

type stubSeats struct{}

func (s *stubSeats) ClaimSeat(ctx context.Context, id string, identity *types.Identity) (*types.ClassroomSession, error) {
	return &types.ClassroomSession{ClassroomID: id}, nil
}
func (s *stubSeats) ReleaseSeat(ctx context.Context, id string, identity *types.Identity) error {
	return nil
}

type stubSender struct {
	mu     sync.Mutex
	frames []*types.StreamMessage
}

func (s *stubSender) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame, ok := v.(*types.StreamMessage); ok {
		s.frames = append(s.frames, frame)
	}
	return nil
}

func (s *stubSender) Identity() *types.Identity {
	return &types.Identity{ID: "t1", Role: types.RoleProfessor}
}

func (s *stubSender) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newTestHub() (*Hub, *stubTransitions) {
	transitions := &stubTransitions{}
	return NewHub(router.NewRouter(transitions, &stubSeats{})), transitions
}

func TestStartStopLifecycle(t *testing.T) {
	h, _ := newTestHub()
	ctx := context.Background()

	if err := h.Stop(); err != ErrHubNotRunning {
		t.Errorf("Stop before Start: got %v, want ErrHubNotRunning", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("second Start: got %v, want ErrHubAlreadyRunning", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestSubmitRequiresRunningHub(t *testing.T) {
	h, _ := newTestHub()
	sender := &stubSender{}
	cmd := &types.Command{ID: "c1", Action: types.ActionStartSession, ClassroomID: "cs101"}

	if err := h.SubmitCommand(sender, cmd); err != ErrHubNotRunning {
		t.Errorf("got %v, want ErrHubNotRunning", err)
	}
}

func TestCommandsAreDispatched(t *testing.T) {
	h, transitions := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	sender := &stubSender{}
	const n = 5
	for i := 0; i < n; i++ {
		cmd := &types.Command{ID: "c", Action: types.ActionStartSession, ClassroomID: "cs101"}
		if err := h.SubmitCommand(sender, cmd); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for transitions.count() < n {
		select {
		case <-deadline:
			t.Fatalf("dispatched %d of %d commands", transitions.count(), n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sender.frameCount() != n {
		t.Errorf("sender received %d frames, want %d", sender.frameCount(), n)
	}
}
