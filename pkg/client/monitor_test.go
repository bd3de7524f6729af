package client

import (
	"net/url"
	"testing"

	"classwatch/pkg/alert"
	"classwatch/pkg/types"
)

type recordingHandler struct {
	snapshots   int
	syncs       int
	disconnects int
}

func (r *recordingHandler) OnSnapshot(session *types.ClassroomSession, event alert.Event) {
	r.snapshots++
}
func (r *recordingHandler) OnSyncComplete() { r.syncs++ }

func (r *recordingHandler) OnDisconnect(err error) { r.disconnects++ }

func TestEndpointCarriesToken(t *testing.T) {
	m := NewMonitor(Config{ServerURL: "ws://localhost:8080", Token: "abc123"}, &recordingHandler{})

	endpoint, err := m.endpoint()
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Path != "/ws" {
		t.Errorf("path = %s, want /ws", parsed.Path)
	}
	if parsed.Query().Get("token") != "abc123" {
		t.Errorf("token query = %s", parsed.Query().Get("token"))
	}
	if parsed.Query().Get("classroom") != "" {
		t.Error("monitor endpoint must not bind to a classroom")
	}
}

func TestEndpointRejectsBadURL(t *testing.T) {
	m := NewMonitor(Config{ServerURL: "://broken", Token: "t"}, &recordingHandler{})
	if _, err := m.endpoint(); err == nil {
		t.Error("expected error for malformed server URL")
	}
}

func TestSubmitValidatesCommands(t *testing.T) {
	m := NewMonitor(Config{ServerURL: "ws://localhost:8080", Token: "t"}, &recordingHandler{})

	id, err := m.AcknowledgeHelp("cs101")
	if err != nil {
		t.Fatalf("AcknowledgeHelp failed: %v", err)
	}
	if id == "" {
		t.Error("expected a command ID")
	}

	if _, err := m.ResolveHelp("bad room"); err == nil {
		t.Error("invalid classroom accepted")
	}

	// The queued command is well-formed.
	select {
	case cmd := <-m.sendCh:
		if cmd.Action != types.ActionAcknowledgeHelp || cmd.ClassroomID != "cs101" {
			t.Errorf("queued command = %+v", cmd)
		}
		if cmd.ID != id {
			t.Errorf("queued id %s, returned %s", cmd.ID, id)
		}
	default:
		t.Fatal("no command queued")
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	m := NewMonitor(Config{ServerURL: "ws://localhost:8080", Token: "t"}, &recordingHandler{})

	for i := 0; i < cap(m.sendCh); i++ {
		if _, err := m.ForceEndSession("cs101"); err != nil {
			t.Fatalf("fill %d failed: %v", i, err)
		}
	}
	if _, err := m.ForceEndSession("cs101"); err == nil {
		t.Error("overfull queue accepted a command")
	}
}

func TestStatusLine(t *testing.T) {
	teacher := &types.TeacherRef{IdentityID: "t1", DisplayName: "Dr. Silva"}
	cases := []struct {
		name     string
		session  *types.ClassroomSession
		status   string
		seatLine string
	}{
		{"nil session", nil, "No session", "Vacant"},
		{"idle", &types.ClassroomSession{}, "No class in progress", "Vacant"},
		{"teaching", &types.ClassroomSession{Active: true, ActiveTeacher: teacher}, "Class in progress", "Dr. Silva"},
		{"help pending", &types.ClassroomSession{Active: true, HelpRequested: true, ActiveTeacher: teacher}, "Help requested", "Dr. Silva"},
		{"help in progress", &types.ClassroomSession{Active: true, HelpRequested: true, MonitorEnRoute: true, ActiveTeacher: teacher}, "Monitor on the way", "Dr. Silva"},
		{"seat without display name", &types.ClassroomSession{ActiveTeacher: &types.TeacherRef{IdentityID: "t2"}}, "No class in progress", "t2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusLine(tc.session); got != tc.status {
				t.Errorf("StatusLine = %q, want %q", got, tc.status)
			}
			if got := SeatLine(tc.session); got != tc.seatLine {
				t.Errorf("SeatLine = %q, want %q", got, tc.seatLine)
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg := (&Config{ServerURL: "ws://x", Token: "t"}).withDefaults()
	if cfg.DialTimeout <= 0 || cfg.ReconnectMinDelay <= 0 || cfg.ReconnectMaxDelay <= 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.ReconnectMinDelay > cfg.ReconnectMaxDelay {
		t.Error("min reconnect delay exceeds max")
	}
}
