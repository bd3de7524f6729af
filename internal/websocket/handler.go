package websocket

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"classwatch/internal/auth"
	"classwatch/internal/hub"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from arbitrary origins in deployment; the
		// token check below is the actual gate.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Authenticator resolves a bearer token to a live identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*types.Identity, error)
}

// Options carries socket timing configuration.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handler upgrades dashboard connections and bridges them to the store's
// snapshot subscriptions and the command hub. The authorization gate runs
// before any session data is read: a denied identity never receives a
// single snapshot.
type Handler struct {
	registry      *Registry
	store         interfaces.SessionStore
	authenticator Authenticator
	commandHub    *hub.Hub
	opts          Options
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, store interfaces.SessionStore, authenticator Authenticator, commandHub *hub.Hub, opts Options) *Handler {
	return &Handler{
		registry:      registry,
		store:         store,
		authenticator: authenticator,
		commandHub:    commandHub,
		opts:          opts,
	}
}

// HandleWebSocket serves /ws?token=...&classroom=... Classroom is required
// for teacher connections and ignored for monitors, who watch every
// classroom.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	classroomID := r.URL.Query().Get("classroom")

	if token == "" {
		http.Error(w, "Missing required query parameter: token", http.StatusBadRequest)
		return
	}

	identity, err := h.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	// Gate before any session data is fetched.
	var subscribeKey string
	switch identity.Role {
	case types.RoleProfessor:
		if !types.IsValidClassroomID(classroomID) {
			http.Error(w, "Teacher connections require a valid classroom parameter", http.StatusBadRequest)
			return
		}
		if auth.Authorize(identity, types.RoleProfessor) != auth.Allow {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		subscribeKey = classroomID
	case types.RoleMonitor:
		if auth.Authorize(identity, types.RoleMonitor) != auth.Allow {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		subscribeKey = interfaces.SubscribeAll
		classroomID = ""
	default:
		// Admin dashboards are plain CRUD over HTTP; no snapshot stream.
		http.Error(w, "Role has no live dashboard stream", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.opts.WriteTimeout)
	wsConn.SetIdentity(identity, classroomID)

	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	subscription, err := h.store.Subscribe(subscribeKey)
	if err != nil {
		log.Printf("Failed to subscribe for %s: %v", identity.ID, err)
		h.registry.Unregister(wsConn)
		_ = wsConn.Close()
		return
	}

	log.Printf("Connection established: identity=%s role=%s classroom=%q", identity.ID, identity.Role, classroomID)

	go h.pumpSnapshots(wsConn, subscription)
	go h.handleConnection(wsConn, subscription)
}

// pumpSnapshots forwards the subscription feed to the socket. The snapshots
// buffered at subscribe time are the fresh read; the sync-complete marker
// after them tells the client its view is current.
func (h *Handler) pumpSnapshots(conn *Connection, subscription interfaces.Subscription) {
	initial := len(subscription.Snapshots())
	for i := 0; i < initial; i++ {
		session, ok := <-subscription.Snapshots()
		if !ok {
			return
		}
		if !h.writeSnapshot(conn, session) {
			return
		}
	}

	syncMsg := &types.StreamMessage{
		Type:      types.StreamTypeSystem,
		Event:     types.EventSyncComplete,
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(syncMsg); err != nil {
		return
	}

	for {
		select {
		case session, ok := <-subscription.Snapshots():
			if !ok {
				// Store shut down; the client resubscribes with a fresh read.
				_ = conn.Close()
				return
			}
			if !h.writeSnapshot(conn, session) {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) writeSnapshot(conn *Connection, session *types.ClassroomSession) bool {
	frame := &types.StreamMessage{
		Type:      types.StreamTypeSnapshot,
		Session:   session,
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("Failed to deliver snapshot: %v", err)
		_ = conn.Close()
		return false
	}
	return true
}

// handleConnection owns the read side: heartbeat plus the command loop.
func (h *Handler) handleConnection(conn *Connection, subscription interfaces.Subscription) {
	identity := conn.Identity()

	defer func() {
		subscription.Cancel()
		h.registry.Unregister(conn)
		h.commandHub.Forget(identity.ID)
		_ = conn.Close()
		log.Printf("Connection closed: identity=%s", identity.ID)
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		var cmd types.Command
		if err := conn.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", identity.ID, err)
			}
			return
		}

		if err := h.commandHub.SubmitCommand(conn, &cmd); err != nil {
			frame := &types.StreamMessage{
				Type:      types.StreamTypeError,
				CommandID: cmd.ID,
				Event:     "queue_full",
				Message:   "Command could not be queued; retry",
				Timestamp: time.Now(),
			}
			if writeErr := conn.WriteJSON(frame); writeErr != nil {
				return
			}
		}
	}
}
