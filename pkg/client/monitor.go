// Package client implements the monitor-side connection: a websocket
// subscription over every classroom, with automatic reconnect and alert
// deduplication. A dropped stream discards all local alert state and
// rebuilds it from the fresh read after resubscribing, so a help request
// raised while the monitor was offline still fires an alert.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classwatch/pkg/alert"
	"classwatch/pkg/types"
)

// Config holds monitor connection settings.
type Config struct {
	// ServerURL is the base ws:// or wss:// URL, e.g. "ws://localhost:8080".
	ServerURL string
	// Token is the signed-in monitor's bearer token.
	Token string

	DialTimeout       time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.ReconnectMinDelay <= 0 {
		out.ReconnectMinDelay = time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	return out
}

// Handler receives monitor-relevant events. Callbacks run on the client's
// read goroutine; keep them short.
type Handler interface {
	// OnSnapshot is called for every delivered classroom snapshot together
	// with the dedup engine's verdict for it.
	OnSnapshot(session *types.ClassroomSession, event alert.Event)
	// OnSyncComplete is called once per (re)connection after the initial
	// state has been delivered.
	OnSyncComplete()
	// OnDisconnect is called when the stream drops, before reconnecting.
	OnDisconnect(err error)
}

// Monitor is a reconnecting subscriber over all classrooms.
type Monitor struct {
	config  Config
	handler Handler
	engine  *alert.Engine

	sendCh chan *types.Command
}

// NewMonitor creates a monitor client. Run must be called to connect.
func NewMonitor(config Config, handler Handler) *Monitor {
	return &Monitor{
		config:  config.withDefaults(),
		handler: handler,
		engine:  alert.NewEngine(),
		sendCh:  make(chan *types.Command, 16),
	}
}

// AcknowledgeHelp signals the monitor is on the way. Returns the command ID
// the server will echo in its ack frame.
func (m *Monitor) AcknowledgeHelp(classroomID string) (string, error) {
	return m.submit(types.ActionAcknowledgeHelp, classroomID)
}

// ResolveHelp marks the help request handled.
func (m *Monitor) ResolveHelp(classroomID string) (string, error) {
	return m.submit(types.ActionResolveHelp, classroomID)
}

// ForceEndSession ends a session left active by a departed teacher.
func (m *Monitor) ForceEndSession(classroomID string) (string, error) {
	return m.submit(types.ActionForceEndSession, classroomID)
}

func (m *Monitor) submit(action, classroomID string) (string, error) {
	cmd := &types.Command{
		ID:          uuid.New().String(),
		Action:      action,
		ClassroomID: classroomID,
	}
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	select {
	case m.sendCh <- cmd:
		return cmd.ID, nil
	default:
		return "", fmt.Errorf("command queue full")
	}
}

// Run connects and keeps the subscription alive until ctx is cancelled.
// Reconnects use exponential backoff between the configured delays.
func (m *Monitor) Run(ctx context.Context) error {
	endpoint, err := m.endpoint()
	if err != nil {
		return err
	}

	delay := m.config.ReconnectMinDelay
	for {
		err := m.runOnce(ctx, endpoint)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Everything learned over the dead stream is untrusted; the next
		// connection's initial read rebuilds the episode table.
		m.engine.Reset()
		m.handler.OnDisconnect(err)
		log.Printf("Monitor stream dropped, reconnecting in %s: %v", delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > m.config.ReconnectMaxDelay {
			delay = m.config.ReconnectMaxDelay
		}
	}
}

func (m *Monitor) endpoint() (string, error) {
	base, err := url.Parse(m.config.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	base.Path = "/ws"
	query := base.Query()
	query.Set("token", m.config.Token)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (m *Monitor) runOnce(ctx context.Context, endpoint string) error {
	dialer := websocket.Dialer{HandshakeTimeout: m.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	// Writer goroutine: gorilla allows one concurrent writer per connection.
	writeDone := make(chan struct{})
	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()
	go func() {
		defer close(writeDone)
		for {
			select {
			case cmd := <-m.sendCh:
				payload, err := json.Marshal(cmd)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-writeCtx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()

	for {
		var frame types.StreamMessage
		if err := conn.ReadJSON(&frame); err != nil {
			cancelWrite()
			<-writeDone
			return fmt.Errorf("read failed: %w", err)
		}

		switch frame.Type {
		case types.StreamTypeSnapshot:
			if frame.Session != nil {
				m.handler.OnSnapshot(frame.Session, m.engine.Observe(frame.Session))
			}
		case types.StreamTypeSystem:
			if frame.Event == types.EventSyncComplete {
				m.handler.OnSyncComplete()
			}
		case types.StreamTypeError:
			log.Printf("Monitor command rejected: %s (%s)", frame.Message, frame.Event)
		}
	}
}
