package websocket

import (
	"log"
	"sync"

	"classwatch/pkg/types"
)

// Registry tracks live connections by identity, partitioned by role:
// monitors watch every classroom, teachers are bound to one. One connection
// per identity; a new connection replaces the old one.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // identityID -> Connection
	monitors    map[string]*Connection            // identityID -> Connection
	teachers    map[string]map[string]*Connection // classroomID -> identityID -> Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		monitors:    make(map[string]*Connection),
		teachers:    make(map[string]map[string]*Connection),
	}
}

// Register adds an identified connection, closing any previous connection
// for the same identity.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	identity := conn.Identity()
	if identity == nil {
		return ErrConnectionNotIdentified
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.connections[identity.ID]; exists {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
		r.removeLocked(existing)
	}

	r.connections[identity.ID] = conn
	switch identity.Role {
	case types.RoleMonitor:
		r.monitors[identity.ID] = conn
	case types.RoleProfessor:
		classroomID := conn.ClassroomID()
		if r.teachers[classroomID] == nil {
			r.teachers[classroomID] = make(map[string]*Connection)
		}
		r.teachers[classroomID][identity.ID] = conn
	}

	return nil
}

// Unregister removes a specific connection. Idempotent; a connection that
// was already replaced does not remove its successor.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil || conn.Identity() == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.Identity().ID]
	if !exists || registered != conn {
		return
	}
	r.removeLocked(conn)
}

func (r *Registry) removeLocked(conn *Connection) {
	identity := conn.Identity()
	delete(r.connections, identity.ID)
	delete(r.monitors, identity.ID)
	if teachers, exists := r.teachers[conn.ClassroomID()]; exists {
		delete(teachers, identity.ID)
		if len(teachers) == 0 {
			delete(r.teachers, conn.ClassroomID())
		}
	}
}

// Get returns the live connection for an identity.
func (r *Registry) Get(identityID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[identityID]
	return conn, exists
}

// CloseIdentity closes and removes the connection for an identity, if any.
// Called when a role changes or an identity is deleted: the client must
// reconnect and pass the gate again under its new state.
func (r *Registry) CloseIdentity(identityID string) {
	r.mu.Lock()
	conn, exists := r.connections[identityID]
	if exists {
		r.removeLocked(conn)
	}
	r.mu.Unlock()

	if exists {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection for identity %s: %v", identityID, err)
		}
	}
}

// Stats reports connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	teacherCount := 0
	for _, teachers := range r.teachers {
		teacherCount += len(teachers)
	}

	return map[string]int{
		"total_connections":   len(r.connections),
		"monitor_connections": len(r.monitors),
		"teacher_connections": teacherCount,
	}
}
