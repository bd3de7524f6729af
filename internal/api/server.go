package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"classwatch/internal/auth"
	"classwatch/internal/router"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

type contextKey string

const identityKey = contextKey("identity")

// AuthService is the identity surface the API depends on.
type AuthService interface {
	SignIn(ctx context.Context, loginName, secret string) (*types.Identity, string, error)
	Authenticate(ctx context.Context, token string) (*types.Identity, error)
	CreateIdentity(ctx context.Context, loginName, displayName, secret string, role types.Role) (*types.Identity, error)
	UpdateRole(ctx context.Context, id string, role types.Role) error
	DeleteIdentity(ctx context.Context, id string) error
	ListIdentities(ctx context.Context) ([]*types.Identity, error)
}

// Seats is the presence surface exposed over HTTP.
type Seats interface {
	ClaimSeat(ctx context.Context, classroomID string, identity *types.Identity) (*types.ClassroomSession, error)
	ReleaseSeat(ctx context.Context, classroomID string, identity *types.Identity) error
}

// HealthChecker reports storage liveness for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStats reports live connection counts for the health endpoint.
type ConnectionStats interface {
	Stats() map[string]int
}

// Server is the HTTP surface: sign-in, classroom reads, seat and transition
// commands, and admin identity management. It holds no business logic; every
// decision is delegated and the resulting error taxonomy mapped to a status
// code.
type Server struct {
	authService AuthService
	transitions router.Transitions
	seats       Seats
	store       interfaces.SessionStore
	health      HealthChecker
	connections ConnectionStats
	validate    *validator.Validate
	mux         *http.ServeMux
}

// NewServer wires the API routes.
func NewServer(authService AuthService, transitions router.Transitions, seats Seats, store interfaces.SessionStore, health HealthChecker, connections ConnectionStats) *Server {
	s := &Server{
		authService: authService,
		transitions: transitions,
		seats:       seats,
		store:       store,
		health:      health,
		connections: connections,
		validate:    validator.New(),
		mux:         http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/api/auth/signin", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSignIn))))
	s.mux.Handle("/api/classrooms", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.handleClassrooms)))))
	s.mux.Handle("/api/classrooms/", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.handleClassroomByID)))))
	s.mux.Handle("/api/identities", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.handleIdentities)))))
	s.mux.Handle("/api/identities/", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.handleIdentityByID)))))
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Request/response types.

type SignInRequest struct {
	LoginName string `json:"login_name" validate:"required,min=1,max=50"`
	Secret    string `json:"secret" validate:"required"`
}

type SignInResponse struct {
	Token    string          `json:"token"`
	Identity *types.Identity `json:"identity"`
}

type CreateIdentityRequest struct {
	LoginName   string `json:"login_name" validate:"required,min=1,max=50"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=100"`
	Secret      string `json:"secret" validate:"required,min=6"`
	Role        string `json:"role" validate:"required,oneof=admin professor monitor"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin professor monitor"`
}

type SessionResponse struct {
	Session *types.ClassroomSession `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []*types.ClassroomSession `json:"sessions"`
}

type ListIdentitiesResponse struct {
	Identities []*types.Identity `json:"identities"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/auth/signin
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.sendError(w, "Login name and secret are required", http.StatusUnprocessableEntity)
		return
	}

	identity, token, err := s.authService.SignIn(r.Context(), req.LoginName, req.Secret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		} else {
			s.sendDispatchError(w, err)
		}
		return
	}

	json.NewEncoder(w).Encode(SignInResponse{Token: token, Identity: identity})
}

// GET /api/classrooms — roster view, any authenticated role.
func (s *Server) handleClassrooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.sendDispatchError(w, err)
		return
	}
	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: sessions})
}

// /api/classrooms/{id}[/seat | /transitions/{name}]
func (s *Server) handleClassroomByID(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	path := strings.TrimPrefix(r.URL.Path, "/api/classrooms/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	classroomID := parts[0]
	if !types.IsValidClassroomID(classroomID) {
		s.sendError(w, "Invalid classroom identifier", http.StatusUnprocessableEntity)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		session, err := s.store.GetSession(r.Context(), classroomID)
		if err != nil {
			s.sendDispatchError(w, err)
			return
		}
		json.NewEncoder(w).Encode(SessionResponse{Session: session})

	case len(parts) == 2 && parts[1] == "seat":
		s.handleSeat(w, r, classroomID, identity)

	case len(parts) == 3 && parts[1] == "transitions":
		s.handleTransition(w, r, classroomID, parts[2], identity)

	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// POST/DELETE /api/classrooms/{id}/seat
func (s *Server) handleSeat(w http.ResponseWriter, r *http.Request, classroomID string, identity *types.Identity) {
	switch r.Method {
	case http.MethodPost:
		session, err := s.seats.ClaimSeat(r.Context(), classroomID, identity)
		if err != nil {
			s.sendDispatchError(w, err)
			return
		}
		json.NewEncoder(w).Encode(SessionResponse{Session: session})
	case http.MethodDelete:
		if err := s.seats.ReleaseSeat(r.Context(), classroomID, identity); err != nil {
			s.sendDispatchError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "Seat released"})
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/classrooms/{id}/transitions/{name}
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, classroomID, name string, identity *types.Identity) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var session *types.ClassroomSession
	var err error
	switch name {
	case "start":
		session, err = s.transitions.StartSession(r.Context(), classroomID, identity)
	case "request-help":
		session, err = s.transitions.RequestHelp(r.Context(), classroomID, identity)
	case "acknowledge-help":
		session, err = s.transitions.AcknowledgeHelp(r.Context(), classroomID, identity)
	case "resolve-help":
		session, err = s.transitions.ResolveHelp(r.Context(), classroomID, identity)
	case "end":
		session, err = s.transitions.EndSession(r.Context(), classroomID, identity)
	case "force-end":
		session, err = s.transitions.ForceEndSession(r.Context(), classroomID, identity)
	default:
		s.sendError(w, fmt.Sprintf("Unknown transition: %s", name), http.StatusNotFound)
		return
	}
	if err != nil {
		s.sendDispatchError(w, err)
		return
	}
	json.NewEncoder(w).Encode(SessionResponse{Session: session})
}

// POST/GET /api/identities — admin only.
func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if auth.Authorize(identity, types.RoleAdmin) != auth.Allow {
		s.sendError(w, "Admin role required", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req CreateIdentityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			s.sendError(w, "Invalid identity payload", http.StatusUnprocessableEntity)
			return
		}
		if !types.IsValidLoginName(req.LoginName) {
			s.sendError(w, "Login name may only contain letters, digits, hyphen and underscore", http.StatusUnprocessableEntity)
			return
		}

		created, err := s.authService.CreateIdentity(r.Context(), req.LoginName, req.DisplayName, req.Secret, types.Role(req.Role))
		if err != nil {
			s.sendDispatchError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)

	case http.MethodGet:
		identities, err := s.authService.ListIdentities(r.Context())
		if err != nil {
			s.sendDispatchError(w, err)
			return
		}
		json.NewEncoder(w).Encode(ListIdentitiesResponse{Identities: identities})

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// PUT /api/identities/{id}/role, DELETE /api/identities/{id} — admin only.
func (s *Server) handleIdentityByID(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if auth.Authorize(identity, types.RoleAdmin) != auth.Allow {
		s.sendError(w, "Admin role required", http.StatusForbidden)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/identities/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	targetID := parts[0]
	if targetID == "" {
		s.sendError(w, "Identity ID required", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "role" && r.Method == http.MethodPut:
		var req UpdateRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			s.sendError(w, "Invalid role", http.StatusUnprocessableEntity)
			return
		}
		if err := s.authService.UpdateRole(r.Context(), targetID, types.Role(req.Role)); err != nil {
			s.sendDispatchError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "Role updated"})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if targetID == identity.ID {
			s.sendError(w, "Cannot delete your own identity", http.StatusConflict)
			return
		}
		if err := s.authService.DeleteIdentity(r.Context(), targetID); err != nil {
			s.sendDispatchError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "Identity deleted"})

	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.connections.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendDispatchError maps the shared error taxonomy to HTTP status codes.
func (s *Server) sendDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrPermissionDenied):
		s.sendError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, interfaces.ErrSeatDenied),
		errors.Is(err, interfaces.ErrSeatLost),
		errors.Is(err, interfaces.ErrInvalidTransition),
		errors.Is(err, interfaces.ErrDuplicateLogin):
		s.sendError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, interfaces.ErrNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, auth.ErrSecretTooShort),
		errors.Is(err, types.ErrInvalidClassroomID),
		errors.Is(err, types.ErrInvalidLoginName),
		errors.Is(err, types.ErrInvalidDisplayName),
		errors.Is(err, types.ErrInvalidRole):
		s.sendError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		log.Printf("Internal error: %v", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// authMiddleware resolves the bearer token and stores the identity in the
// request context. Every protected route sees a fresh identity read.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		identity, err := s.authService.Authenticate(r.Context(), token)
		if err != nil {
			s.sendError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func identityFrom(ctx context.Context) *types.Identity {
	identity, _ := ctx.Value(identityKey).(*types.Identity)
	return identity
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
