package router

import (
	"context"
	"errors"
	"log"
	"time"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Transitions is the state machine surface the router dispatches to.
type Transitions interface {
	StartSession(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error)
	RequestHelp(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error)
	AcknowledgeHelp(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error)
	ResolveHelp(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error)
	EndSession(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error)
	ForceEndSession(ctx context.Context, classroomID string, caller *types.Identity) (*types.ClassroomSession, error)
}

// Seats is the presence surface the router dispatches to.
type Seats interface {
	ClaimSeat(ctx context.Context, classroomID string, identity *types.Identity) (*types.ClassroomSession, error)
	ReleaseSeat(ctx context.Context, classroomID string, identity *types.Identity) error
}

// Sender is the reply channel back to the issuing client.
type Sender interface {
	WriteJSON(v interface{}) error
	Identity() *types.Identity
}

// Router maps client commands to seat and transition calls. Dispatch errors
// are fed back to the sender as error frames; they never escape to the hub.
type Router struct {
	transitions Transitions
	seats       Seats
	rateLimiter *RateLimiter
}

// NewRouter creates a command router.
func NewRouter(transitions Transitions, seats Seats) *Router {
	return &Router{
		transitions: transitions,
		seats:       seats,
		rateLimiter: NewRateLimiter(),
	}
}

// Dispatch executes one command on behalf of the sender and writes the
// acknowledgement or error frame back.
func (r *Router) Dispatch(ctx context.Context, sender Sender, cmd *types.Command) {
	identity := sender.Identity()
	if identity == nil {
		r.sendError(sender, cmd, interfaces.ErrPermissionDenied)
		return
	}

	if !r.rateLimiter.Allow(identity.ID) {
		r.sendError(sender, cmd, ErrRateLimited)
		return
	}

	if err := cmd.Validate(); err != nil {
		r.sendError(sender, cmd, err)
		return
	}

	session, err := r.execute(ctx, identity, cmd)
	if err != nil {
		log.Printf("Command failed: action=%s classroom=%s identity=%s err=%v",
			cmd.Action, cmd.ClassroomID, identity.ID, err)
		r.sendError(sender, cmd, err)
		return
	}

	ack := &types.StreamMessage{
		Type:      types.StreamTypeAck,
		CommandID: cmd.ID,
		Session:   session,
		Timestamp: time.Now(),
	}
	if err := sender.WriteJSON(ack); err != nil {
		log.Printf("Failed to send ack to %s: %v", identity.ID, err)
	}
}

func (r *Router) execute(ctx context.Context, identity *types.Identity, cmd *types.Command) (*types.ClassroomSession, error) {
	switch cmd.Action {
	case types.ActionClaimSeat:
		return r.seats.ClaimSeat(ctx, cmd.ClassroomID, identity)
	case types.ActionReleaseSeat:
		return nil, r.seats.ReleaseSeat(ctx, cmd.ClassroomID, identity)
	case types.ActionStartSession:
		return r.transitions.StartSession(ctx, cmd.ClassroomID, identity)
	case types.ActionRequestHelp:
		return r.transitions.RequestHelp(ctx, cmd.ClassroomID, identity)
	case types.ActionAcknowledgeHelp:
		return r.transitions.AcknowledgeHelp(ctx, cmd.ClassroomID, identity)
	case types.ActionResolveHelp:
		return r.transitions.ResolveHelp(ctx, cmd.ClassroomID, identity)
	case types.ActionEndSession:
		return r.transitions.EndSession(ctx, cmd.ClassroomID, identity)
	case types.ActionForceEndSession:
		return r.transitions.ForceEndSession(ctx, cmd.ClassroomID, identity)
	}
	return nil, ErrUnknownCommand
}

// Forget releases per-identity router state when a connection goes away.
func (r *Router) Forget(identityID string) {
	r.rateLimiter.Forget(identityID)
}

func (r *Router) sendError(sender Sender, cmd *types.Command, dispatchErr error) {
	frame := &types.StreamMessage{
		Type:      types.StreamTypeError,
		CommandID: cmd.ID,
		Event:     errorKind(dispatchErr),
		Message:   dispatchErr.Error(),
		Timestamp: time.Now(),
	}
	if err := sender.WriteJSON(frame); err != nil {
		log.Printf("Failed to send error frame: %v", err)
	}
}

// errorKind maps the error taxonomy to wire identifiers clients switch on.
func errorKind(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, interfaces.ErrSeatDenied):
		return "seat_denied"
	case errors.Is(err, interfaces.ErrSeatLost):
		return "seat_lost"
	case errors.Is(err, interfaces.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, interfaces.ErrNotFound):
		return "not_found"
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "invalid_command"
	}
}
