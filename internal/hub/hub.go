package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"classwatch/internal/router"
	"classwatch/pkg/types"
)

// CommandContext pairs a queued command with its issuing connection.
type CommandContext struct {
	Command   *types.Command
	Sender    router.Sender
	Timestamp time.Time
}

// Hub serializes command processing through a single goroutine: commands
// from every connection funnel into one queue and dispatch one at a time.
// Individual dispatch failures are reported to their sender and never stop
// the loop.
type Hub struct {
	commandChannel  chan *CommandContext
	shutdownChannel chan struct{}

	router *router.Router

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over the command router.
func NewHub(cmdRouter *router.Router) *Hub {
	return &Hub{
		commandChannel:  make(chan *CommandContext, 1000),
		shutdownChannel: make(chan struct{}),
		router:          cmdRouter,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting command hub...")
	go h.run(ctx)
	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping command hub...")
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

// SubmitCommand queues a command for dispatch. Non-blocking: a full queue
// rejects the command instead of stalling the submitting read loop.
func (h *Hub) SubmitCommand(sender router.Sender, cmd *types.Command) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.commandChannel <- &CommandContext{Command: cmd, Sender: sender, Timestamp: time.Now()}:
		return nil
	default:
		return ErrCommandChannelFull
	}
}

// Forget releases per-identity state when a connection closes.
func (h *Hub) Forget(identityID string) {
	h.router.Forget(identityID)
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case cmdCtx := <-h.commandChannel:
			h.router.Dispatch(ctx, cmdCtx.Sender, cmdCtx.Command)
		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return
		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}
