package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"classwatch/internal/api"
	"classwatch/internal/auth"
	"classwatch/internal/config"
	"classwatch/internal/database"
	"classwatch/internal/hub"
	"classwatch/internal/machine"
	"classwatch/internal/router"
	"classwatch/internal/seat"
	"classwatch/internal/store"
	"classwatch/internal/websocket"
	dbconfig "classwatch/pkg/database"
	"classwatch/pkg/types"
)

// Application wires every component. Initialization follows strict dependency
// order: Database → Migrations → Store → Seat/Machine → Auth → Registry →
// Router → Hub → WebSocket → API → HTTP.
type Application struct {
	config       *config.Config
	dbManager    *database.Manager
	sessionStore *store.Store
	authService  *auth.Service
	registry     *websocket.Registry
	commandHub   *hub.Hub
	httpServer   *http.Server
}

// NewApplication builds the component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(&dbconfig.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(dbManager.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// The store registers itself as the database commit hook; every committed
	// session write from here on fans out to subscribers.
	sessionStore := store.NewStore(dbManager)

	seatManager := seat.NewManager(sessionStore)
	stateMachine := machine.NewMachine(sessionStore)

	authService := auth.NewService(dbManager, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)

	registry := websocket.NewRegistry()

	// Role changes and deletions drop the identity's live connections; the
	// client reconnects and passes the gate with its new role.
	authService.OnIdentityChange(func(change auth.IdentityChange) {
		registry.CloseIdentity(change.IdentityID)
	})

	commandRouter := router.NewRouter(stateMachine, seatManager)
	commandHub := hub.NewHub(commandRouter)

	wsHandler := websocket.NewHandler(registry, sessionStore, authService, commandHub, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
	})

	apiServer := api.NewServer(authService, stateMachine, seatManager, sessionStore, dbManager, registry)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:       cfg,
		dbManager:    dbManager,
		sessionStore: sessionStore,
		authService:  authService,
		registry:     registry,
		commandHub:   commandHub,
		httpServer:   httpServer,
	}, nil
}

// Start launches the hub and the HTTP server. The hub starts first so
// commands from early connections have somewhere to go.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting classwatch on %s", app.httpServer.Addr)

	if err := app.bootstrapAdmin(ctx); err != nil {
		return err
	}

	if err := app.commandHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start command hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.commandHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("classwatch started successfully")
		return nil
	case <-ctx.Done():
		_ = app.commandHub.Stop()
		return ctx.Err()
	}
}

// bootstrapAdmin creates the configured admin identity when the identity
// table is empty, so a fresh deployment has a way in.
func (app *Application) bootstrapAdmin(ctx context.Context) error {
	if app.config.Auth.BootstrapAdminLogin == "" {
		return nil
	}

	identities, err := app.authService.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existing identities: %w", err)
	}
	if len(identities) > 0 {
		return nil
	}

	_, err = app.authService.CreateIdentity(ctx,
		app.config.Auth.BootstrapAdminLogin,
		"Administrator",
		app.config.Auth.BootstrapAdminSecret,
		types.RoleAdmin,
	)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	log.Printf("Bootstrap admin created: login=%s", app.config.Auth.BootstrapAdminLogin)
	return nil
}

// Stop shuts down in reverse dependency order: HTTP → Hub → Store → Database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down classwatch")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.commandHub.Stop(); err != nil {
		log.Printf("Command hub shutdown error: %v", err)
	}
	app.sessionStore.Close()
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("classwatch shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
