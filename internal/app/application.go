// Package app wires the classhub components into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"classhub/internal/api"
	"classhub/internal/auth"
	"classhub/internal/classroom"
	"classhub/internal/config"
	"classhub/internal/database"
	"classhub/internal/deposit"
	"classhub/internal/hub"
	"classhub/internal/memstore"
	"classhub/internal/mongostore"
	"classhub/internal/router"
	"classhub/internal/storage"
	"classhub/internal/websocket"
	pkgdatabase "classhub/pkg/database"
	"classhub/pkg/interfaces"
)

// Application owns every long-lived component and their lifecycle
type Application struct {
	config     *config.Config
	store      interfaces.Store
	classrooms *classroom.Manager
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	deposits   *deposit.Pipeline
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	bg       sync.WaitGroup
}

// NewApplication builds the component graph in dependency order:
// store, auth, classrooms, hub, registry, router, storage, deposits, API.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	authenticator := auth.NewCookieAuthenticator(auth.Options{
		SessionKey: []byte(cfg.Auth.SessionKey),
		MaxAge:     cfg.Auth.SessionMaxAge,
		Secure:     cfg.Auth.SecureCookie,
	}, store)

	classrooms := classroom.NewManager(store)

	messageHub := hub.NewHub(hub.Config{
		LaneIdleTimeout: cfg.Hub.LaneIdleTimeout,
		LaneQueueSize:   cfg.Hub.LaneQueueSize,
	})

	registry := websocket.NewRegistry()

	messageRouter := router.NewRouter(store, registry, messageHub, router.Config{
		StoreTimeout:      cfg.Database.Timeout,
		MessagesPerMinute: cfg.Realtime.MessagesPerMinute,
	})

	objects, uploads, err := storage.New(cfg.Storage)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	deposits := deposit.NewPipeline(store, objects, messageHub, registry, deposit.Config{
		MaxFileSize:       cfg.Storage.MaxFileSize,
		UploadTimeout:     cfg.Storage.UploadTimeout,
		StoreTimeout:      cfg.Database.Timeout,
		RootFolder:        cfg.Storage.RootFolder,
		BroadcastDeposits: cfg.Realtime.BroadcastFileDeposits,
	})

	wsHandler := websocket.NewHandler(registry, authenticator, messageRouter, messageHub, store, classrooms,
		websocket.HandlerConfig{
			PingInterval:     cfg.WebSocket.PingInterval,
			ReadTimeout:      cfg.WebSocket.ReadTimeout,
			WriteTimeout:     cfg.WebSocket.WriteTimeout,
			BufferSize:       cfg.WebSocket.BufferSize,
			HistoryLimit:     cfg.Realtime.HistoryLimit,
			VerifyMembership: cfg.Realtime.VerifyMembership,
			AllowedOrigins:   cfg.HTTP.AllowedOrigins,
			OperationTimeout: cfg.Database.Timeout,
		})

	apiServer := api.NewServer(api.Dependencies{
		Auth:       authenticator,
		Classrooms: classrooms,
		Store:      store,
		Messages:   messageRouter,
		Deposits:   deposits,
		Registry:   registry,
		Stats: map[string]api.StatsProvider{
			"hub":        messageHub,
			"router":     messageRouter,
			"classrooms": classrooms,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	apiServer.Handle("GET /ws", http.HandlerFunc(wsHandler.HandleWebSocket))
	if uploads != nil {
		apiServer.Handle("GET "+cfg.Storage.LocalBaseURL+"/", uploads)
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		classrooms: classrooms,
		registry:   registry,
		router:     messageRouter,
		hub:        messageHub,
		deposits:   deposits,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// openStore selects the persistence backend named by the driver
func openStore(cfg config.DatabaseConfig) (interfaces.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), nil

	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		store, err := mongostore.New(ctx, cfg.DSN, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.DriverSQLite, config.DriverPostgres:
		manager, err := database.NewManager(&pkgdatabase.Config{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxConnections:  cfg.MaxConnections,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		})
		if err != nil {
			return nil, err
		}
		migrations := pkgdatabase.NewMigrationManager(manager.DB(), manager.Driver())
		if err := migrations.ApplyMigrations(); err != nil {
			manager.Close()
			return nil, err
		}
		if err := migrations.ValidateSchema(); err != nil {
			manager.Close()
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
		if version, dirty, err := migrations.Version(); err == nil {
			slog.Info("database ready", "driver", cfg.Driver, "schema_version", version, "dirty", dirty)
		}
		return manager, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Start runs the hub, the rate limiter sweeper and the HTTP server. It
// returns once the server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("starting classhub", "addr", ln.Addr().String(),
		"database", app.config.Database.Driver, "storage", app.config.Storage.Provider)

	if err := app.hub.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	bgCtx, cancel := context.WithCancel(ctx)
	app.mu.Lock()
	app.listener = ln
	app.cancel = cancel
	app.mu.Unlock()

	app.bg.Add(1)
	go func() {
		defer app.bg.Done()
		app.router.RateLimiter().Run(bgCtx, time.Minute)
	}()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		slog.Info("classhub started")
		return nil
	case <-ctx.Done():
		cancel()
		app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP, background work, hub, store
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down classhub")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
		errs = append(errs, err)
	}

	app.mu.Lock()
	cancel := app.cancel
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	app.bg.Wait()

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		slog.Error("message hub shutdown failed", "error", err)
		errs = append(errs, err)
	}

	if err := app.store.Close(); err != nil {
		slog.Error("store shutdown failed", "error", err)
		errs = append(errs, err)
	}

	slog.Info("classhub shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
