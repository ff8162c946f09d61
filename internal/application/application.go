package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/buildcfg/internal/api"
	"github.com/eugenenazirov/buildcfg/internal/config"
	"github.com/eugenenazirov/buildcfg/internal/resolver"
	"github.com/eugenenazirov/buildcfg/internal/storage"
	"github.com/eugenenazirov/buildcfg/internal/toolchain"
	"github.com/eugenenazirov/buildcfg/internal/watch"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg      config.Config
	resolver *resolver.Resolver
	storage  storage.Storage
	watcher  *watch.Watcher
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewResolver builds the resolver described by cfg: key.properties from the
// root project, storeFile relative to the app module, toolchain values from
// local.properties over the configured defaults.
func NewResolver(cfg config.Config, logger *zap.Logger) *resolver.Resolver {
	provider := toolchain.NewLocalProperties(cfg.LocalPropertiesPath(), toolchain.NewStatic(cfg.Toolchain))
	return resolver.New(resolver.Options{
		KeyPropertiesPath: cfg.KeyPropertiesPath(),
		ModuleDir:         cfg.ResolvedModuleDir(),
		Strict:            cfg.Strict,
	}, provider, logger)
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	res := NewResolver(cfg, logger)
	store := storage.NewMemoryStorage(nil)

	watcher, err := watch.New(res, store,
		[]string{cfg.KeyPropertiesPath(), cfg.LocalPropertiesPath()},
		watch.WithDebounce(cfg.WatchDebounce),
		watch.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	handler := api.NewHandler(store, watcher)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithReloadRateLimit(cfg.ReloadRateLimitRPS, cfg.ReloadRateLimitBurst),
	)

	return &App{
		cfg:      cfg,
		resolver: res,
		storage:  store,
		watcher:  watcher,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   NewServer(cfg, BuildRootHandler(apiRouter)),
	}, nil
}

// BuildRootHandler mounts the API under /api/ and answers / with the list of
// endpoints.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(strings.Join([]string{
			"GET  /api/health",
			"GET  /api/descriptor[?format=yaml]",
			"GET  /api/signing",
			"POST /api/reload",
			"",
		}, "\n")))
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start resolves the initial descriptor, starts the file watcher when enabled
// and serves HTTP in a goroutine. The watcher stops when ctx is cancelled or
// StopWatcher is called.
func (a *App) Start(ctx context.Context) error {
	snap, err := a.watcher.Reload(ctx)
	if err != nil {
		return fmt.Errorf("initial resolve: %w", err)
	}
	a.logger.Info("descriptor resolved",
		zap.String("application_id", snap.Descriptor.DefaultConfig.ApplicationID),
		zap.Uint64("revision", snap.Revision),
	)

	if a.cfg.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		a.watchCancel = cancel
		a.watchDone = make(chan struct{})
		go func() {
			defer close(a.watchDone)
			if err := a.watcher.Run(watchCtx); err != nil {
				a.logger.Error("property watcher stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// StopWatcher cancels the property watcher and waits for it to return, so no
// reload lands in the store while the server drains. It is a no-op when the
// watcher was never started.
func (a *App) StopWatcher() {
	if a.watchCancel == nil {
		return
	}
	a.watchCancel()
	<-a.watchDone
	a.logger.Info("property watcher stopped")
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Storage returns the descriptor store.
func (a *App) Storage() storage.Storage {
	return a.storage
}
