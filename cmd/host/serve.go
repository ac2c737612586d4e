package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/config"
	"github.com/cbnote/cbnote/internal/events"
	"github.com/cbnote/cbnote/internal/host"
	"github.com/cbnote/cbnote/internal/locale"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/metrics"
	"github.com/cbnote/cbnote/internal/repository"
	"github.com/cbnote/cbnote/internal/storage/local"
	"github.com/cbnote/cbnote/internal/transport"
	"github.com/cbnote/cbnote/internal/watcher"
)

// notifyWindow coalesces bursts of folder events into one notification.
const notifyWindow = 500 * time.Millisecond

// rewatchInterval is how often a document folder that could not be watched
// is tried again.
const rewatchInterval = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the host session server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadHost()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.HostConfig) error {
	if err := logging.Init(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "cbnote-host",
	}); err != nil {
		return err
	}
	defer logging.Sync()

	logging.Info("CBNote host starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("documents", cfg.DocumentsPath),
		zap.String("cloud", cfg.CloudBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document repository
	repo, err := repository.Open(ctx, cfg)
	if err != nil {
		logging.Fatal("repository init failed", zap.Error(err))
	}
	defer repo.Close()

	// Request handling
	connector := host.New(repo, host.Options{
		Localizer:    locale.New(cfg.Language),
		ImageWorkers: cfg.ImageWorkers,
	})
	sessions := transport.NewServer(connector, transport.NewPairing(cfg.PairingSecret))
	defer sessions.Close()
	sessions.SetLocked(cfg.LockedAtLaunch)

	// Folder change notifications
	if cfg.WatchDocuments {
		changes := events.NewBroadcaster[events.Event]("documents", 256)
		w, err := watcher.New(changes)
		if err != nil {
			logging.Fatal("watcher init failed", zap.Error(err))
		}
		defer w.Close()

		for _, dir := range repo.Configured() {
			backend, _ := repo.Root(dir)
			if lb, ok := backend.(*local.LocalBackend); ok {
				go w.Watch(ctx, string(dir), lb.Root(), rewatchInterval)
			}
		}

		sub := changes.Subscribe()
		defer changes.Unsubscribe(sub)
		go w.Run(ctx)
		go host.ForwardChanges(ctx, sub, sessions, notifyWindow)
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newRouter(sessions),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		sessions.Close()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("session server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
	return nil
}

func newRouter(sessions *transport.Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.Middleware)
	r.Handle("/session", sessions).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if sessions.Connected() {
			status = "ok, companion connected"
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(status))
	}).Methods("GET")
	return r
}
