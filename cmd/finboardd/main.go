// Package main provides the finboard daemon: the offline-first mutation
// queue and sync engine behind a personal-finance dashboard. Dashboard
// clients talk to it over REST and WebSocket on localhost.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finboard/finboard/cmd/finboardd/handlers"
	"github.com/finboard/finboard/internal/classify"
	"github.com/finboard/finboard/internal/config"
	"github.com/finboard/finboard/internal/connectivity"
	"github.com/finboard/finboard/internal/db"
	"github.com/finboard/finboard/internal/invalidate"
	"github.com/finboard/finboard/internal/logging"
	"github.com/finboard/finboard/internal/offline"
	"github.com/finboard/finboard/internal/queue"
	syncengine "github.com/finboard/finboard/internal/sync"
	"github.com/finboard/finboard/internal/telemetry"
	"github.com/finboard/finboard/internal/transport"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the finboardd CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "finboardd",
		Short:         "Offline-first mutation queue and sync engine for the finboard dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewSyncCommand())
	cmd.AddCommand(NewQueueCommand())

	return cmd
}

// app bundles the wired components shared by every command.
type app struct {
	cfg         *config.Config
	database    *db.DB
	store       *queue.Store
	classifier  *classify.Classifier
	invalidator *invalidate.Invalidator
	tracker     *connectivity.Tracker
	client      transport.Client
	engine      *syncengine.Engine
	facade      *offline.Facade
	metrics     *telemetry.Recorder
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(os.Stderr, cfg.LogLevel)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		database.Close()
		return nil, err
	}

	classifier := rules.Classifier()
	invalidator := rules.Invalidator(classifier)
	store := queue.NewStore(database.DB, cfg.QueueMaxSize)
	tracker := connectivity.NewTracker(false)
	client := transport.NewHTTPClient(cfg.APIBaseURL, cfg.RequestTimeout)

	metrics := telemetry.NewRecorder()
	engine := syncengine.NewEngine(store, classifier, client, tracker,
		syncengine.WithMaxRetries(cfg.MaxRetries),
		syncengine.WithInitialDelay(cfg.InitialDelay),
		syncengine.WithInvalidator(invalidator),
		syncengine.WithMetrics(metrics),
	)

	facade := offline.NewFacade(store, classifier, client, tracker, engine, invalidator)

	return &app{
		cfg:         cfg,
		database:    database,
		store:       store,
		classifier:  classifier,
		invalidator: invalidator,
		tracker:     tracker,
		client:      client,
		engine:      engine,
		facade:      facade,
		metrics:     metrics,
	}, nil
}

func (a *app) Close() {
	if err := a.database.Close(); err != nil {
		logging.Error("Failed to close database", err, nil)
	}
}

// NewServeCommand creates the serve command: the long-running daemon with
// the REST and WebSocket surface, connectivity probing and background sync.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the finboard daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := NewWSHub()
			a.engine.OnProgress(hub.BroadcastSyncProgress)
			a.engine.OnStale(hub.BroadcastViewsStale)

			go func() {
				for online := range a.tracker.Subscribe() {
					hub.BroadcastConnectivity(online)
				}
			}()

			prober := connectivity.NewProber(a.tracker, a.cfg.ProbeURL(), a.cfg.ProbeInterval)
			go prober.Run(ctx)

			scheduler := syncengine.NewScheduler(a.engine, a.tracker, a.cfg.SyncInterval)
			scheduler.Start(ctx)
			defer scheduler.Stop()

			mux := http.NewServeMux()
			queueHandler := handlers.NewQueueHandler(a.facade)
			mux.HandleFunc("GET /api/queue", queueHandler.List)
			mux.HandleFunc("GET /api/queue/stats", queueHandler.Stats)
			mux.HandleFunc("DELETE /api/queue", queueHandler.Clear)
			mux.HandleFunc("POST /api/sync", handlers.NewSyncHandler(a.facade).Trigger)
			mux.HandleFunc("POST /api/mutations", handlers.NewMutationHandler(a.facade).Perform)
			mux.HandleFunc("GET /api/health", handlers.NewHealthHandler(a.facade, a.tracker).Check)
			mux.HandleFunc("GET /api/metrics", handlers.NewMetricsHandler(a.metrics).Snapshot)
			mux.HandleFunc("GET /ws", HandleWebSocket(hub))

			server := &http.Server{
				Addr:         a.cfg.ListenAddr,
				Handler:      mux,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 0, // WebSocket connections stay open
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Info("finboardd listening", logging.Fields{"addr": a.cfg.ListenAddr})
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logging.Info("Shutting down", nil)
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutCtx)
		},
	}
}

// NewSyncCommand creates the sync command: probe connectivity once, then
// run a single sync pass and print the result.
func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			prober := connectivity.NewProber(a.tracker, a.cfg.ProbeURL(), a.cfg.ProbeInterval)
			probeCtx, cancel := context.WithTimeout(cmd.Context(), 6*time.Second)
			prober.ProbeOnce(probeCtx)
			cancel()

			result, err := a.facade.Sync(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Synced %d of %d mutations (%d failed) in %s\n",
				result.Synced, result.Total, result.Failed, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

// NewQueueCommand creates the queue command group for inspecting and
// clearing the local mutation queue.
func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued mutations in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.facade.GetPendingMutations()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pending)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show per-status queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.facade.GetQueueStats()
			if err != nil {
				return err
			}

			fmt.Printf("total: %d\npending: %d\nsyncing: %d\nsynced: %d\nfailed: %d\n",
				stats.Total, stats.Pending, stats.Syncing, stats.Synced, stats.Failed)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every queued mutation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.facade.Clear(); err != nil {
				return err
			}
			fmt.Println("Queue cleared.")
			return nil
		},
	})

	return cmd
}
