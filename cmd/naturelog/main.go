package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/naturelog/client/internal/api"
	"github.com/naturelog/client/internal/capability"
	"github.com/naturelog/client/internal/config"
	"github.com/naturelog/client/internal/handlers"
	"github.com/naturelog/client/internal/observability"
	"github.com/naturelog/client/internal/repository"
	"github.com/naturelog/client/internal/services"
)

var authToken string

func main() {
	rootCmd := &cobra.Command{
		Use:   "naturelog",
		Short: "Offline-first observation recorder",
		Long:  "naturelog stores nature observations on-device and synchronizes them with a remote observation server when connectivity allows.",
	}
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for authenticated submissions")

	rootCmd.AddCommand(serveCmd(), syncCmd(), statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired services behind every subcommand
type app struct {
	cfg      *config.Config
	db       *sql.DB
	datasets *services.DatasetService
	sync     *services.SyncService
	hub      *services.ProgressHub
	remote   *services.RemoteService
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	clientID, err := config.EnsureClientID(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("resolving device id: %w", err)
	}

	db, err := repository.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	repo := repository.NewDatasetRepository(db)
	codec := services.NewCodecService()
	storage := capability.NewFileStorage(cfg.DatabasePath, cfg.LocalQuotaMB)

	datasets := services.NewDatasetService(repo, codec, storage,
		services.ImageProfile{MaxEdge: cfg.LocalImages.MaxEdge, Quality: cfg.LocalImages.Quality})

	perm := services.SettingsPermission{AllowAnonymous: cfg.AllowAnonymousObservations}
	remote := services.NewRemoteService(api.NewClient(cfg.ServerURL), codec, perm, clientID, cfg.Platform,
		services.ImageProfile{MaxEdge: cfg.UploadImages.MaxEdge, Quality: cfg.UploadImages.Quality})

	hub := services.NewProgressHub()
	syncService := services.NewSyncService(repo, remote, hub.Publish)

	return &app{
		cfg:      cfg,
		db:       db,
		datasets: datasets,
		sync:     syncService,
		hub:      hub,
		remote:   remote,
	}, nil
}

func (a *app) close() {
	a.db.Close()
}

func credentials() services.Credentials {
	return services.Credentials{Token: authToken, Authenticated: authToken != ""}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback bridge the UI talks to",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			log := observability.GetLogger().WithField("component", "bridge")

			go a.hub.Run()

			datasetHandler := handlers.NewDatasetHandler(a.datasets)
			remoteHandler := handlers.NewRemoteHandler(a.remote, a.hub)
			syncHandler := handlers.NewSyncHandler(a.sync, a.datasets, a.hub)

			r := chi.NewRouter()
			r.Use(chimiddleware.RequestID)
			r.Use(chimiddleware.RealIP)
			r.Use(chimiddleware.Logger)
			r.Use(chimiddleware.Recoverer)

			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"ok"}`))
			})

			r.Route("/api", func(r chi.Router) {
				// not mounted on /ws/sync: the wrapped writer cannot hijack
				r.Use(observability.TracingMiddleware("naturelog-bridge"))

				r.Post("/datasets", datasetHandler.Create)
				r.Get("/datasets/{uuid}", datasetHandler.Get)
				r.Put("/datasets/{uuid}", datasetHandler.Update)
				r.Delete("/datasets/{uuid}", datasetHandler.Delete)
				r.Get("/datasets/{uuid}/preview", datasetHandler.Preview)
				r.Get("/datasets/{uuid}/fields/{fieldUuid}/images", datasetHandler.FieldImages)
				r.Get("/images/{id}", datasetHandler.ImageBlob)
				r.Delete("/images/{id}", datasetHandler.DeleteImage)
				r.Post("/field-states", datasetHandler.FieldStates)
				r.Get("/storage", datasetHandler.Storage)

				r.Post("/remote/datasets", remoteHandler.Submit)
				r.Get("/remote/datasets", remoteHandler.List)
				r.Get("/remote/datasets/{uuid}", remoteHandler.Get)
				r.Put("/remote/datasets/{uuid}", remoteHandler.Update)
				r.Delete("/remote/datasets/{uuid}", remoteHandler.Delete)

				r.Post("/sync", syncHandler.Trigger)
				r.Get("/sync/status", syncHandler.Status)
			})

			r.Get("/ws/sync", syncHandler.HandleWS)

			srv := &http.Server{
				Addr:         a.cfg.BridgeAddress,
				Handler:      r,
				ReadTimeout:  5 * time.Minute,
				WriteTimeout: 5 * time.Minute,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go periodicSync(ctx, a)

			errCh := make(chan error, 1)
			go func() {
				log.Infof("bridge listening on %s", a.cfg.BridgeAddress)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// periodicSync triggers background passes on the configured interval. An
// in-flight pass makes the tick a no-op.
func periodicSync(ctx context.Context, a *app) {
	interval := time.Duration(a.cfg.SyncIntervalMins) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := observability.GetLogger().WithField("component", "periodic-sync")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.sync.Run(ctx, credentials()); err != nil {
				log.Debugf("background sync skipped: %v", err)
			}
		}
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.sync.Run(cmd.Context(), credentials())
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how much local data awaits upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			datasets, images, err := a.datasets.CountUnsynced(cmd.Context())
			if err != nil {
				return err
			}

			usage := a.datasets.StorageUsage(cmd.Context())

			fmt.Printf("pending datasets: %d\n", datasets)
			fmt.Printf("pending images:   %d\n", images)
			if usage.Supported {
				fmt.Printf("storage used:     %.1f%% (%d of %d bytes)\n", usage.UsedPercent, usage.Used, usage.Quota)
			}
			return nil
		},
	}
}
