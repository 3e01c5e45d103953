package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"csvmerge/internal/blob"
	"csvmerge/internal/config"
	"csvmerge/internal/jobs"
	"csvmerge/internal/metrics"
	"csvmerge/internal/metrics/datadog"
	"csvmerge/internal/server"
	"csvmerge/internal/storage"
	"csvmerge/internal/transformer/builtin"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.readServiceConfig(); err != nil {
				return err
			}
			s, err := config.LoadService(a.v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, a.logger())
		},
	}
	cmd.Flags().StringVar(&a.cfgFile, "config", "", "service config file (default ./csvmerge.yaml)")
	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	cmd.Flags().String("storage", "", "storage backend kind: "+fmt.Sprint(storage.Kinds()))
	_ = a.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("storage.kind", cmd.Flags().Lookup("storage"))
	return cmd
}

func serve(ctx context.Context, s config.Service, logger *log.Logger) error {
	closeMetrics := setupMetrics(ctx, s.Metrics, logger)
	defer closeMetrics()

	repo, err := storage.New(ctx, storage.Config{Kind: s.Storage.Kind, DSN: s.Storage.DSN})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	blobs, err := blob.NewFS(s.Blob.Dir, s.Blob.MaxBytes)
	if err != nil {
		return err
	}

	engine := builtin.NewEngine()
	api := &server.Server{
		Jobs: &jobs.Service{
			Repo:    repo,
			Blobs:   blobs,
			Engine:  engine,
			Logger:  logger,
			Workers: s.Merge.Workers,
		},
		Engine: engine,
		Logger: logger,
	}

	srv := &http.Server{
		Addr:              s.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Printf("stage=serve addr=%s storage=%s blob_dir=%s", s.HTTP.Addr, s.Storage.Kind, s.Blob.Dir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Printf("stage=serve status=shutdown")
	return srv.Shutdown(shutdownCtx)
}

// setupMetrics installs the configured metrics backend. The returned func
// stops it and submits what is still buffered.
func setupMetrics(ctx context.Context, m config.MetricsSettings, logger *log.Logger) func() {
	switch m.Backend {
	case "datadog":
		// The final flush on Close runs after ctx is cancelled.
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    "csvmerge",
			Tags:       datadog.ParseTagsCSV(m.Tags),
			FlushEvery: m.FlushEvery,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		logger.Printf("metrics: backend=datadog tags=%s flush_every=%s", m.Tags, m.FlushEvery)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close error: %v", err)
			}
		}
	default:
		return func() {}
	}
}
