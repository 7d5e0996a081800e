package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/crestdata/ingest-pipeline/internal/archive"
	"github.com/crestdata/ingest-pipeline/internal/config"
	"github.com/crestdata/ingest-pipeline/internal/db"
	"github.com/crestdata/ingest-pipeline/internal/logging"
	"github.com/crestdata/ingest-pipeline/internal/metrics"
	"github.com/crestdata/ingest-pipeline/internal/orchestrator"
	"github.com/crestdata/ingest-pipeline/internal/schema"
	"github.com/crestdata/ingest-pipeline/internal/secrets"
	"github.com/crestdata/ingest-pipeline/internal/store"
	"github.com/crestdata/ingest-pipeline/internal/watcher"
	"github.com/crestdata/ingest-pipeline/internal/writer"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	log := logging.Component("main")
	log.Info("ingest worker starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	metrics.Init("ingest_pipeline")
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(metrics.Config{
				Enabled: cfg.Metrics.Enabled,
				Address: cfg.Metrics.Address,
			}); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	staging, err := store.New(areaConfig(cfg.Staging))
	if err != nil {
		log.Error("failed to open staging store", "error", err)
		os.Exit(1)
	}
	defer staging.Close()

	archiveStore, err := store.New(areaConfig(cfg.Archive))
	if err != nil {
		log.Error("failed to open archive store", "error", err)
		os.Exit(1)
	}
	defer archiveStore.Close()

	// DB credentials are fetched live on every connect; only the API token
	// is cached.
	connector := db.NewConnector(cfg.Database, secrets.NewVarSource(cfg.Secrets.DBPasswordURL))
	if err := connector.InitSchema(ctx); err != nil {
		log.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	reg := schema.Default()
	if cfg.SchemaRegistryFile != "" {
		reg, err = schema.LoadRegistry(cfg.SchemaRegistryFile)
		if err != nil {
			log.Error("failed to load schema registry", "path", cfg.SchemaRegistryFile, "error", err)
			os.Exit(1)
		}
	}

	orch, err := orchestrator.New(
		orchestrator.NewStoreLoader(staging),
		reg,
		writer.New(connector, reg),
		archive.NewRouter(staging, archiveStore),
		orchestrator.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			BaseInterval: cfg.Retry.BaseInterval,
			Multiplier:   cfg.Retry.Multiplier,
		},
	)
	if err != nil {
		log.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	w := watcher.New(staging, orch, cfg.Watcher, bucketLabel(cfg.Staging))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("watcher failed", "error", err)
		os.Exit(1)
	}
	log.Info("ingest worker stopped")
}

func areaConfig(a config.AreaConfig) store.Config {
	return store.Config{
		Backend:    a.Backend,
		LocalDir:   a.LocalDir,
		Bucket:     a.Bucket,
		S3Endpoint: a.S3Endpoint,
		S3Region:   a.S3Region,
		Prefix:     a.Prefix,
	}
}

// bucketLabel names the staging area in events and logs. Local backends
// have no bucket, so the directory stands in.
func bucketLabel(a config.AreaConfig) string {
	if a.Bucket != "" {
		return a.Bucket
	}
	return a.LocalDir
}
