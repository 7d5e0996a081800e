package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crestdata/ingest-pipeline/internal/authorizer"
	"github.com/crestdata/ingest-pipeline/internal/config"
	"github.com/crestdata/ingest-pipeline/internal/db"
	"github.com/crestdata/ingest-pipeline/internal/logging"
	"github.com/crestdata/ingest-pipeline/internal/metrics"
	"github.com/crestdata/ingest-pipeline/internal/queryapi"
	"github.com/crestdata/ingest-pipeline/internal/secrets"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	log := logging.Component("main")
	log.Info("query API starting", "address", cfg.API.ListenAddress)

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

	apiToken := secrets.NewCache(secrets.NewVarSource(cfg.Secrets.APITokenURL), cfg.Secrets.CacheTTL)
	auth := authorizer.New(apiToken, "user")

	// DB credentials are fetched live on every connect; only the API token
	// above is cached.
	connector := db.NewConnector(cfg.Database, secrets.NewVarSource(cfg.Secrets.DBPasswordURL))
	repo := queryapi.NewRepository(connector)

	srv := &http.Server{
		Addr:              cfg.API.ListenAddress,
		Handler:           queryapi.NewServer(repo, auth).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("query API stopped")
}
