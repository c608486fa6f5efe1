// Policy store server
// Answers which revision of a dated policy document was in force on a date
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plancite/policystore/internal/config"
	"github.com/plancite/policystore/internal/logger"
	"github.com/plancite/policystore/internal/metrics"
	"github.com/plancite/policystore/internal/server"
	"github.com/plancite/policystore/pkg/registry"
	"github.com/plancite/policystore/pkg/store"
	"github.com/plancite/policystore/pkg/vectorindex"
)

var configPath = flag.String("config", "", "Path to YAML configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.GetGlobalLogger().Fatal("Failed to load configuration").Err(err).Send()
	}

	logger.InitGlobalLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Server.ListenAddress, cfg.Store.DataDir)

	storeCfg := store.DefaultConfig(cfg.Store.DataDir)
	storeCfg.SyncWrites = cfg.Store.SyncWrites
	storeCfg.Logger = log.GetZerolog()

	kv, err := store.Open(storeCfg)
	if err != nil {
		log.Fatal("Failed to open store").Err(err).Str("data_dir", cfg.Store.DataDir).Send()
	}
	defer kv.Close()

	m := metrics.NewMetrics()
	reg := registry.New(kv)

	var vix vectorindex.Gateway
	if cfg.Weaviate.Host != "" {
		gw, err := vectorindex.NewWeaviateGateway(vectorindex.WeaviateConfig{
			Host:   cfg.Weaviate.Host,
			Scheme: cfg.Weaviate.Scheme,
			Class:  cfg.Weaviate.Class,
			Logger: log.GetZerolog(),
		})
		if err != nil {
			log.Fatal("Failed to connect to vector index").Err(err).Str("host", cfg.Weaviate.Host).Send()
		}
		vix = gw
		log.Info("Vector index connected").Str("host", cfg.Weaviate.Host).Str("class", cfg.Weaviate.Class).Send()
	} else {
		log.Info("Vector index not configured; search disabled").Send()
	}

	apiServer := server.NewServer(cfg.Server.ListenAddress, reg, vix, m, log)
	obsServer := server.NewObservabilityServer(cfg.Server.ObservabilityAddress, log)

	go func() {
		if err := obsServer.Start(); err != nil {
			log.Error("Observability server stopped").Err(err).Send()
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down gracefully...").Send()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			log.Error("API server shutdown failed").Err(err).Send()
		}
		if err := obsServer.Shutdown(ctx); err != nil {
			log.Error("Observability server shutdown failed").Err(err).Send()
		}
	}()

	if err := apiServer.Start(); err != nil {
		log.Fatal("Failed to serve").Err(err).Send()
	}
}
