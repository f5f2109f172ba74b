// Package main is the entrypoint for the podshare server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/podshare/podshare-go/internal/federation"
	"github.com/podshare/podshare-go/internal/platform/cache"
	"github.com/podshare/podshare-go/internal/platform/config"
	"github.com/podshare/podshare-go/internal/platform/logutil"
	"github.com/podshare/podshare-go/internal/server"
	"github.com/podshare/podshare-go/internal/sharing"
	"github.com/podshare/podshare-go/internal/store"

	// Register drivers
	_ "github.com/podshare/podshare-go/internal/platform/cache/memory"
	_ "github.com/podshare/podshare-go/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin URL (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:   listenAddr,
			PublicOrigin: publicOrigin,
			LoggingLevel: loggingLevel,
			StoreDriver:  storeDriver,
			DataDir:      dataDir,
			CacheDriver:  cacheDriver,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logutil.ParseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		logger.Error("failed to initialize store", "driver", st.Name(), "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var cacheInstance cache.Cache
	if cfg.Cache.Driver != "" {
		cacheInstance = cache.New(cfg.Cache.Driver, driverOptions(cfg.Cache.Drivers, cfg.Cache.Driver))
		if cacheInstance == nil {
			logger.Error("unknown cache driver", "driver", cfg.Cache.Driver)
			os.Exit(1)
		}
		defer cacheInstance.Close()
	}

	dir := sharing.NewOriginDirectory(cfg.PublicOrigin)

	var conduit sharing.Conduit
	if len(cfg.Conduit.Peers) > 0 {
		peers := make([]federation.Peer, 0, len(cfg.Conduit.Peers))
		for _, p := range cfg.Conduit.Peers {
			peers = append(peers, federation.Peer{
				Domain:  p.Domain,
				BaseURL: p.URL,
				Secret:  p.Secret,
			})
		}
		conduit = federation.NewHTTPConduit(nil, peers)
	}

	eng := sharing.NewEngine(st, dir, sharing.Options{
		Cache:   cacheInstance,
		Conduit: conduit,
		Logger:  logger,
	})

	var conduitHandler *federation.Handler
	if len(cfg.Conduit.PeerSecretHashes) > 0 {
		router := federation.NewRouter(eng, dir, logger)
		auth := federation.NewPeerAuth(cfg.Conduit.PeerSecretHashes)
		conduitHandler = federation.NewHandler(router, auth, logger)
	}

	srv := server.New(cfg, conduitHandler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}

// driverOptions extracts the [cache.drivers.<name>] option map from the
// raw config section.
func driverOptions(drivers map[string]any, name string) map[string]any {
	raw, ok := drivers[name]
	if !ok {
		return nil
	}
	opts, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return opts
}
