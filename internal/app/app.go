// Package app assembles the process: configuration from the environment, the
// logging router, the tiered store, the hub, and the HTTP server, with a
// graceful unwind when the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	server "driftline/server"
	servernet "driftline/server/internal/net"
	"driftline/server/internal/store"
	"driftline/server/logging"
	loggingSinks "driftline/server/logging/sinks"
)

type Config struct {
	Logger *log.Logger
}

// EnvConfig is the environment-derived runtime configuration.
type EnvConfig struct {
	Addr           string
	RemoteStoreURL string
	RemoteStoreKey string
	FallbackFile   string
	ClientDir      string
	LogSinks       []string
}

// LoadEnvConfig reads configuration from the environment, applying defaults
// for anything unset.
func LoadEnvConfig() EnvConfig {
	cfg := EnvConfig{
		Addr:           ":8080",
		FallbackFile:   "players.json",
		RemoteStoreURL: os.Getenv("REMOTE_STORE_URL"),
		RemoteStoreKey: os.Getenv("REMOTE_STORE_KEY"),
		ClientDir:      os.Getenv("CLIENT_DIR"),
		LogSinks:       []string{"console"},
	}
	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if file := os.Getenv("FALLBACK_FILE"); file != "" {
		cfg.FallbackFile = file
	}
	if raw := os.Getenv("LOG_SINKS"); raw != "" {
		cfg.LogSinks = cfg.LogSinks[:0]
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.LogSinks = append(cfg.LogSinks, name)
			}
		}
	}
	return cfg
}

// Run starts the relay and blocks until ctx is cancelled or the listener
// fails.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	env := LoadEnvConfig()

	router, err := buildRouter(env, logger)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	backends := make([]store.Backend, 0, 2)
	if env.RemoteStoreURL != "" {
		remote, err := store.OpenRemote(ctx, env.RemoteStoreURL, env.RemoteStoreKey)
		if err != nil {
			logger.Printf("remote store unavailable, falling back to file: %v", err)
		} else {
			backends = append(backends, remote)
		}
	}
	backends = append(backends, store.NewFileBackend(env.FallbackFile))

	tiered := store.NewTiered(router, backends...)
	hub := server.NewHub(tiered, router)

	stop := make(chan struct{})
	go hub.RunWeather(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		ClientDir: env.ClientDir,
		Logger:    logger,
	})

	srv := &http.Server{Addr: env.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("relay listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

func buildRouter(env EnvConfig, logger *log.Logger) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = nil

	var named []logging.NamedSink
	for _, name := range env.LogSinks {
		if logCfg.HasSink(name) {
			continue
		}
		switch name {
		case "console":
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewConsoleSink(os.Stdout)})
		case "json":
			path := os.Getenv("LOG_FILE")
			if path == "" {
				path = "driftline-events.log"
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
			}
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewJSON(file, logCfg.JSON.FlushInterval)})
		default:
			logger.Printf("unknown log sink %q ignored", name)
			continue
		}
		logCfg.EnabledSinks = append(logCfg.EnabledSinks, name)
	}

	return logging.NewRouter(logging.SystemClock{}, logCfg, named)
}
