package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lianghu1024/agentgate"
	"github.com/lianghu1024/agentgate/internal/auth"
	"github.com/lianghu1024/agentgate/internal/command"
	"github.com/lianghu1024/agentgate/internal/metrics"
)

func main() {
	// Defensive: in some environments `go test ./...` may execute command mains.
	// Avoid starting a long-running listener from a test binary.
	if strings.HasSuffix(filepath.Base(os.Args[0]), ".test") {
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"config", cfg.configPath, "config_loaded", cfg.configLoaded,
		"dotenv", cfg.dotenvPath, "dotenv_loaded", cfg.dotenvLoaded,
		"addr", cfg.addr, "addr_source", cfg.addrSource,
		"idle_timeout", cfg.idleTimeout, "idle_timeout_source", cfg.idleTimeoutSource,
		"write_timeout", cfg.writeTimeout, "write_timeout_source", cfg.writeTimeoutSource,
		"redis", cfg.redisAddr != "", "redis_source", cfg.redisAddrSource,
	)

	authenticator, err := buildAuthenticator(cfg, logger)
	if err != nil {
		return err
	}

	registry := command.NewRegistry()
	command.RegisterBuiltins(registry)
	watcher, err := command.NewWatchService()
	if err != nil {
		logger.Warn("filesystem watch unavailable", "error", err)
	} else {
		defer watcher.Close()
		command.RegisterWatchCommands(registry, watcher)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	srv := agentgate.New(append(cfg.serverOptions(),
		agentgate.WithAuthenticator(authenticator),
		agentgate.WithRegistry(registry),
		agentgate.WithLogger(logger),
		agentgate.WithMetrics(m),
	)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.metricsAddr != "" {
		go serveMetrics(ctx, cfg.metricsAddr, logger)
	}
	if cfg.wsAddr != "" {
		go serveWebSocket(ctx, cfg.wsAddr, srv, logger)
	}

	err = srv.ListenAndServe(ctx)
	if err == context.Canceled {
		err = nil
	}
	_ = srv.Close()
	return err
}

func buildAuthenticator(cfg serverConfig, logger *slog.Logger) (auth.Authenticator, error) {
	var store auth.Store
	if cfg.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		store = auth.NewRedisStore(client, "")
		logger.Info("token store: redis", "addr", cfg.redisAddr)
	} else {
		mem := auth.NewMemoryStore()
		for _, t := range cfg.seedTokens {
			var expiresAt time.Time
			if t.TTL != "" {
				ttl, err := time.ParseDuration(t.TTL)
				if err != nil {
					return nil, err
				}
				expiresAt = time.Now().Add(ttl)
			}
			mem.Seed(t.ID, t.Secret, t.Scopes, expiresAt)
			logger.Info("seeded token", "id", t.ID, "scopes", t.Scopes)
		}
		store = mem
		logger.Info("token store: in-memory", "seeded", len(cfg.seedTokens))
	}
	return auth.NewStoreAuthenticator(store), nil
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

func serveWebSocket(ctx context.Context, addr string, gw *agentgate.Server, logger *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: gw.WSHandler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("websocket listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("websocket server failed", "error", err)
	}
}
