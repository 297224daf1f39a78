package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/agentwire/agentwire/internal/adapter/backendhttp"
	awhttp "github.com/agentwire/agentwire/internal/adapter/http"
	awnats "github.com/agentwire/agentwire/internal/adapter/nats"
	"github.com/agentwire/agentwire/internal/adapter/otel"
	"github.com/agentwire/agentwire/internal/adapter/ws"
	"github.com/agentwire/agentwire/internal/config"
	"github.com/agentwire/agentwire/internal/logger"
	"github.com/agentwire/agentwire/internal/port/broadcast"
	"github.com/agentwire/agentwire/internal/resilience"
	"github.com/agentwire/agentwire/internal/secrets"
	"github.com/agentwire/agentwire/internal/service"
)

const version = "0.1.0"

const sealKeyEnv = "AGENTWIRE_SEAL_KEY"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "console" {
		if err := runConsole(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func runServer(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, closeLogs := logger.New(cfg.Logging)
	defer closeLogs.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store_driver", cfg.Store.Driver,
		"backend_url", cfg.Backend.URL,
	)

	ctx := context.Background()

	shutdownTelemetry, err := otel.Init(ctx, cfg.Telemetry.Endpoint, "agentwire", version, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	// NATS is optional: without it the engine broadcasts over websockets
	// only. The nats store driver requires it (validated at load time).
	var natsConn *awnats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = awnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsConn.Close() }()
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	store, closeStore, err := buildStore(ctx, cfg, natsConn)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()
	slog.Info("session store ready", "driver", cfg.Store.Driver)

	hub := ws.NewHub()
	var bus broadcast.Broadcaster = hub
	if natsConn != nil {
		bus = broadcast.Multi(hub, awnats.NewBroadcaster(natsConn))
	}

	sealer, err := buildSealer()
	if err != nil {
		return fmt.Errorf("sealer: %w", err)
	}

	client := backendhttp.NewClient(cfg.Backend.URL, cfg.Backend.RequestTimeout)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client.SetBreaker(breaker)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	sessions := service.NewSessions(store, sealer)
	runner := service.NewRunner(client, sessions, bus, metrics, cfg.Chat.DefaultAgent)

	handlers := &awhttp.Handlers{
		Runner:   runner,
		Sessions: sessions,
		Backend:  client,
		Breaker:  breaker,
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(awhttp.RequestID)
	r.Use(awhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(awhttp.SecurityHeaders)
	r.Use(awhttp.Logger)
	r.Use(otel.HTTPMiddleware("agentwire"))
	awhttp.MountRoutes(r, handlers, hub)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		select {
		case <-stop:
			slog.Info("shutting down")
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		for {
			select {
			case <-reload:
				if err := holder.Reload(); err != nil {
					slog.Error("config reload failed", "error", err)
					continue
				}
				slog.Info("config reloaded", "path", cfgPath)
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// buildSealer derives the settings-at-rest sealer from the environment.
// Without a key the registry stores settings with API keys stripped.
func buildSealer() (*secrets.Sealer, error) {
	vault, err := secrets.NewVault(secrets.EnvLoader(sealKeyEnv))
	if err != nil {
		return nil, err
	}
	passphrase := vault.Get(sealKeyEnv)
	if passphrase == "" {
		slog.Warn("no seal key configured; stored settings will not keep API keys", "env", sealKeyEnv)
		return nil, nil
	}
	return secrets.NewSealer(passphrase)
}
