package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/posmon/config"
	"github.com/alejandrodnm/posmon/internal/adapters/broadcast"
	"github.com/alejandrodnm/posmon/internal/adapters/httpapi"
	"github.com/alejandrodnm/posmon/internal/adapters/notify"
	"github.com/alejandrodnm/posmon/internal/adapters/storage"
	"github.com/alejandrodnm/posmon/internal/monitor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one monitoring pass, print the tracked positions and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("posmon starting",
		"config", *configPath,
		"interval", cfg.Interval(),
		"limit_entry", cfg.Monitor.LimitEntry,
		"once", *once,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()
	hub := broadcast.NewHub()

	c, err := buildComponents(cfg, store, console, hub)
	if err != nil {
		slog.Error("failed to build monitor", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		runOnce(ctx, c.engine, console)
		return
	}

	go hub.Run(ctx)
	c.loop.Start(ctx)

	var srv *http.Server
	if cfg.Server.Addr != "" {
		srv = &http.Server{
			Addr: cfg.Server.Addr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Monitor:   c.loop,
				Positions: store,
				WebSocket: hub.Handler(cfg.Server.AllowedOrigins),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("http server listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server failed", "err", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")

	// El tick en curso termina antes de cerrar el store.
	c.loop.Stop()

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
	}

	slog.Info("posmon stopped cleanly")
}

// runOnce ejecuta una pasada ignorando el horario de mercado e imprime la tabla.
func runOnce(ctx context.Context, engine *monitor.Engine, console *notify.Console) {
	res, err := engine.RunTick(ctx)
	if err != nil {
		slog.Error("monitoring pass failed", "err", err)
		os.Exit(1)
	}

	console.PrintPositions(res.Tracked)
	for _, e := range res.Errors {
		slog.Warn("position skipped", "ticker", e.Ticker, "position_id", e.PositionID, "err", e.Err)
	}
	slog.Info("pass complete",
		"checked", res.Checked,
		"updated", res.Updated,
		"errors", len(res.Errors),
	)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
