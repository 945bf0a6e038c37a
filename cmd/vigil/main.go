package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"vigil/internal/camera"
	"vigil/internal/config"
	"vigil/internal/event"
	"vigil/internal/janitor"
	"vigil/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Force debug log level")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *dbgF {
		cfg.Logging.Level = "debug"
	}

	logger, logCloser, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Recording.RecordingsDir, 0o755); err != nil {
		logger.Error("failed to create recordings directory", "dir", cfg.Recording.RecordingsDir, "error", err)
		os.Exit(1)
	}

	// Bind both listeners up front: a port conflict is fatal, not
	// something the supervisor should retry forever.
	httpAddr := net.JoinHostPort(cfg.HTTP.Host, fmt.Sprintf("%d", cfg.HTTP.Port))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		logger.Error("failed to bind http listener", "addr", httpAddr, "error", err)
		os.Exit(1)
	}
	wsAddr := net.JoinHostPort(cfg.WebSocket.Host, fmt.Sprintf("%d", cfg.WebSocket.Port))
	wsLn, err := net.Listen("tcp", wsAddr)
	if err != nil {
		logger.Error("failed to bind websocket listener", "addr", wsAddr, "error", err)
		os.Exit(1)
	}

	bus := event.NewBus(0)
	registry := camera.NewRegistry(*cfg, bus, logger)
	hub := ws.NewHub(wsLn, bus.Subscribe(), logger)
	jan := janitor.New(cfg.Recording.RecordingsDir, cfg.Recording.Retention(),
		cfg.Recording.CleanupInterval(), logger)
	control := &httpService{
		listener: httpLn,
		handler:  newControlMux(registry, logger),
		log:      logger,
	}

	sup := suture.NewSimple("vigil")
	sup.Add(hub)
	sup.Add(jan)
	sup.Add(control)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("vigil starting", "http", httpAddr, "websocket", wsAddr,
		"recordings", cfg.Recording.RecordingsDir)

	err = sup.Serve(ctx)

	logger.Info("shutting down, stopping cameras")
	registry.StopAll()
	bus.Close()

	if err != nil && err != context.Canceled {
		logger.Error("supervisor exited", "error", err)
		os.Exit(1)
	}
	logger.Info("exited")
}
