// Command hub runs the watch-party realtime synchronization hub: the
// WebSocket session layer, room manager, batchers, rate limiter, and
// periodic drivers, wired to either a clustered NATS-backed KV/PubSub
// port or the standalone in-process fallback depending on configuration.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"odin-ws-server/internal/batch"
	"odin-ws-server/internal/config"
	"odin-ws-server/internal/drivers"
	"odin-ws-server/internal/hub"
	"odin-ws-server/internal/kvstore"
	"odin-ws-server/internal/logging"
	"odin-ws-server/internal/metrics"
	"odin-ws-server/internal/ratelimit"
	"odin-ws-server/internal/room"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hub: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.InstanceID)
	cfg.Log(logger)

	port, localPort, err := buildPort(*cfg, logger)
	if err != nil {
		return fmt.Errorf("build kv/pubsub port: %w", err)
	}
	defer port.Close()

	m := metrics.New()
	sampler := metrics.NewSystemSampler()

	roomMgr := room.New(port, room.Config{
		TTL:             cfg.RoomTTL,
		DefaultDuration: cfg.DefaultDuration,
		DefaultMaxUsers: cfg.DefaultMaxUsers,
		LobbyID:         cfg.DefaultRoomID,
		LobbyMaxUsers:   cfg.LobbyMaxUsers,
	}, logging.Component(logger, "room"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := roomMgr.EnsureDefaultRoom(ctx); err != nil {
		return fmt.Errorf("ensure default room: %w", err)
	}

	batchers := batch.New()
	limiter := ratelimit.New(port)
	gate := ratelimit.NewConnectionGate(port, cfg.ConnAdmissionWindow, cfg.ConnAdmissionThreshold)

	h := hub.New(hub.Deps{
		Config:   *cfg,
		Port:     port,
		Rooms:    roomMgr,
		Batchers: batchers,
		Limiter:  limiter,
		Metrics:  m,
	}, logging.Component(logger, "hub"))

	drv := drivers.New(drivers.Config{
		CursorFlushInterval:   cfg.CursorFlushInterval,
		ReactionFlushInterval: cfg.ReactionFlushInterval,
		VideoTickInterval:     cfg.VideoTickInterval,
		RoomReapInterval:      cfg.RoomReapInterval,
		ServerTimeInterval:    cfg.ServerTimeInterval,
		BucketSweepInterval:   cfg.BucketSweepInterval,
		ConnSweepInterval:     cfg.ConnSweepInterval,
	}, h, localPort, gate, sampler, m, logging.Component(logger, "drivers"))

	go drv.Run(ctx)

	srv := hub.NewServer(ctx, h, gate, logging.Component(logger, "server"), version)
	mux := http.NewServeMux()
	srv.Routes(mux)
	srv.MetricsRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	signalled := make(chan struct{})
	go func() {
		waitForShutdown(logger)
		close(signalled)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server on %s: %w", httpServer.Addr, err)
	case <-signalled:
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	h.Shutdown(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// buildPort selects the clustered NATS-backed port or the standalone
// local port based on config, per spec.md §9's "shared mutable state
// across instances" design note. The second return value is non-nil only
// for the standalone path, since only it needs a periodic sweep.
func buildPort(cfg config.Config, logger zerolog.Logger) (kvstore.Port, *kvstore.LocalPort, error) {
	if !cfg.ClusterMode() {
		local := kvstore.NewLocalPort()
		return local, local, nil
	}

	natsPort, err := kvstore.NewNATSPort(kvstore.NATSConfig{
		URL:    cfg.KVURL,
		Bucket: "sync-hub",
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return natsPort, nil, nil
}

// waitForShutdown blocks until SIGINT or SIGTERM, per spec.md §5's
// graceful shutdown sequence.
func waitForShutdown(logger zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
}
