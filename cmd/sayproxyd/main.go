// cmd/sayproxyd is an optional local daemon front end: it binds a listener
// immediately, serves gRPC health checks while the local neural provider
// forks and becomes reachable in the background, and flips to SERVING once
// warm. It does not expose a synthesis RPC of its own — callers still talk
// to the engine in-process via pkg/sayproxy or out-of-process via the
// cmd/sayproxy CLI; sayproxyd exists so an external supervisor (systemd,
// a container orchestrator) has something to health-check against the local
// neural server's lifecycle without forking it itself.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sayproxy/sayproxy/internal/adapterinfo"
	"github.com/sayproxy/sayproxy/internal/config"
	"github.com/sayproxy/sayproxy/pkg/sayproxy"
)

// serviceName is the health-check subject for the local neural provider's
// lifecycle; sayproxyd does not register any other gRPC service.
const serviceName = "sayproxy.LocalNeuralProvider"

var manifest = adapterinfo.MustLoad()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting sayproxyd",
		"adapter", manifest.Info.Name,
		"adapter_version", manifest.Info.Version,
		"listen_addr", cfg.DaemonListenAddr,
		"local_server_port", cfg.LocalServerPort,
	)

	// STEP 1: bind the listener immediately, before the local neural
	// provider has forked, so a supervisor's readiness probe connects right
	// away and sees NOT_SERVING rather than a connection refused.
	lis, err := net.Listen("tcp", cfg.DaemonListenAddr)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		os.Exit(1)
	}
	defer lis.Close()
	logger.Info("listener bound, port ready", "addr", lis.Addr().String())

	// STEP 2: start the gRPC health server NOT_SERVING.
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	serverErr := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErr <- err
		}
	}()
	logger.Info("gRPC health server started (NOT_SERVING while the local provider warms up)")

	// STEP 3: assemble the engine and force the local neural provider to
	// fork and answer, then flip to SERVING.
	engine, err := sayproxy.New(cfg, logger)
	if err != nil {
		logger.Error("failed to assemble engine", "error", err)
		os.Exit(1)
	}

	warmCtx, cancelWarm := context.WithTimeout(ctx, 60*time.Second)
	if err := engine.WarmLocalProvider(warmCtx); err != nil {
		logger.Warn("local neural provider did not become ready, staying NOT_SERVING", "error", err)
	} else {
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
		logger.Info("local neural provider warm, sayproxyd ready")
	}
	cancelWarm()

	// STEP 4: graceful shutdown.
	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested, stopping sayproxyd")
		healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}

		if err := engine.Close(); err != nil {
			logger.Warn("engine shutdown error", "error", err)
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("gRPC server terminated with error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	logger.Info("sayproxyd stopped")
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
