package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
	"github.com/TFMV/duckprof/cmd/duckprof/middleware"
	"github.com/TFMV/duckprof/pkg/cache"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/server"
)

// flightServiceName is the health check service name of the Flight service.
const flightServiceName = "arrow.flight.protocol.FlightService"

const gaugeReportInterval = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis engine over Arrow Flight",
		Long: `Serve exposes analyze, get_record, has_visualization and summarize as
Flight actions and streams the analysis log as Arrow record batches.

Example:
  duckprof serve --config ./duckprof.yaml
  duckprof serve --address 0.0.0.0:8815 --database tpch.duckdb`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a)
		},
	}

	d := config.DefaultConfig()
	cmd.Flags().String("address", d.Flight.Address, "Flight listen address")
	cmd.Flags().String("metrics-address", d.Metrics.Address, "metrics server address")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"flight.address":  "address",
		"metrics.address": "metrics-address",
	})
	return cmd
}

func runServe(cmd *cobra.Command, a *app) error {
	if err := a.setup(cmd); err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting duckprof")

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var (
		collector     = metrics.NewNoOpCollector()
		metricsServer *metrics.MetricsServer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewPrometheusCollector(cfg.Metrics.Namespace, reg)
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, reg)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	e, err := newEngine(ctx, cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer e.Close()
	if cfg.Metrics.Enabled {
		go e.allocator.ReportEvery(ctx, gaugeReportInterval, collector)
		if e.cache != nil {
			go cache.ReportEvery(ctx, e.cache, gaugeReportInterval, collector)
		}
	}

	flightSrv := server.New(e.handler(), e.allocator, logger.With().Str("component", "flight_server").Logger())
	grpcServer, healthServer, err := newGRPCServer(cfg, flightSrv, logger, collector)
	if err != nil {
		return err
	}

	if a.configFile != "" {
		watchConfig(a, logger)
	}

	listener, err := net.Listen("tcp", cfg.Flight.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", listener.Addr().String()).
			Bool("tls", cfg.Flight.TLS.Enabled).
			Bool("auth", cfg.Flight.Auth.Enabled).
			Msg("Server listening")
		if err := grpcServer.Serve(listener); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	case err := <-serverErrCh:
		return err
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("Starting graceful shutdown")
	if healthServer != nil {
		healthServer.Shutdown()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := flightSrv.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error closing Flight server")
	}
	gracefulStop(shutdownCtx, grpcServer)

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}

// newGRPCServer registers the Flight, health and reflection services behind
// the middleware chain.
func newGRPCServer(cfg *config.Config, flightSrv *server.FlightServer, logger zerolog.Logger, collector metrics.Collector) (*grpc.Server, *health.Server, error) {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.Flight.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.Flight.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if cfg.Flight.MaxStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(cfg.Flight.MaxStreams))
	}

	if cfg.Flight.TLS.Enabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.Flight.TLS.CertFile, cfg.Flight.TLS.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	opts = append(opts, middleware.ServerOptions(cfg.Flight.Auth, logger, collector)...)

	grpcServer := grpc.NewServer(opts...)
	flightSrv.Register(grpcServer)

	var healthServer *health.Server
	if cfg.Flight.Health {
		healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus(flightServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	if cfg.Flight.Reflection {
		reflection.Register(grpcServer)
	}

	return grpcServer, healthServer, nil
}

// gracefulStop waits for in-flight calls until ctx ends, then forces the stop.
func gracefulStop(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}

// watchConfig applies log level changes from the config file while serving.
func watchConfig(a *app, logger zerolog.Logger) {
	a.v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		level := parseLevel(a.v.GetString("log_level"))
		if level == zerolog.GlobalLevel() {
			return
		}
		zerolog.SetGlobalLevel(level)
		logger.WithLevel(level).Str("file", ev.Name).Str("level", level.String()).Msg("Log level reloaded")
	})
	a.v.WatchConfig()
}
