package middleware

import (
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
)

// ServerOptions chains recovery, logging, metrics and auth in that order.
func ServerOptions(auth config.AuthConfig, logger zerolog.Logger, collector metrics.Collector) []grpc.ServerOption {
	recoverMW := NewRecoveryMiddleware(logger.With().Str("component", "recovery_middleware").Logger())
	logMW := NewLoggingMiddleware(logger.With().Str("component", "logging_middleware").Logger())
	metricsMW := NewMetricsMiddleware(collector)
	authMW := NewAuthMiddleware(auth, logger.With().Str("component", "auth_middleware").Logger())

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recoverMW.UnaryInterceptor(),
			logMW.UnaryInterceptor(),
			metricsMW.UnaryInterceptor(),
			authMW.UnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recoverMW.StreamInterceptor(),
			logMW.StreamInterceptor(),
			metricsMW.StreamInterceptor(),
			authMW.StreamInterceptor(),
		),
	}
}
