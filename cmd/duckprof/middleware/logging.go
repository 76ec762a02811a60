package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingMiddleware logs one line per call.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// UnaryInterceptor returns a unary server interceptor for logging.
func (m *LoggingMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.event(ctx, err).
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Msg("Unary request")
		return resp, err
	}
}

// StreamInterceptor returns a stream server interceptor for logging.
func (m *LoggingMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		counted := &countingServerStream{ServerStream: ss}
		err := handler(srv, counted)
		m.event(ss.Context(), err).
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Int("messages_sent", counted.sent).
			Int("messages_received", counted.received).
			Msg("Stream request")
		return err
	}
}

// event picks the level from the outcome. Client cancellations stay at info.
func (m *LoggingMiddleware) event(ctx context.Context, err error) *zerolog.Event {
	code := status.Code(err)

	var ev *zerolog.Event
	switch code {
	case codes.OK, codes.Canceled:
		ev = m.logger.Info()
	case codes.InvalidArgument, codes.NotFound, codes.Unauthenticated, codes.Unimplemented:
		ev = m.logger.Warn().Err(err)
	default:
		ev = m.logger.Error().Err(err)
	}

	if user, ok := GetUser(ctx); ok {
		ev = ev.Str("user", user)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ev = ev.Str("peer", p.Addr.String())
	}
	return ev.Str("code", code.String())
}

// countingServerStream counts messages in both directions.
type countingServerStream struct {
	grpc.ServerStream
	sent     int
	received int
}

func (s *countingServerStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent++
	}
	return err
}

func (s *countingServerStream) RecvMsg(m interface{}) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.received++
	}
	return err
}
