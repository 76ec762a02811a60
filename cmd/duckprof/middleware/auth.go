// Package middleware provides gRPC middleware for the duckprof Flight server.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/TFMV/duckprof/cmd/duckprof/config"
)

// Claims are the JWT claims accepted by the jwt auth type.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware provides authentication middleware.
type AuthMiddleware struct {
	config config.AuthConfig
	hsKey  []byte
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		hsKey:  []byte(cfg.JWTAuth.Secret),
		logger: logger,
	}
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (m *AuthMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipAuth(info.FullMethod) {
			return handler(ctx, req)
		}

		authCtx, err := m.authenticate(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return nil, err
		}
		return handler(authCtx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (m *AuthMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if skipAuth(info.FullMethod) {
			return handler(srv, ss)
		}

		authCtx, err := m.authenticate(ss.Context())
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return err
		}
		return handler(srv, &contextServerStream{ServerStream: ss, ctx: authCtx})
	}
}

// skipAuth exempts health checks and reflection.
func skipAuth(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.") || strings.HasPrefix(method, "/grpc.reflection.")
}

func (m *AuthMiddleware) authenticate(ctx context.Context) (context.Context, error) {
	if !m.config.Enabled {
		return ctx, nil
	}

	switch m.config.Type {
	case config.AuthBasic:
		return m.authenticateBasic(ctx)
	case config.AuthBearer:
		return m.authenticateBearer(ctx)
	case config.AuthJWT:
		return m.authenticateJWT(ctx)
	default:
		return nil, status.Errorf(codes.Internal, "unsupported auth type: %s", m.config.Type)
	}
}

// authorization returns the credentials following scheme in the authorization header.
func authorization(ctx context.Context, scheme string) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	headers := md.Get("authorization")
	if len(headers) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	prefix := scheme + " "
	if !strings.HasPrefix(headers[0], prefix) {
		return "", status.Error(codes.Unauthenticated, "invalid authorization header")
	}
	return strings.TrimPrefix(headers[0], prefix), nil
}

func (m *AuthMiddleware) authenticateBasic(ctx context.Context) (context.Context, error) {
	encoded, err := authorization(ctx, "Basic")
	if err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials encoding")
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials format")
	}

	user, ok := m.config.BasicAuth.Users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(user.Password)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	return withIdentity(ctx, username, user.Roles), nil
}

func (m *AuthMiddleware) authenticateBearer(ctx context.Context) (context.Context, error) {
	token, err := authorization(ctx, "Bearer")
	if err != nil {
		return nil, err
	}

	username, ok := m.config.BearerAuth.Tokens[token]
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return withIdentity(ctx, username, nil), nil
}

func (m *AuthMiddleware) authenticateJWT(ctx context.Context) (context.Context, error) {
	raw, err := authorization(ctx, "Bearer")
	if err != nil {
		return nil, err
	}

	claims, err := m.ParseToken(raw)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Rejected JWT")
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return withIdentity(ctx, claims.Subject, claims.Roles), nil
}

// ParseToken verifies an HMAC signed token against the configured issuer
// and audience. Tokens without an expiry or subject are rejected.
func (m *AuthMiddleware) ParseToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.JWTAuth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.JWTAuth.Issuer))
	}
	if m.config.JWTAuth.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.config.JWTAuth.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.hsKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return claims, nil
}

// IssueToken signs an HS256 token for user that expires after ttl.
func (m *AuthMiddleware) IssueToken(user string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			Issuer:    m.config.JWTAuth.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.config.JWTAuth.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.JWTAuth.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.hsKey)
}

type contextKey string

const (
	contextKeyUser  contextKey = "user"
	contextKeyRoles contextKey = "roles"
)

func withIdentity(ctx context.Context, user string, roles []string) context.Context {
	ctx = context.WithValue(ctx, contextKeyUser, user)
	if roles != nil {
		ctx = context.WithValue(ctx, contextKeyRoles, roles)
	}
	return ctx
}

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}

// GetRoles extracts the user's roles from context.
func GetRoles(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(contextKeyRoles).([]string)
	return roles, ok
}

// contextServerStream replaces the context of a ServerStream.
type contextServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextServerStream) Context() context.Context {
	return s.ctx
}
