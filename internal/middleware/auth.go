package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var (
	errMissingAuthorizationHeader = errors.New("missing authorization header")
	errInvalidAuthorizationHeader = errors.New("invalid authorization header")
	errNilValidator               = errors.New("token validator is nil")
)

// TokenValidator validates a bearer token and returns the name of the client
// it was issued to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Principal identifies the caller of an authenticated request.
type Principal struct {
	Client   string
	APIKeyID string
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
}

// WithOnAuthFailure registers a callback run on every rejected request.
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter throttles clients that keep presenting bad credentials.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

func newAuthConfig(opts []AuthOption) authConfig {
	var cfg authConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// reject records a failed attempt from ip and reports whether the client has
// now exceeded its budget. An empty ip is never limited.
func (c authConfig) reject(ip string) (limited bool) {
	if c.onFailure != nil {
		c.onFailure()
	}
	if c.rateLimiter == nil || ip == "" {
		return false
	}
	return !c.rateLimiter.RecordFailureAndAllow(ip)
}

// HTTPBearerAuthMiddleware requires a valid "Authorization: Bearer" header.
// Rejected requests get 401, or 429 once the client IP is rate limited.
func HTTPBearerAuthMiddleware(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := newAuthConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var headers []string
			if h := r.Header.Get("Authorization"); strings.TrimSpace(h) != "" {
				headers = []string{h}
			}

			principal, err := authenticate(r.Context(), validator, headers)
			if err != nil {
				if cfg.reject(ExtractIP(r.RemoteAddr)) {
					http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
					return
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// UnaryBearerAuthInterceptor is the unary gRPC form of
// [HTTPBearerAuthMiddleware]. Credentials come from "authorization" metadata.
func UnaryBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticateGRPC(ctx, validator, cfg)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamBearerAuthInterceptor authenticates catalog watch streams once, when
// they open.
func StreamBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticateGRPC(ss.Context(), validator, cfg)
		if err != nil {
			return err
		}
		return handler(srv, &authedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, validator TokenValidator, cfg authConfig) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	principal, err := authenticate(ctx, validator, md.Get("authorization"))
	if err != nil {
		if cfg.reject(grpcPeerIP(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "too many failed auth attempts")
		}
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return NewContextWithPrincipal(ctx, principal), nil
}

type authedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedServerStream) Context() context.Context {
	return s.ctx
}

// authenticate tries each Authorization value in turn and returns the
// principal for the first bearer token the validator accepts.
func authenticate(ctx context.Context, validator TokenValidator, headers []string) (Principal, error) {
	if validator == nil {
		return Principal{}, errNilValidator
	}
	if len(headers) == 0 {
		return Principal{}, errMissingAuthorizationHeader
	}

	lastErr := errInvalidAuthorizationHeader
	for _, header := range headers {
		token, err := parseBearerToken(header)
		if err != nil {
			continue
		}
		client, err := validator.ValidateToken(ctx, token)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(client) == "" {
			return Principal{}, errInvalidAuthorizationHeader
		}
		p := Principal{Client: client}
		if keyID, _, ok := SplitAPIKey(token); ok {
			p.APIKeyID = keyID
		}
		return p, nil
	}
	return Principal{}, lastErr
}

// parseBearerToken accepts exactly "Bearer <token>", scheme case-insensitive.
func parseBearerToken(header string) (string, error) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errInvalidAuthorizationHeader
	}
	return fields[1], nil
}

func grpcPeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return ExtractIP(p.Addr.String())
}

type principalKey struct{}

// NewContextWithPrincipal attaches p to ctx.
func NewContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ClientFromContext returns the authenticated client name.
func ClientFromContext(ctx context.Context) (string, bool) {
	p, _ := PrincipalFromContext(ctx)
	return p.Client, p.Client != ""
}

func NewContextWithClient(ctx context.Context, client string) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.Client = client
	return NewContextWithPrincipal(ctx, p)
}

// APIKeyIDFromContext returns the id half of the caller's API key.
func APIKeyIDFromContext(ctx context.Context) (string, bool) {
	p, _ := PrincipalFromContext(ctx)
	return p.APIKeyID, p.APIKeyID != ""
}

func NewContextWithAPIKeyID(ctx context.Context, keyID string) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.APIKeyID = keyID
	return NewContextWithPrincipal(ctx, p)
}
