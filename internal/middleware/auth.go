package middleware

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyHeader carries the key on both transports. HTTP callers may also
// send "Authorization: Bearer <key>".
const APIKeyHeader = "api-key"

// APIKeys validates callers against a fixed key set. An empty set lets
// every call through.
type APIKeys struct {
	valid map[string]bool
}

func NewAPIKeys(keys []string) *APIKeys {
	valid := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid[k] = true
		}
	}
	return &APIKeys{valid: valid}
}

func (a *APIKeys) Enabled() bool {
	return len(a.valid) > 0
}

func (a *APIKeys) checkMetadata(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	apiKeys := md.Get(APIKeyHeader)
	if len(apiKeys) == 0 {
		return status.Error(codes.Unauthenticated, "missing api-key")
	}
	if !a.valid[apiKeys[0]] {
		return status.Error(codes.Unauthenticated, "invalid api-key")
	}
	return nil
}

// UnaryInterceptor validates API keys from metadata.
func (a *APIKeys) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := a.checkMetadata(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor for streaming RPCs
func (a *APIKeys) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.checkMetadata(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// HTTP rejects requests without a valid key with 401.
func (a *APIKeys) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !a.valid[key] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"unauthorized","detail":"missing or invalid api-key"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
