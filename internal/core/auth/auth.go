// Package auth guards the gRPC and HTTP servers with static API keys.
//
// Configured keys are never kept in memory: the Authenticator stores only an
// HMAC-SHA256 digest per key ID, under a secret generated at startup.
package auth

import (
	"context"
	"crypto/rand"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// HeaderName carries the API key: gRPC metadata key and HTTP header.
const HeaderName = "x-api-key"

type contextKey string

const keyIDKey = contextKey("key_id")

// Authenticator validates API keys.
type Authenticator struct {
	secret  []byte
	digests map[string][]byte
}

// NewAuthenticator accepts the given keys. It returns nil, nil when keys is
// empty, meaning authentication is disabled.
func NewAuthenticator(keys []string) (*Authenticator, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate hmac secret: %w", err)
	}

	a := &Authenticator{secret: secret, digests: make(map[string][]byte, len(keys))}
	for i, k := range keys {
		id, _, err := ParseAPIKey(k)
		if err != nil {
			return nil, fmt.Errorf("api key %d: %w", i, err)
		}
		if _, dup := a.digests[id]; dup {
			return nil, fmt.Errorf("api key %d: duplicate key id %s", i, id)
		}
		a.digests[id] = ComputeHMAC(secret, k)
	}
	return a, nil
}

// Authenticate validates apiKey and returns its key ID.
func (a *Authenticator) Authenticate(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingKey
	}
	id, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}
	expected, ok := a.digests[id]
	if !ok || !VerifyHMAC(expected, ComputeHMAC(a.secret, apiKey)) {
		return "", ErrInvalidKey
	}
	return id, nil
}

// UnaryInterceptor authenticates gRPC calls. Health checks pass through.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod == "/grpc.health.v1.Health/Check" {
			return handler(ctx, req)
		}

		var key string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(HeaderName); len(vals) > 0 {
				key = vals[0]
			}
		}
		id, err := a.Authenticate(key)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithKeyID(ctx, id), req)
	}
}

// WithKeyID records the authenticated key ID on ctx.
func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyIDKey, id)
}

// KeyIDFromContext returns the authenticated key ID, or "".
func KeyIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(keyIDKey).(string); ok {
		return id
	}
	return ""
}
