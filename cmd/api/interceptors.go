package main

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/wayfare/internal/auth"
)

// unary methods that don't require authentication. The server registers no
// authenticated streams, so Health/Watch is served without an interceptor.
var publicMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/List":  true,
}

// context key type for storing auth claims in context
type authContextKey struct{}

// getClaimsFromContext extracts auth claims from the context, if present.
func getClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	v := ctx.Value(authContextKey{})
	if v == nil {
		return nil, false
	}
	c, ok := v.(*auth.Claims)
	return c, ok
}

// claimsFromMetadata verifies the bearer token in the incoming metadata.
func claimsFromMetadata(ctx context.Context, j *auth.JWTManager) (*auth.Claims, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	if token == "" {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token")
	}

	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	return claims, nil
}

// authUnaryInterceptor enforces JWT authentication for every method except
// the health checks, and attaches the claims to the context.
func authUnaryInterceptor(j *auth.JWTManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		claims, err := claimsFromMetadata(ctx, j)
		if err != nil {
			return nil, err
		}
		return handler(context.WithValue(ctx, authContextKey{}, claims), req)
	}
}

// rateLimitKey buckets authenticated calls per user. The rate limiter runs
// after authUnaryInterceptor so the claims are already present.
func rateLimitKey(ctx context.Context) string {
	if c, ok := getClaimsFromContext(ctx); ok {
		return "user:" + c.UserID
	}
	return ""
}
