package upstream

import (
	"context"
	"net/http"
)

type contextKey string

const (
	tokenKey     contextKey = "upstream_token"
	forwardedKey contextKey = "upstream_forwarded"
)

// forwardableHeaders are copied from the browser request onto upstream calls.
var forwardableHeaders = []string{"Cookie", "Accept-Language"}

// WithToken attaches a bearer token that every upstream request made with the
// returned context will carry.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the bearer token attached with WithToken.
func TokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(tokenKey).(string); ok {
		return token
	}
	return ""
}

// WithForwardedHeaders captures the credential-bearing headers of an incoming
// browser request so upstream calls can pass them through.
func WithForwardedHeaders(ctx context.Context, incoming http.Header) context.Context {
	forwarded := make(map[string]string, len(forwardableHeaders))
	for _, key := range forwardableHeaders {
		if value := incoming.Get(key); value != "" {
			forwarded[key] = value
		}
	}
	if len(forwarded) == 0 {
		return ctx
	}
	return context.WithValue(ctx, forwardedKey, forwarded)
}

func forwardedFromContext(ctx context.Context) map[string]string {
	if forwarded, ok := ctx.Value(forwardedKey).(map[string]string); ok {
		return forwarded
	}
	return nil
}
