// Package middleware provides the HTTP middleware chain of the ledger API.
package middleware

import "context"

type contextKey string

const (
	callerKey   contextKey = "caller"
	verifiedKey contextKey = "verified"
)

// WithCaller attaches the authenticated caller identity to ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFrom returns the authenticated caller, or "".
func CallerFrom(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}

func withVerifiedCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(WithCaller(ctx, caller), verifiedKey, true)
}

// verifiedCaller returns the caller only when it came from a validated token.
func verifiedCaller(ctx context.Context) string {
	if ok, _ := ctx.Value(verifiedKey).(bool); !ok {
		return ""
	}
	return CallerFrom(ctx)
}
