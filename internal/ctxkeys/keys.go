// Package ctxkeys defines context keys for passing data through the request pipeline.
// All context keys are unexported to prevent collisions. Use the With*/From accessor pairs.
package ctxkeys

import (
	"context"
	"time"
)

// ── Key types (unexported, collision-proof) ──

type requestMetaKey struct{}
type authInfoKey struct{}

// ── Data types ──

// RequestMeta holds transport-level facts captured when a request enters the
// gateway, before any body parsing or actor resolution.
type RequestMeta struct {
	ClientIP   string
	UserAgent  string
	ReceivedAt time.Time
}

// AuthInfo holds the raw credential extracted by the gateway middleware.
// Scheme is "bearer" for Authorization headers and "reference" when the caller
// supplied an actor_reference in the request body; Credential is the opaque
// value handed to the identity provider, never interpreted by the gateway.
type AuthInfo struct {
	Scheme     string
	Credential string
}

// ── Getter/Setter (With*/From pattern) ──

// WithRequestMeta stores RequestMeta in the context.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom retrieves RequestMeta from the context.
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

// WithAuthInfo stores AuthInfo in the context.
func WithAuthInfo(ctx context.Context, info AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey{}, info)
}

// AuthInfoFrom retrieves AuthInfo from the context.
func AuthInfoFrom(ctx context.Context) (AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey{}).(AuthInfo)
	return info, ok
}
