// Package identity resolves caller credentials into authenticated actors.
// The gateway extracts a credential (bearer token or actor reference) and hands
// it to a Provider; everything downstream of Resolve works with the returned
// actor snapshot and never sees the raw credential again.
package identity

import (
	"context"

	"github.com/cliniguard/cliniguard/internal/actor"
)

// Provider turns an opaque credential into a fully-formed actor. A failed
// resolution returns an error wrapping ErrAuthentication; providers never
// return partial actors.
type Provider interface {
	Resolve(ctx context.Context, credential string) (actor.Actor, error)
}
