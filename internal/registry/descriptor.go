// Package registry holds the set of invocable tools. Each descriptor names a
// capability requirement and an input contract; the registry is an explicit,
// injected mapping — registration is declarative, nothing is inferred from
// names or discovered by reflection.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cliniguard/cliniguard/internal/actor"
	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
	"github.com/cliniguard/cliniguard/internal/permission"
)

// Handler is the external operation implementation behind a tool. It receives
// the request context (carrying any caller deadline), the frozen actor
// snapshot and the contract-validated input. Handlers must not perform their
// own authorization; the dispatcher is the sole enforcement point.
type Handler func(ctx context.Context, act actor.Actor, input map[string]any) (any, error)

// Contract validates raw tool arguments. Validate returns the validated input
// (possibly normalized) or an error describing the violation; Summary is a
// short human-readable description surfaced by discovery.
type Contract interface {
	Validate(raw map[string]any) (map[string]any, error)
	Summary() string
}

// Descriptor describes one registered tool.
//
// RequiredPermission is a single "resource:action" pattern the calling actor
// must satisfy; empty marks a public tool, authorized for every caller.
// Category groups tools for discovery and filtering only — it never
// participates in authorization.
type Descriptor struct {
	Name               string
	Category           string
	Version            string
	Description        string
	RequiredPermission string
	Contract           Contract
	Handler            Handler
}

// validate checks a descriptor at registration time. Violations are
// configuration errors: fatal at startup, never surfaced mid-dispatch.
func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", gwerrors.ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Category) == "" {
		return fmt.Errorf("%w: tool %q: category is required", gwerrors.ErrInvalidDescriptor, d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: tool %q: handler is required", gwerrors.ErrInvalidDescriptor, d.Name)
	}
	if d.Contract == nil {
		return fmt.Errorf("%w: tool %q: input contract is required", gwerrors.ErrInvalidDescriptor, d.Name)
	}
	if d.RequiredPermission != "" {
		if err := permission.ValidatePattern(d.RequiredPermission); err != nil {
			return fmt.Errorf("tool %q: required_permission: %w", d.Name, err)
		}
	}
	if d.Version != "" {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return fmt.Errorf("%w: tool %q: version %q is not semver: %v", gwerrors.ErrInvalidDescriptor, d.Name, d.Version, err)
		}
	}
	return nil
}

// Public reports whether the tool requires no permission.
func (d Descriptor) Public() bool {
	return d.RequiredPermission == ""
}
