package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/cliniguard/cliniguard/internal/actor"
	"github.com/cliniguard/cliniguard/internal/config"
	gatewayerrors "github.com/cliniguard/cliniguard/internal/errors"
)

const jwksFetchTimeout = 10 * time.Second

// JWTProvider validates bearer tokens against a JWKS endpoint and maps claims
// onto an actor: "sub" becomes the actor id, and the role, organization and
// permissions claims are configurable. Without a JWKS URL signature
// verification is skipped and only claim validation (expiry, issuer, audience)
// applies; config validation rejects that for production use.
type JWTProvider struct {
	cfg    config.JWTIdentityConfig
	logger *slog.Logger
}

// NewJWTProvider creates a JWTProvider from configuration.
func NewJWTProvider(cfg config.JWTIdentityConfig, logger *slog.Logger) *JWTProvider {
	return &JWTProvider{cfg: cfg, logger: logger}
}

// Resolve parses and validates the credential as a JWT, then maps its claims
// to an actor.
func (p *JWTProvider) Resolve(ctx context.Context, credential string) (actor.Actor, error) {
	parseOpts := []jwt.ParseOption{jwt.WithValidate(true)}

	if p.cfg.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(p.cfg.Audience))
	}

	if p.cfg.JWKSURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
		defer cancel()

		keySet, err := jwk.Fetch(fetchCtx, p.cfg.JWKSURL)
		if err != nil {
			p.logger.Error("jwks fetch failed", "url", p.cfg.JWKSURL, "error", err)
			return actor.Actor{}, fmt.Errorf("%w: key set unavailable", gatewayerrors.ErrAuthentication)
		}
		parseOpts = append(parseOpts, jwt.WithKeySet(keySet))
	} else {
		parseOpts = append(parseOpts, jwt.WithVerify(false))
	}

	token, err := jwt.Parse([]byte(credential), parseOpts...)
	if err != nil {
		return actor.Actor{}, fmt.Errorf("%w: %v", gatewayerrors.ErrAuthentication, err)
	}

	return p.actorFromToken(token)
}

func (p *JWTProvider) actorFromToken(token jwt.Token) (actor.Actor, error) {
	sub := token.Subject()
	if sub == "" {
		return actor.Actor{}, fmt.Errorf("%w: token has no subject", gatewayerrors.ErrAuthentication)
	}

	roleStr, ok := stringClaim(token, p.cfg.RoleClaim)
	if !ok {
		return actor.Actor{}, fmt.Errorf("%w: token missing %q claim", gatewayerrors.ErrAuthentication, p.cfg.RoleClaim)
	}
	role, err := actor.ParseRole(roleStr)
	if err != nil {
		return actor.Actor{}, fmt.Errorf("%w: %v", gatewayerrors.ErrAuthentication, err)
	}

	org, _ := stringClaim(token, p.cfg.OrgClaim)

	a := actor.Actor{
		ID:           sub,
		Role:         role,
		Organization: org,
		Permissions:  permissionsClaim(token, p.cfg.PermissionsClaim),
	}
	if err := a.Validate(); err != nil {
		return actor.Actor{}, fmt.Errorf("%w: %v", gatewayerrors.ErrAuthentication, err)
	}
	return a, nil
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	v, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// permissionsClaim accepts either a JSON array of strings or a single string.
// Non-string entries are dropped; malformed grants never match at
// authorization time anyway.
func permissionsClaim(token jwt.Token, name string) []string {
	v, ok := token.Get(name)
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	case string:
		return []string{vv}
	}
	return nil
}
