// Package authz admits or rejects requests to protected functionality based
// on a session token and composable role policies.
package authz

import (
	"errors"
	"fmt"

	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/metrics"
	"github.com/visioncare/telehealth/internal/session"
)

var (
	// ErrUnauthenticated is returned for missing, invalid or expired tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when a valid principal fails a policy.
	ErrForbidden = errors.New("forbidden")
)

// Principal is the authenticated caller.
type Principal struct {
	IdentityID string
	Role       identity.Role
}

// Policy is a capability check run against an authenticated principal. It
// returns nil to admit and ErrForbidden (possibly wrapped) to reject.
type Policy func(Principal) error

// RequireRole admits principals holding role.
func RequireRole(role identity.Role) Policy {
	return RequireAnyRole(role)
}

// RequireAnyRole admits principals holding any of roles.
func RequireAnyRole(roles ...identity.Role) Policy {
	allowed := make(map[identity.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(p Principal) error {
		if _, ok := allowed[p.Role]; ok {
			return nil
		}
		return fmt.Errorf("%w: role %s not permitted", ErrForbidden, p.Role)
	}
}

// RequireSelf admits only the principal whose identity is id.
func RequireSelf(id string) Policy {
	return func(p Principal) error {
		if p.IdentityID == id {
			return nil
		}
		return fmt.Errorf("%w: not the owner", ErrForbidden)
	}
}

// AnyOf admits when at least one of policies admits.
func AnyOf(policies ...Policy) Policy {
	return func(p Principal) error {
		for _, policy := range policies {
			if policy(p) == nil {
				return nil
			}
		}
		return ErrForbidden
	}
}

// TokenVerifier decodes session tokens.
type TokenVerifier interface {
	Verify(token string) (session.Claims, error)
}

// Gate is the authorization gate.
type Gate struct {
	tokens  TokenVerifier
	metrics *metrics.Auth
}

// NewGate builds a Gate on top of a token verifier. am may be nil.
func NewGate(tokens TokenVerifier, am *metrics.Auth) *Gate {
	return &Gate{tokens: tokens, metrics: am}
}

// Authorize verifies token and applies every policy in order.
func (g *Gate) Authorize(token string, policies ...Policy) (Principal, error) {
	claims, err := g.tokens.Verify(token)
	if err != nil {
		g.metrics.Denied("unauthenticated")
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	p := Principal{IdentityID: claims.IdentityID, Role: claims.Role}
	for _, policy := range policies {
		if err := policy(p); err != nil {
			g.metrics.Denied("forbidden")
			if !errors.Is(err, ErrForbidden) {
				err = fmt.Errorf("%w: %w", ErrForbidden, err)
			}
			return Principal{}, err
		}
	}
	return p, nil
}
