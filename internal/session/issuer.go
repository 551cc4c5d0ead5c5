// Package session mints and validates the signed, self-contained tokens that
// prove a prior successful authentication.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/visioncare/telehealth/internal/identity"
)

// DefaultTTL is the lifetime of a session token.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrTokenInvalid is returned for malformed, tampered or foreign tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned once a token has reached its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// tokenClaims is the JWT payload.
type tokenClaims struct {
	jwt.RegisteredClaims
	Role identity.Role `json:"role"`
}

// Claims is the decoded content of a valid token.
type Claims struct {
	IdentityID string
	Role       identity.Role
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Token is a freshly signed token with its claims.
type Token struct {
	Value string
	Claims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// NewIssuer returns an Issuer signing with secret and stamping issuer as iss.
func NewIssuer(secret []byte, issuer string, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: signing secret is required")
	}
	i := &Issuer{secret: secret, issuer: issuer, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	return i, nil
}

// TTL reports the token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for identityID carrying role.
func (i *Issuer) Issue(identityID string, role identity.Role) (Token, error) {
	if identityID == "" || !role.Valid() {
		return Token{}, fmt.Errorf("session: cannot issue token for %q with role %q", identityID, role)
	}
	jti, err := generateJTI()
	if err != nil {
		return Token{}, err
	}
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("session: sign token: %w", err)
	}
	return Token{
		Value:  signed,
		Claims: Claims{IdentityID: identityID, Role: role, IssuedAt: issuedAt, ExpiresAt: expiresAt},
	}, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// A token is expired from the instant of its expiry onwards.
func (i *Issuer) Verify(token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := i.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() || claims.IssuedAt == nil {
		return Claims{}, ErrTokenInvalid
	}
	return Claims{
		IdentityID: claims.Subject,
		Role:       claims.Role,
		IssuedAt:   claims.IssuedAt.Time.UTC(),
		ExpiresAt:  claims.ExpiresAt.Time.UTC(),
	}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
