package assistant_http

import (
	"context"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"campus-assistant/internal/domain"
)

// identityClaims are the claims issued by the campus identity provider.
type identityClaims struct {
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

const adminRole = "admin"

// JWTIdentityProvider resolves HMAC-signed identity tokens.
type JWTIdentityProvider struct {
	secret []byte
	issuer string
	admins []string
}

// NewJWTIdentityProvider creates a provider. adminSubjects are granted
// administrator access in addition to tokens carrying the admin role.
func NewJWTIdentityProvider(secret, issuer string, adminSubjects ...string) *JWTIdentityProvider {
	return &JWTIdentityProvider{secret: []byte(secret), issuer: issuer, admins: adminSubjects}
}

var _ domain.IdentityProvider = (*JWTIdentityProvider)(nil)

// Authenticate validates the token and returns the caller. The subject claim
// becomes the identity key.
func (p *JWTIdentityProvider) Authenticate(_ context.Context, credential string) (*domain.Identity, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}
	if len(p.secret) == 0 {
		return nil, fmt.Errorf("%w: token secret not configured", domain.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	parsed, err := jwt.ParseWithClaims(credential, &identityClaims{}, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid claims", domain.ErrUnauthenticated)
	}

	return &domain.Identity{
		Key:           claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Admin:         slices.Contains(claims.Roles, adminRole) || slices.Contains(p.admins, claims.Subject),
	}, nil
}
