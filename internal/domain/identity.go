package domain

import "context"

// Identity is the authenticated caller.
type Identity struct {
	// Key is stable and used for throttling and session ownership.
	Key           string
	Email         string
	EmailVerified bool
	// Admin grants the throttle administration routes.
	Admin bool
}

// IdentityProvider resolves a bearer credential into an Identity.
type IdentityProvider interface {
	Authenticate(ctx context.Context, credential string) (*Identity, error)
}
