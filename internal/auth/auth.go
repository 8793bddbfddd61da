// File: internal/auth/auth.go

// Package auth defines the identity provider contract the session manager
// drives, plus the HTTP-backed client that talks to the real provider.
package auth

import "context"

type Kind string

const (
	Anonymous    Kind = "anonymous"
	Credentialed Kind = "credentialed"
	GuestToken   Kind = "guest_token"
)

// Identity is an opaque principal issued by the provider. Immutable once
// issued; every sign-in/sign-out produces a new value, never a mutation.
type Identity struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Service is the auth collaborator. Failures are always reported through the
// returned error, never swallowed. OnIdentityChanged delivers nil on
// sign-out; the returned cancel is safe to call more than once.
type Service interface {
	// Resume reports the identity the provider retained from a previous
	// process, or nil if none exists.
	Resume(ctx context.Context) (*Identity, error)

	SignInAnonymously(ctx context.Context) (Identity, error)
	SignInWithToken(ctx context.Context, token string) (Identity, error)
	SignInWithEmail(ctx context.Context, email, password string) (Identity, error)
	SignUpWithEmail(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error

	OnIdentityChanged(fn func(*Identity)) (cancel func())
}
