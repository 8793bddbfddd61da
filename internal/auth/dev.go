// File: internal/auth/dev.go
package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"watchdeck/internal/apperr"
)

// Dev is an in-process Service for offline runs and tests: every sign-in
// succeeds and mints a fresh identity.
type Dev struct {
	mu        sync.Mutex
	current   *Identity
	listeners map[int]func(*Identity)
	nextID    int

	// Retained simulates a provider that kept a session from a previous run.
	Retained *Identity
}

func NewDev() *Dev {
	return &Dev{listeners: make(map[int]func(*Identity))}
}

func (d *Dev) Resume(context.Context) (*Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Retained != nil {
		d.current = d.Retained
		return d.Retained, nil
	}
	return nil, nil
}

func (d *Dev) SignInAnonymously(context.Context) (Identity, error) {
	return d.issue(Anonymous), nil
}

func (d *Dev) SignInWithToken(_ context.Context, token string) (Identity, error) {
	if err := InspectGuestToken(token); err != nil {
		return Identity{}, err
	}
	return d.issue(GuestToken), nil
}

func (d *Dev) SignInWithEmail(_ context.Context, email, password string) (Identity, error) {
	if email == "" || password == "" {
		return Identity{}, apperr.New(apperr.Auth, "email and password are required")
	}
	return d.issue(Credentialed), nil
}

func (d *Dev) SignUpWithEmail(ctx context.Context, email, password string) (Identity, error) {
	return d.SignInWithEmail(ctx, email, password)
}

func (d *Dev) SignOut(context.Context) error {
	d.set(nil)
	return nil
}

func (d *Dev) OnIdentityChanged(fn func(*Identity)) (cancel func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

func (d *Dev) issue(kind Kind) Identity {
	id := Identity{ID: uuid.NewString(), Kind: kind}
	d.set(&id)
	return id
}

func (d *Dev) set(id *Identity) {
	d.mu.Lock()
	d.current = id
	if id == nil {
		d.Retained = nil
	}
	fns := make([]func(*Identity), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}
