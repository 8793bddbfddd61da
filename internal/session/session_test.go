package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdeck/internal/apperr"
	"watchdeck/internal/auth"
	"watchdeck/internal/config"
	"watchdeck/internal/dispatch"
)

// fakeAuth scripts the provider: sign-ins can be made to fail or to block so
// tests can observe the Authenticating window.
type fakeAuth struct {
	mu        sync.Mutex
	retained  *auth.Identity
	current   *auth.Identity
	listeners map[int]func(*auth.Identity)
	nextID    int

	signInErr error
	gate      chan struct{} // when non-nil, sign-ins block until closed

	signOuts int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]func(*auth.Identity))}
}

func (f *fakeAuth) Resume(context.Context) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retained, nil
}

func (f *fakeAuth) SignInAnonymously(ctx context.Context) (auth.Identity, error) {
	return f.signIn(ctx, auth.Identity{ID: "anon-1", Kind: auth.Anonymous})
}

func (f *fakeAuth) SignInWithToken(ctx context.Context, _ string) (auth.Identity, error) {
	return f.signIn(ctx, auth.Identity{ID: "guest-1", Kind: auth.GuestToken})
}

func (f *fakeAuth) SignInWithEmail(ctx context.Context, _, _ string) (auth.Identity, error) {
	return f.signIn(ctx, auth.Identity{ID: "user-1", Kind: auth.Credentialed})
}

func (f *fakeAuth) SignUpWithEmail(ctx context.Context, email, pw string) (auth.Identity, error) {
	return f.SignInWithEmail(ctx, email, pw)
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.retained = nil
	f.mu.Unlock()
	f.notify(nil)
	return nil
}

func (f *fakeAuth) OnIdentityChanged(fn func(*auth.Identity)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuth) signIn(ctx context.Context, id auth.Identity) (auth.Identity, error) {
	f.mu.Lock()
	gate := f.gate
	err := f.signInErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return auth.Identity{}, ctx.Err()
		}
	}
	if err != nil {
		return auth.Identity{}, err
	}
	f.notify(&id)
	return id, nil
}

func (f *fakeAuth) notify(id *auth.Identity) {
	f.mu.Lock()
	f.current = id
	fns := make([]func(*auth.Identity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func validConfig() config.Config {
	var c config.Config
	c.Backend.WSURL = "wss://sync.example.com/v1/stream"
	c.Backend.APIKey = "k"
	c.Backend.Namespace = "ns"
	c.Auth.BaseURL = "https://auth.example.com"
	return c
}

// drain runs the queue twice: a loop task may itself post the observer
// fanout, which a single barrier would miss.
func drain(loop *dispatch.Loop) {
	loop.Sync()
	loop.Sync()
}

func newTestManager(t *testing.T, svc auth.Service, guestToken string) (*Manager, *dispatch.Loop) {
	t.Helper()
	loop := dispatch.NewLoop(256)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	m := NewManager(svc, loop, guestToken)
	t.Cleanup(m.Close)
	return m, loop
}

func TestBootstrapInvalidConfigIsFatal(t *testing.T) {
	m, loop := newTestManager(t, newFakeAuth(), "")
	var cfg config.Config // empty: invalid
	err := m.Bootstrap(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Configuration))
	loop.Sync()
	s := m.Current()
	assert.Equal(t, Fatal, s.Phase)
	assert.Nil(t, s.Identity)

	// the machine is halted: nothing else may run
	require.Error(t, m.SignInGuest(context.Background()))
	require.Error(t, m.Bootstrap(context.Background(), validConfig()))
}

func TestBootstrapDiscardsPersistedIdentity(t *testing.T) {
	f := newFakeAuth()
	f.retained = &auth.Identity{ID: "stale-user", Kind: auth.Credentialed}
	m, loop := newTestManager(t, f, "")

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))
	loop.Sync()

	s := m.Current()
	assert.Equal(t, Unauthenticated, s.Phase)
	assert.Nil(t, s.Identity)
	assert.Equal(t, 1, f.signOuts, "persisted identity must be signed out, not resumed")
}

func TestGuestSignInTransitions(t *testing.T) {
	f := newFakeAuth()
	m, loop := newTestManager(t, f, "")

	var phases []Phase
	cancel := m.Subscribe(func(s Session) { phases = append(phases, s.Phase) })
	defer cancel()

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))
	require.NoError(t, m.SignInGuest(context.Background()))
	drain(loop)

	s := m.Current()
	require.Equal(t, Authenticated, s.Phase)
	require.NotNil(t, s.Identity)
	assert.Equal(t, auth.Anonymous, s.Identity.Kind)
	assert.Equal(t, []Phase{Bootstrapping, Unauthenticated, Authenticating, Authenticated}, phases)
}

func TestGuestSignInPrefersToken(t *testing.T) {
	f := newFakeAuth()
	m, loop := newTestManager(t, f, "one-time-token")

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))
	require.NoError(t, m.SignInGuest(context.Background()))
	loop.Sync()

	s := m.Current()
	require.NotNil(t, s.Identity)
	assert.Equal(t, auth.GuestToken, s.Identity.Kind)
}

func TestSignInFailureReturnsToUnauthenticated(t *testing.T) {
	f := newFakeAuth()
	f.signInErr = errors.New("provider says no")
	m, loop := newTestManager(t, f, "")

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))
	err := m.SignInWithCredentials(context.Background(), "a@b.c", "pw", ModeLogin)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Auth))
	loop.Sync()

	s := m.Current()
	assert.Equal(t, Unauthenticated, s.Phase)
	assert.Nil(t, s.Identity)
	assert.Error(t, s.LastError)
}

func TestConcurrentSignInRejected(t *testing.T) {
	f := newFakeAuth()
	f.gate = make(chan struct{})
	m, loop := newTestManager(t, f, "")

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))

	firstDone := make(chan error, 1)
	go func() { firstDone <- m.SignInGuest(context.Background()) }()

	require.Eventually(t, func() bool {
		return m.Current().Phase == Authenticating
	}, time.Second, 5*time.Millisecond)

	// second submission while the first is in flight
	err := m.SignInWithCredentials(context.Background(), "a@b.c", "pw", ModeLogin)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Auth))

	close(f.gate)
	require.NoError(t, <-firstDone)
	loop.Sync()
	assert.Equal(t, Authenticated, m.Current().Phase)
}

func TestSignOutReturnsToUnauthenticated(t *testing.T) {
	f := newFakeAuth()
	m, loop := newTestManager(t, f, "")

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))
	require.NoError(t, m.SignInGuest(context.Background()))
	loop.Sync()
	require.Equal(t, Authenticated, m.Current().Phase)

	require.NoError(t, m.SignOut(context.Background()))
	loop.Sync()
	s := m.Current()
	assert.Equal(t, Unauthenticated, s.Phase)
	assert.Nil(t, s.Identity)
}

func TestIdentityInvariant(t *testing.T) {
	// identity != nil exactly when Authenticated, across every transition
	f := newFakeAuth()
	m, loop := newTestManager(t, f, "")

	var bad int
	cancel := m.Subscribe(func(s Session) {
		if (s.Identity != nil) != (s.Phase == Authenticated) {
			bad++
		}
	})
	defer cancel()

	require.NoError(t, m.Bootstrap(context.Background(), validConfig()))
	require.NoError(t, m.SignInGuest(context.Background()))
	drain(loop)
	require.NoError(t, m.SignOut(context.Background()))
	drain(loop)
	assert.Zero(t, bad)
}
