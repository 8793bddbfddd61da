// File: internal/session/session.go

// Package session owns the identity lifecycle: bootstrap, guest and
// credentialed sign-in, sign-out, and the rule that a persisted identity from
// a previous run is never silently resumed.
package session

import (
	"context"
	"log"
	"sync"

	"watchdeck/internal/apperr"
	"watchdeck/internal/auth"
	"watchdeck/internal/config"
	"watchdeck/internal/dispatch"
)

type Phase string

const (
	Uninitialized   Phase = "uninitialized"
	Bootstrapping   Phase = "bootstrapping"
	Unauthenticated Phase = "unauthenticated"
	Authenticating  Phase = "authenticating"
	Authenticated   Phase = "authenticated"
	Fatal           Phase = "fatal"
)

type CredentialMode string

const (
	ModeLogin  CredentialMode = "login"
	ModeSignUp CredentialMode = "signup"
)

// Session is the externally visible state. Identity is non-nil exactly when
// Phase is Authenticated.
type Session struct {
	Phase     Phase
	Identity  *auth.Identity
	LastError error
}

// Manager drives the session state machine. Sign-in operations only request
// a transition; the provider's identity-change listener is the single source
// of truth that confirms it, so "what we asked for" and "what the provider
// holds" cannot diverge.
type Manager struct {
	svc        auth.Service
	loop       *dispatch.Loop
	guestToken string

	mu           sync.RWMutex
	cur          Session
	observers    map[int]func(Session)
	nextObs      int
	cancelListen func()
}

func NewManager(svc auth.Service, loop *dispatch.Loop, guestToken string) *Manager {
	return &Manager{
		svc:        svc,
		loop:       loop,
		guestToken: guestToken,
		cur:        Session{Phase: Uninitialized},
		observers:  make(map[int]func(Session)),
	}
}

func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Subscribe registers an observer for session transitions. Observers run on
// the dispatch loop, in transition order. Cancel is idempotent.
func (m *Manager) Subscribe(fn func(Session)) (cancel func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Bootstrap validates cfg, opens the auth connection, discards any persisted
// identity, and attaches the lifelong identity listener. The app always
// starts Unauthenticated, whatever the provider retained.
func (m *Manager) Bootstrap(ctx context.Context, cfg config.Config) error {
	m.mu.Lock()
	if m.cur.Phase != Uninitialized {
		m.mu.Unlock()
		return apperr.New(apperr.Configuration, "bootstrap may only run once")
	}
	m.setLocked(Session{Phase: Bootstrapping})
	m.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		m.mu.Lock()
		m.setLocked(Session{Phase: Fatal, LastError: err})
		m.mu.Unlock()
		return err
	}

	prior, err := m.svc.Resume(ctx)
	if err != nil {
		// Not a config problem, so not fatal: the session is still usable,
		// sign-in attempts will surface their own errors.
		log.Printf("[session] resume check failed: %v", err)
	}
	if prior != nil {
		log.Printf("[session] discarding persisted identity %s", prior.ID)
		if err := m.svc.SignOut(ctx); err != nil {
			log.Printf("[session] forced sign-out failed: %v", err)
		}
	}

	m.cancelListen = m.svc.OnIdentityChanged(func(id *auth.Identity) {
		m.loop.Post(func() { m.onIdentityChanged(id) })
	})

	m.mu.Lock()
	m.setLocked(Session{Phase: Unauthenticated})
	m.mu.Unlock()
	return nil
}

// SignInGuest signs in with the configured one-time token when present,
// falling back to anonymous sign-in when it is not.
func (m *Manager) SignInGuest(ctx context.Context) error {
	if err := m.beginSignIn(); err != nil {
		return err
	}
	var err error
	if m.guestToken != "" {
		_, err = m.svc.SignInWithToken(ctx, m.guestToken)
	} else {
		_, err = m.svc.SignInAnonymously(ctx)
	}
	return m.finishSignIn(err)
}

func (m *Manager) SignInWithCredentials(ctx context.Context, email, password string, mode CredentialMode) error {
	if email == "" || password == "" {
		return apperr.New(apperr.Auth, "email and password are required")
	}
	if err := m.beginSignIn(); err != nil {
		return err
	}
	var err error
	if mode == ModeSignUp {
		_, err = m.svc.SignUpWithEmail(ctx, email, password)
	} else {
		_, err = m.svc.SignInWithEmail(ctx, email, password)
	}
	return m.finishSignIn(err)
}

// SignOut tears down the identity and returns to Unauthenticated regardless
// of whether the provider call succeeds.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	switch m.cur.Phase {
	case Uninitialized, Bootstrapping, Fatal:
		phase := m.cur.Phase
		m.mu.Unlock()
		return apperr.Newf(apperr.Auth, "cannot sign out while %s", phase)
	}
	m.mu.Unlock()

	err := m.svc.SignOut(ctx)
	m.mu.Lock()
	m.setLocked(Session{Phase: Unauthenticated})
	m.mu.Unlock()
	if err != nil {
		return apperr.Wrap(apperr.Auth, "sign-out reported an error", err)
	}
	return nil
}

func (m *Manager) Close() {
	if m.cancelListen != nil {
		m.cancelListen()
	}
}

func (m *Manager) beginSignIn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.cur.Phase {
	case Authenticating:
		return apperr.New(apperr.Auth, "a sign-in is already in progress")
	case Authenticated:
		return apperr.New(apperr.Auth, "already signed in")
	case Unauthenticated:
	default:
		return apperr.Newf(apperr.Auth, "cannot sign in while %s", m.cur.Phase)
	}
	m.setLocked(Session{Phase: Authenticating})
	return nil
}

// finishSignIn records a failure; on success it leaves the phase alone and
// lets the identity listener confirm Authenticated.
func (m *Manager) finishSignIn(err error) error {
	if err == nil {
		return nil
	}
	if !apperr.IsKind(err, apperr.Auth) {
		err = apperr.Wrap(apperr.Auth, "sign-in failed", err)
	}
	m.mu.Lock()
	// The failed attempt may already have been superseded by the listener.
	if m.cur.Phase == Authenticating {
		m.setLocked(Session{Phase: Unauthenticated, LastError: err})
	}
	m.mu.Unlock()
	return err
}

// onIdentityChanged runs on the dispatch loop.
func (m *Manager) onIdentityChanged(id *auth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != nil {
		m.setLocked(Session{Phase: Authenticated, Identity: id})
		return
	}
	if m.cur.Phase == Authenticated {
		m.setLocked(Session{Phase: Unauthenticated})
	}
}

// setLocked swaps the session and schedules observer fanout on the loop.
// Callers hold m.mu.
func (m *Manager) setLocked(s Session) {
	m.cur = s
	fns := make([]func(Session), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.loop.Post(func() {
		for _, fn := range fns {
			fn(s)
		}
	})
}
