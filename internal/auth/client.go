// File: internal/auth/client.go
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"watchdeck/internal/apperr"
)

// Client talks to the remote auth endpoint over HTTP/JSON. It caches the
// provider's current identity and fans identity transitions out to listeners.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu        sync.RWMutex
	current   *Identity
	listeners map[int]func(*Identity)
	nextID    int
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		listeners: make(map[int]func(*Identity)),
	}
}

func (c *Client) Resume(ctx context.Context) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/auth/session", nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Auth, "resume session", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Auth, "resume session", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.Auth, "resume session: status %d", resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, apperr.Wrap(apperr.Auth, "resume session: decode", err)
	}
	c.setCurrent(&id)
	return &id, nil
}

func (c *Client) SignInAnonymously(ctx context.Context) (Identity, error) {
	return c.signIn(ctx, "/v1/auth/anonymous", nil, "anonymous sign-in failed")
}

func (c *Client) SignInWithToken(ctx context.Context, token string) (Identity, error) {
	// Reject a structurally bad or expired token locally before the round trip.
	if err := InspectGuestToken(token); err != nil {
		return Identity{}, err
	}
	body := map[string]string{"token": token}
	return c.signIn(ctx, "/v1/auth/token", body, "guest token sign-in failed")
}

func (c *Client) SignInWithEmail(ctx context.Context, email, password string) (Identity, error) {
	body := map[string]string{"email": email, "password": password}
	return c.signIn(ctx, "/v1/auth/login", body, "sign-in failed")
}

func (c *Client) SignUpWithEmail(ctx context.Context, email, password string) (Identity, error) {
	body := map[string]string{"email": email, "password": password}
	return c.signIn(ctx, "/v1/auth/signup", body, "sign-up failed")
}

func (c *Client) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/signout", nil)
	if err != nil {
		return apperr.Wrap(apperr.Auth, "sign-out failed", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Auth, "sign-out failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apperr.Newf(apperr.Auth, "sign-out failed: status %d", resp.StatusCode)
	}
	c.setCurrent(nil)
	return nil
}

func (c *Client) OnIdentityChanged(fn func(*Identity)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) signIn(ctx context.Context, path string, body map[string]string, failMsg string) (Identity, error) {
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Auth, failMsg, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Auth, failMsg, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, apperr.Newf(apperr.Auth, "%s: status %d", failMsg, resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, apperr.Wrap(apperr.Auth, failMsg+": decode", err)
	}
	if id.ID == "" {
		return Identity{}, apperr.New(apperr.Auth, failMsg+": empty identity")
	}
	c.setCurrent(&id)
	return id, nil
}

// setCurrent swaps the cached identity and notifies listeners when the
// principal actually changed.
func (c *Client) setCurrent(id *Identity) {
	c.mu.Lock()
	prev := c.current
	if sameIdentity(prev, id) {
		c.mu.Unlock()
		return
	}
	c.current = id
	fns := make([]func(*Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Kind == b.Kind
}
