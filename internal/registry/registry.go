// File: internal/registry/registry.go

// Package registry keeps exactly one live subscription per owner-scoped
// resource — the watchlist document and the alerts collection — and rekeys
// both whenever the owning identity changes.
package registry

import (
	"log"
	"sync"

	"watchdeck/internal/auth"
	"watchdeck/internal/dispatch"
	"watchdeck/internal/store"
)

// Handlers receive snapshots and listener errors on the dispatch loop.
type Handlers struct {
	OnWatchlist func(owner string, d store.Document)
	OnAlerts    func(owner string, cs store.CollectionSnapshot)
	OnError     func(resource string, err error)
}

type resourceKey struct {
	Path    string
	OwnerID string
}

// state for one live resource. gen fences out deliveries that were already
// queued when the subscription was rekeyed, so a stale identity's listener
// can never populate the next identity's view.
type liveResource struct {
	key    *resourceKey
	cancel store.CancelFunc
	gen    int
}

type Registry struct {
	st        store.Store
	loop      *dispatch.Loop
	namespace string
	h         Handlers

	mu     sync.Mutex
	watch  liveResource
	alerts liveResource
}

func New(st store.Store, loop *dispatch.Loop, namespace string, h Handlers) *Registry {
	return &Registry{st: st, loop: loop, namespace: namespace, h: h}
}

func (r *Registry) WatchlistPath(owner string) string {
	return r.namespace + "/users/" + owner + "/watchlist"
}

func (r *Registry) AlertsPath(owner string) string {
	return r.namespace + "/users/" + owner + "/alerts"
}

// Rekey reconciles both subscriptions with the given identity: cancel first
// when the key changed, then open for the new key. A nil identity closes
// everything; an unchanged identity is a no-op, so redundant notifications
// never stack duplicate listeners.
func (r *Registry) Rekey(id *auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var wKey, aKey *resourceKey
	if id != nil {
		wKey = &resourceKey{Path: r.WatchlistPath(id.ID), OwnerID: id.ID}
		aKey = &resourceKey{Path: r.AlertsPath(id.ID), OwnerID: id.ID}
	}
	r.rekeyWatchlistLocked(wKey)
	r.rekeyAlertsLocked(aKey)
}

// Close tears down both subscriptions. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rekeyWatchlistLocked(nil)
	r.rekeyAlertsLocked(nil)
}

func (r *Registry) rekeyWatchlistLocked(key *resourceKey) {
	if sameKey(r.watch.key, key) {
		return
	}
	if r.watch.cancel != nil {
		r.watch.cancel()
		r.watch.cancel = nil
	}
	r.watch.key = key
	r.watch.gen++
	if key == nil {
		return
	}
	gen := r.watch.gen
	owner := key.OwnerID
	log.Printf("[registry] watchlist subscription open for %s", owner)
	r.watch.cancel = r.st.SubscribeDocument(key.Path,
		func(d store.Document) {
			r.loop.Post(func() {
				if !r.watchGenCurrent(gen) {
					return
				}
				r.h.OnWatchlist(owner, d)
			})
		},
		func(err error) {
			r.loop.Post(func() {
				if !r.watchGenCurrent(gen) {
					return
				}
				r.h.OnError("watchlist", err)
			})
		})
}

func (r *Registry) rekeyAlertsLocked(key *resourceKey) {
	if sameKey(r.alerts.key, key) {
		return
	}
	if r.alerts.cancel != nil {
		r.alerts.cancel()
		r.alerts.cancel = nil
	}
	r.alerts.key = key
	r.alerts.gen++
	if key == nil {
		return
	}
	gen := r.alerts.gen
	owner := key.OwnerID
	log.Printf("[registry] alerts subscription open for %s", owner)
	r.alerts.cancel = r.st.SubscribeCollection(key.Path,
		func(cs store.CollectionSnapshot) {
			r.loop.Post(func() {
				if !r.alertsGenCurrent(gen) {
					return
				}
				r.h.OnAlerts(owner, cs)
			})
		},
		func(err error) {
			r.loop.Post(func() {
				if !r.alertsGenCurrent(gen) {
					return
				}
				r.h.OnError("alerts", err)
			})
		})
}

func (r *Registry) watchGenCurrent(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watch.gen == gen
}

func (r *Registry) alertsGenCurrent(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerts.gen == gen
}

func sameKey(a, b *resourceKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
