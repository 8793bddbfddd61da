// File: internal/view/store.go

// Package view derives the UI-facing state from subscription snapshots and
// optimistic mutation outcomes, and holds the transient status message.
package view

import (
	"sync"

	"watchdeck/internal/alertfeed"
)

// State is what the presentation layer renders. Pending is true while an
// optimistic watchlist value has not yet been superseded by a snapshot.
type State struct {
	Watchlist []string           `json:"watchlist"`
	Alerts    []alertfeed.Record `json:"alerts"`
	Pending   bool               `json:"pending"`
}

// Store keeps the current derived state and fans changes out to observers.
// Reconciliation rule: an optimistic list is visible immediately; any newer
// snapshot for the resource supersedes it, whether or not the values match.
type Store struct {
	mu        sync.RWMutex
	state     State
	observers map[int]func(State)
	nextObs   int
}

func NewStore() *Store {
	return &Store{observers: make(map[int]func(State))}
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// ApplyWatchlist applies a confirmed snapshot; it supersedes any optimistic
// value.
func (s *Store) ApplyWatchlist(tickers []string) {
	s.mu.Lock()
	s.state.Watchlist = append([]string(nil), tickers...)
	s.state.Pending = false
	s.notifyLocked()
}

// ApplyOptimisticWatchlist shows a locally mutated list ahead of remote
// confirmation.
func (s *Store) ApplyOptimisticWatchlist(tickers []string) {
	s.mu.Lock()
	s.state.Watchlist = append([]string(nil), tickers...)
	s.state.Pending = true
	s.notifyLocked()
}

func (s *Store) ApplyAlerts(rs []alertfeed.Record) {
	s.mu.Lock()
	s.state.Alerts = append([]alertfeed.Record(nil), rs...)
	s.notifyLocked()
}

// Reset clears everything on identity teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{}
	s.notifyLocked()
}

// notifyLocked snapshots observers and state, then unlocks before calling out.
func (s *Store) notifyLocked() {
	st := s.copyLocked()
	fns := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *Store) copyLocked() State {
	return State{
		Watchlist: append([]string(nil), s.state.Watchlist...),
		Alerts:    append([]alertfeed.Record(nil), s.state.Alerts...),
		Pending:   s.state.Pending,
	}
}
