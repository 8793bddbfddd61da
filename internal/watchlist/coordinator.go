// File: internal/watchlist/coordinator.go
package watchlist

import (
	"context"
	"log"
	"sync"
	"time"

	"watchdeck/internal/apperr"
	"watchdeck/internal/dispatch"
	"watchdeck/internal/store"
)

type MutationKind string

const (
	MutationAdd    MutationKind = "add"
	MutationRemove MutationKind = "remove"
)

// pendingMutation tracks one queued list edit: the list it was built on and
// the list it optimistically produced.
type pendingMutation struct {
	kind       MutationKind
	ticker     string
	prior      []string
	optimistic []string
}

// Coordinator validates and applies watchlist mutations: optimistic local
// publish first, then a merge write of the ticker field, rolling back on
// failure. Mutations for the bound resource are strictly serialized — one in
// flight, the rest queued FIFO — so near-simultaneous edits can never
// overwrite each other from stale reads.
type Coordinator struct {
	st           store.Store
	loop         *dispatch.Loop
	writeTimeout time.Duration

	// onOptimistic publishes the locally visible list; onResult reports the
	// outcome of each mutation. Both run on the dispatch loop or the caller.
	onOptimistic func(tickers []string)
	onResult     func(kind MutationKind, ticker string, err error)

	mu        sync.Mutex
	path      string
	owner     string
	confirmed []string
	queue     []*pendingMutation
	inFlight  bool
}

func NewCoordinator(st store.Store, loop *dispatch.Loop, onOptimistic func([]string), onResult func(MutationKind, string, error)) *Coordinator {
	return &Coordinator{
		st:           st,
		loop:         loop,
		writeTimeout: 10 * time.Second,
		onOptimistic: onOptimistic,
		onResult:     onResult,
	}
}

// Bind points the coordinator at a new owner's document. Anything still
// queued belonged to the previous identity and is dropped.
func (c *Coordinator) Bind(path, owner string) {
	c.mu.Lock()
	if n := len(c.queue); n > 0 {
		log.Printf("[watchlist] dropping %d queued mutation(s) on rebind", n)
	}
	c.path = path
	c.owner = owner
	c.confirmed = nil
	c.queue = nil
	c.inFlight = false
	c.mu.Unlock()
}

// ApplySnapshot records the server-confirmed list. Snapshots are
// authoritative; queued mutations still write the lists they computed
// (last-writer-wins on the server side).
func (c *Coordinator) ApplySnapshot(doc Document) {
	c.mu.Lock()
	c.confirmed = append([]string(nil), doc.Tickers...)
	c.mu.Unlock()
}

// PendingCount reports queued plus in-flight mutations.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// AddTicker validates raw against the latest locally visible list before any
// remote call: non-empty after trim/uppercase, not already present, cap not
// reached.
func (c *Coordinator) AddTicker(raw string) error {
	t := NormalizeTicker(raw)
	c.mu.Lock()
	if c.path == "" {
		c.mu.Unlock()
		return apperr.New(apperr.Auth, "sign in to use the watchlist")
	}
	if t == "" {
		c.mu.Unlock()
		return apperr.New(apperr.Validation, "ticker is empty")
	}
	base := c.visibleLocked()
	if contains(base, t) {
		c.mu.Unlock()
		return apperr.Newf(apperr.Validation, "%s is already on the watchlist", t)
	}
	if len(base) >= MaxTickers {
		c.mu.Unlock()
		return apperr.Newf(apperr.Validation, "watchlist is full (%d tickers max)", MaxTickers)
	}
	optimistic := append(append([]string(nil), base...), t)
	c.enqueueLocked(&pendingMutation{kind: MutationAdd, ticker: t, prior: base, optimistic: optimistic})
	return nil
}

// RemoveTicker filters the ticker out. Removing one that is not present
// leaves the list unchanged and still reports success.
func (c *Coordinator) RemoveTicker(raw string) error {
	t := NormalizeTicker(raw)
	c.mu.Lock()
	if c.path == "" {
		c.mu.Unlock()
		return apperr.New(apperr.Auth, "sign in to use the watchlist")
	}
	if t == "" {
		c.mu.Unlock()
		return apperr.New(apperr.Validation, "ticker is empty")
	}
	base := c.visibleLocked()
	optimistic := make([]string, 0, len(base))
	for _, s := range base {
		if s != t {
			optimistic = append(optimistic, s)
		}
	}
	c.enqueueLocked(&pendingMutation{kind: MutationRemove, ticker: t, prior: base, optimistic: optimistic})
	return nil
}

// visibleLocked is the list a user currently sees: the tail of the optimistic
// chain, or the confirmed list when nothing is pending.
func (c *Coordinator) visibleLocked() []string {
	if n := len(c.queue); n > 0 {
		return c.queue[n-1].optimistic
	}
	return c.confirmed
}

// enqueueLocked publishes the optimistic list immediately and starts the
// write unless one is already in flight. Unlocks c.mu.
func (c *Coordinator) enqueueLocked(pm *pendingMutation) {
	c.queue = append(c.queue, pm)
	publish := append([]string(nil), pm.optimistic...)
	start := !c.inFlight
	if start {
		c.inFlight = true
	}
	c.mu.Unlock()

	if c.onOptimistic != nil {
		c.onOptimistic(publish)
	}
	if start {
		c.startWrite(pm)
	}
}

func (c *Coordinator) startWrite(pm *pendingMutation) {
	c.mu.Lock()
	path, owner := c.path, c.owner
	c.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		// Merge write: only the list fields are supplied, unrelated fields of
		// the document are untouched.
		err := c.st.WriteMerge(ctx, path, map[string]any{
			"owner_id":     owner,
			"tickers":      append([]string(nil), pm.optimistic...),
			"last_updated": time.Now().UTC().Format(time.RFC3339),
		})
		c.loop.Post(func() { c.complete(pm, err) })
	}()
}

// complete runs on the dispatch loop.
func (c *Coordinator) complete(pm *pendingMutation, err error) {
	c.mu.Lock()
	if len(c.queue) == 0 || c.queue[0] != pm {
		// Rebound while the write was in flight; outcome belongs to a
		// previous identity.
		c.mu.Unlock()
		return
	}
	c.queue = c.queue[1:]
	c.inFlight = false

	var publish []string
	var mErr error
	if err == nil {
		// Provisionally confirmed; the registry's own snapshot delivery will
		// replace this with the server's view.
		c.confirmed = append([]string(nil), pm.optimistic...)
	} else {
		mErr = apperr.Wrap(apperr.Mutation, "could not update the watchlist", err)
		// Roll back: rebuild what remains of the queue on the pre-mutation
		// list and publish the resulting tail.
		base := pm.prior
		for _, q := range c.queue {
			q.prior = base
			q.optimistic = reapply(base, q)
			base = q.optimistic
		}
		c.confirmed = append([]string(nil), pm.prior...)
		publish = append([]string(nil), base...)
	}

	var next *pendingMutation
	if len(c.queue) > 0 {
		next = c.queue[0]
		c.inFlight = true
	}
	c.mu.Unlock()

	if mErr != nil && c.onOptimistic != nil {
		c.onOptimistic(publish)
	}
	if c.onResult != nil {
		c.onResult(pm.kind, pm.ticker, mErr)
	}
	if next != nil {
		c.startWrite(next)
	}
}

// reapply recomputes a queued mutation against a new base after a rollback.
// Edits that no longer pass their preconditions leave the base unchanged.
func reapply(base []string, q *pendingMutation) []string {
	switch q.kind {
	case MutationAdd:
		if contains(base, q.ticker) || len(base) >= MaxTickers {
			return append([]string(nil), base...)
		}
		return append(append([]string(nil), base...), q.ticker)
	case MutationRemove:
		out := make([]string, 0, len(base))
		for _, s := range base {
			if s != q.ticker {
				out = append(out, s)
			}
		}
		return out
	}
	return append([]string(nil), base...)
}
