// File: internal/store/remote.go
package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"watchdeck/internal/apperr"
)

// wire frame, both directions. Client sends auth/sub_doc/sub_col/unsub_doc/
// unsub_col/read/merge; server answers with doc/col/ack/err. Request frames
// carry a uuid in ID and the matching reply echoes it.
type frame struct {
	Ev     string         `json:"ev"`
	ID     string         `json:"id,omitempty"`
	Path   string         `json:"path,omitempty"`
	Key    string         `json:"key,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Docs   []wireDoc      `json:"docs,omitempty"`
	Exists bool           `json:"exists,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type wireDoc struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type subscription struct {
	path       string
	collection bool
	onDoc      func(Document)
	onCol      func(CollectionSnapshot)
	onErr      func(error)
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Remote is the websocket store client. One connection carries every
// subscription plus read/merge requests; on disconnect it redials with
// backoff and resubscribes whatever is still watched.
type Remote struct {
	wsURL  string
	apiKey string

	mu          sync.RWMutex
	docWatchers map[string]map[*subscription]struct{}
	colWatchers map[string]map[*subscription]struct{}
	pending     map[string]chan frame
	outbound    chan frame
}

func NewRemote(wsURL, apiKey string) *Remote {
	return &Remote{
		wsURL:       wsURL,
		apiKey:      apiKey,
		docWatchers: make(map[string]map[*subscription]struct{}),
		colWatchers: make(map[string]map[*subscription]struct{}),
		pending:     make(map[string]chan frame),
		outbound:    make(chan frame, 1024),
	}
}

func (r *Remote) SubscribeDocument(path string, onSnapshot func(Document), onError func(error)) CancelFunc {
	sub := &subscription{path: path, onDoc: onSnapshot, onErr: onError, done: make(chan struct{})}
	r.mu.Lock()
	first := len(r.docWatchers[path]) == 0
	if r.docWatchers[path] == nil {
		r.docWatchers[path] = make(map[*subscription]struct{})
	}
	r.docWatchers[path][sub] = struct{}{}
	r.mu.Unlock()
	if first {
		r.enqueue(frame{Ev: "sub_doc", Path: path})
	}
	return func() { r.unsubscribe(sub) }
}

func (r *Remote) SubscribeCollection(path string, onSnapshot func(CollectionSnapshot), onError func(error)) CancelFunc {
	sub := &subscription{path: path, collection: true, onCol: onSnapshot, onErr: onError, done: make(chan struct{})}
	r.mu.Lock()
	first := len(r.colWatchers[path]) == 0
	if r.colWatchers[path] == nil {
		r.colWatchers[path] = make(map[*subscription]struct{})
	}
	r.colWatchers[path][sub] = struct{}{}
	r.mu.Unlock()
	if first {
		r.enqueue(frame{Ev: "sub_col", Path: path})
	}
	return func() { r.unsubscribe(sub) }
}

// unsubscribe is idempotent: the subscription closes once and a second call
// finds it already removed from the watcher set.
func (r *Remote) unsubscribe(sub *subscription) {
	sub.close()
	watchers, unsubEv := r.docWatchers, "unsub_doc"
	if sub.collection {
		watchers, unsubEv = r.colWatchers, "unsub_col"
	}
	r.mu.Lock()
	ws := watchers[sub.path]
	last := false
	if _, present := ws[sub]; present {
		delete(ws, sub)
		if len(ws) == 0 {
			delete(watchers, sub.path)
			last = true
		}
	}
	r.mu.Unlock()
	if last {
		r.enqueue(frame{Ev: unsubEv, Path: sub.path})
	}
}

func (r *Remote) ReadOnce(ctx context.Context, path string) (Document, error) {
	reply, err := r.request(ctx, frame{Ev: "read", Path: path})
	if err != nil {
		return Document{}, err
	}
	if reply.Ev == "err" {
		return Document{}, apperr.Newf(apperr.Subscription, "read %s: %s", path, reply.Error)
	}
	return Document{ID: docID(path), Path: path, Exists: reply.Exists, Fields: reply.Fields}, nil
}

func (r *Remote) WriteMerge(ctx context.Context, path string, fields map[string]any) error {
	reply, err := r.request(ctx, frame{Ev: "merge", Path: path, Fields: fields})
	if err != nil {
		return err
	}
	if reply.Ev == "err" {
		return apperr.Newf(apperr.Mutation, "write %s: %s", path, reply.Error)
	}
	return nil
}

func (r *Remote) request(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)
	r.mu.Lock()
	r.pending[f.ID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, f.ID)
		r.mu.Unlock()
	}()

	select {
	case r.outbound <- f:
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

// enqueue never blocks; a full buffer is fine because the reconnect path
// replays subscriptions from the watcher maps anyway.
func (r *Remote) enqueue(f frame) {
	select {
	case r.outbound <- f:
	default:
	}
}

// Run keeps the connection alive until ctx is cancelled, redialing with
// exponential backoff up to 30s.
func (r *Remote) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := r.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[store] disconnected: %v", err)
		}
		r.failPending(apperr.New(apperr.Mutation, "store connection lost"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (r *Remote) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, r.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(frame{Ev: "auth", Key: r.apiKey}); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}

	// replay current subscriptions
	r.mu.RLock()
	for p := range r.docWatchers {
		_ = conn.WriteJSON(frame{Ev: "sub_doc", Path: p})
	}
	for p := range r.colWatchers {
		_ = conn.WriteJSON(frame{Ev: "sub_col", Path: p})
	}
	r.mu.RUnlock()

	ping := time.NewTicker(45 * time.Second)
	defer ping.Stop()

	errCh := make(chan error, 1)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				errCh <- err
				return
			}
			r.dispatch(f)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case f := <-r.outbound:
			_ = conn.WriteJSON(f)
		case err := <-errCh:
			return err
		}
	}
}

func (r *Remote) dispatch(f frame) {
	// replies to in-flight read/merge requests
	if f.ID != "" {
		r.mu.Lock()
		ch := r.pending[f.ID]
		delete(r.pending, f.ID)
		r.mu.Unlock()
		if ch != nil {
			ch <- f
		}
		return
	}
	switch f.Ev {
	case "doc":
		d := Document{ID: docID(f.Path), Path: f.Path, Exists: f.Exists, Fields: f.Fields}
		for _, sub := range r.watchersOf(r.docWatchers, f.Path) {
			select {
			case <-sub.done:
			default:
				if sub.onDoc != nil {
					sub.onDoc(d)
				}
			}
		}
	case "col":
		cs := CollectionSnapshot{Path: f.Path, Docs: make([]Document, 0, len(f.Docs))}
		for _, wd := range f.Docs {
			cs.Docs = append(cs.Docs, Document{ID: wd.ID, Path: f.Path + "/" + wd.ID, Exists: true, Fields: wd.Fields})
		}
		for _, sub := range r.watchersOf(r.colWatchers, f.Path) {
			select {
			case <-sub.done:
			default:
				if sub.onCol != nil {
					sub.onCol(cs)
				}
			}
		}
	case "err":
		err := apperr.Newf(apperr.Subscription, "listener failed for %s: %s", f.Path, f.Error)
		for _, sub := range r.watchersOf(r.docWatchers, f.Path) {
			if sub.onErr != nil {
				sub.onErr(err)
			}
		}
		for _, sub := range r.watchersOf(r.colWatchers, f.Path) {
			if sub.onErr != nil {
				sub.onErr(err)
			}
		}
	default:
		// ignore acks without ids and unknown events
	}
}

func (r *Remote) watchersOf(m map[string]map[*subscription]struct{}, path string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*subscription, 0, len(m[path]))
	for sub := range m[path] {
		out = append(out, sub)
	}
	return out
}

func (r *Remote) failPending(err *apperr.Error) {
	r.mu.Lock()
	for id, ch := range r.pending {
		ch <- frame{Ev: "err", ID: id, Error: err.Msg}
		delete(r.pending, id)
	}
	r.mu.Unlock()
}
