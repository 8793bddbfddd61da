// File: internal/store/store.go

// Package store defines the owner-scoped document/collection store contract
// and its two implementations: the websocket-backed remote client and an
// in-memory store for tests and offline runs.
package store

import "context"

// CancelFunc releases a subscription. Always safe to call more than once.
type CancelFunc func()

// Document is a point-in-time snapshot of one remote document.
type Document struct {
	ID     string
	Path   string
	Exists bool
	Fields map[string]any
}

// CollectionSnapshot enumerates the current member documents of a collection,
// in the order the store delivered them.
type CollectionSnapshot struct {
	Path string
	Docs []Document
}

// Store is the remote-store collaborator contract. WriteMerge touches only
// the fields it supplies; unrelated fields of the target document survive.
// Snapshot callbacks fire once with the current state on subscribe and again
// on every subsequent change, in delivery order.
type Store interface {
	ReadOnce(ctx context.Context, path string) (Document, error)
	WriteMerge(ctx context.Context, path string, fields map[string]any) error
	SubscribeDocument(path string, onSnapshot func(Document), onError func(error)) CancelFunc
	SubscribeCollection(path string, onSnapshot func(CollectionSnapshot), onError func(error)) CancelFunc
}

func docID(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func parentPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
