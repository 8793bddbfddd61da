// File: internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store with the same merge and snapshot semantics as
// the remote one. Tests drive it directly; the -offline flag runs the whole
// app against it.
type Memory struct {
	mu          sync.RWMutex
	docs        map[string]map[string]any
	docWatchers map[string]map[int]*memWatcher
	colWatchers map[string]map[int]*memWatcher
	nextID      int
	writeErr    error
}

type memWatcher struct {
	onDoc func(Document)
	onCol func(CollectionSnapshot)
	onErr func(error)
}

func NewMemory() *Memory {
	return &Memory{
		docs:        make(map[string]map[string]any),
		docWatchers: make(map[string]map[int]*memWatcher),
		colWatchers: make(map[string]map[int]*memWatcher),
	}
}

// SetWriteErr makes every subsequent WriteMerge fail with err until cleared.
// Test hook for the rollback paths.
func (m *Memory) SetWriteErr(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// FailSubscription delivers err to every watcher of path.
func (m *Memory) FailSubscription(path string, err error) {
	m.mu.RLock()
	var fns []func(error)
	for _, w := range m.docWatchers[path] {
		fns = append(fns, w.onErr)
	}
	for _, w := range m.colWatchers[path] {
		fns = append(fns, w.onErr)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		if fn != nil {
			fn(err)
		}
	}
}

func (m *Memory) ReadOnce(_ context.Context, path string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(path), nil
}

func (m *Memory) WriteMerge(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	doc := m.docs[path]
	if doc == nil {
		doc = make(map[string]any, len(fields))
		m.docs[path] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	docFns, colFns := m.collectNotifyLocked(path)
	m.mu.Unlock()

	for _, fn := range docFns {
		fn()
	}
	for _, fn := range colFns {
		fn()
	}
	return nil
}

func (m *Memory) SubscribeDocument(path string, onSnapshot func(Document), onError func(error)) CancelFunc {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.docWatchers[path] == nil {
		m.docWatchers[path] = make(map[int]*memWatcher)
	}
	m.docWatchers[path][id] = &memWatcher{onDoc: onSnapshot, onErr: onError}
	initial := m.snapshotLocked(path)
	m.mu.Unlock()

	if onSnapshot != nil {
		onSnapshot(initial)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.docWatchers[path], id)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) SubscribeCollection(path string, onSnapshot func(CollectionSnapshot), onError func(error)) CancelFunc {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.colWatchers[path] == nil {
		m.colWatchers[path] = make(map[int]*memWatcher)
	}
	m.colWatchers[path][id] = &memWatcher{onCol: onSnapshot, onErr: onError}
	initial := m.collectionLocked(path)
	m.mu.Unlock()

	if onSnapshot != nil {
		onSnapshot(initial)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.colWatchers[path], id)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) snapshotLocked(path string) Document {
	fields, ok := m.docs[path]
	d := Document{ID: docID(path), Path: path, Exists: ok}
	if ok {
		d.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			d.Fields[k] = v
		}
	}
	return d
}

func (m *Memory) collectionLocked(path string) CollectionSnapshot {
	cs := CollectionSnapshot{Path: path}
	for p := range m.docs {
		if parentPath(p) == path {
			cs.Docs = append(cs.Docs, m.snapshotLocked(p))
		}
	}
	sort.Slice(cs.Docs, func(i, j int) bool { return cs.Docs[i].ID < cs.Docs[j].ID })
	return cs
}

// collectNotifyLocked builds the deferred snapshot deliveries for a write to
// path: its document watchers plus its parent collection's watchers.
func (m *Memory) collectNotifyLocked(path string) (docFns, colFns []func()) {
	if ws := m.docWatchers[path]; len(ws) > 0 {
		snap := m.snapshotLocked(path)
		for _, w := range ws {
			if w.onDoc != nil {
				fn := w.onDoc
				docFns = append(docFns, func() { fn(snap) })
			}
		}
	}
	parent := parentPath(path)
	if ws := m.colWatchers[parent]; len(ws) > 0 {
		snap := m.collectionLocked(parent)
		for _, w := range ws {
			if w.onCol != nil {
				fn := w.onCol
				colFns = append(colFns, func() { fn(snap) })
			}
		}
	}
	return docFns, colFns
}
