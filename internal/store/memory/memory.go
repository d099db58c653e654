// Package memory is an in-process Store implementation. It backs the unit
// tests and the STORE_DRIVER=memory development mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kerjabareng/internal/store"
)

type watcher struct {
	collection string
	query      store.Query
	dirty      chan struct{}
	out        chan store.Snapshot
	done       chan struct{}
}

// Store keeps every document in one mutex-guarded map keyed by full path.
// Watchers are re-queried and pushed the entire matching set after every
// mutation, matching the full-snapshot-replace contract.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]store.Document
	watchers map[int]*watcher
	nextID   int
	closed   bool
}

func New() *Store {
	return &Store{
		docs:     make(map[string]store.Document),
		watchers: make(map[int]*watcher),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return store.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return cloneDoc(doc), nil
}

func (s *Store) Set(ctx context.Context, path string, doc any) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	data, err := store.Normalize(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrStoreClosed
	}
	s.setLocked(path, data)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.updateLocked(path, fields); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	doc, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	current, _ := lookupField(doc.Data, field).(float64)
	setField(doc.Data, field, current+float64(delta))
	doc.UpdatedAt = time.Now().UTC()
	s.docs[path] = doc
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLocked(collection, q), nil
}

// Watch registers a live subscription. The initial snapshot is delivered
// immediately; later ones after every mutation of the collection. Cancel
// must be called or the watcher goroutine lives for the store's lifetime.
func (s *Store) Watch(ctx context.Context, collection string, q store.Query) (*store.Subscription, error) {
	w := &watcher{
		collection: collection,
		query:      q,
		dirty:      make(chan struct{}, 1),
		out:        make(chan store.Snapshot, 1),
		done:       make(chan struct{}),
	}
	w.dirty <- struct{}{}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrStoreClosed
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(w.done)
		})
	}

	go s.pump(ctx, w, cancel)

	return store.NewSubscription(w.out, cancel), nil
}

func (s *Store) pump(ctx context.Context, w *watcher, cancel func()) {
	defer close(w.out)
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			cancel()
			return
		case <-w.dirty:
		}

		s.mu.RLock()
		snap := store.Snapshot(s.queryLocked(w.collection, w.query))
		s.mu.RUnlock()

		select {
		case w.out <- snap:
		case <-w.done:
			return
		case <-ctx.Done():
			cancel()
			return
		}
	}
}

func (s *Store) Batch() store.WriteBatch {
	return &batch{store: s}
}

// RunTransaction serializes the callback against every other store
// mutation by holding the write lock for its whole duration. Writes land
// on a private copy of the document map and replace the live one only
// when the callback succeeds, so a failed transaction leaves nothing
// behind.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrStoreClosed
	}

	staged := make(map[string]store.Document, len(s.docs))
	for path, doc := range s.docs {
		staged[path] = doc
	}
	tx := &memTx{docs: staged, touched: make(map[string]struct{})}
	err := fn(tx)
	if err == nil {
		s.docs = tx.docs
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for collection := range tx.touched {
		s.notify(collection)
	}
	return nil
}

// DeleteCollection removes every document of the collection, including
// documents of nested sub-collections underneath it.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	prefix := collection + "/"

	s.mu.Lock()
	touched := map[string]struct{}{}
	for path, doc := range s.docs {
		if strings.HasPrefix(path, prefix) {
			c, _, _ := store.SplitPath(doc.Path)
			touched[c] = struct{}{}
			delete(s.docs, path)
		}
	}
	s.mu.Unlock()

	for c := range touched {
		s.notify(c)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	watchers := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = make(map[int]*watcher)
	s.mu.Unlock()

	for _, w := range watchers {
		close(w.done)
	}
	return nil
}

func (s *Store) setLocked(path string, data map[string]any) {
	setDoc(s.docs, path, data)
}

func (s *Store) updateLocked(path string, fields map[string]any) error {
	return updateDoc(s.docs, path, fields)
}

func (s *Store) queryLocked(collection string, q store.Query) []store.Document {
	return queryDocs(s.docs, collection, q)
}

func setDoc(docs map[string]store.Document, path string, data map[string]any) {
	docs[path] = store.Document{
		ID:        path[strings.LastIndex(path, "/")+1:],
		Path:      path,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
}

func updateDoc(docs map[string]store.Document, path string, fields map[string]any) error {
	doc, ok := docs[path]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	// The clone keeps a staged transaction update from mutating the
	// live document's nested maps in place.
	doc.Data = cloneMap(doc.Data)
	for field, value := range fields {
		normalized, err := normalizeValue(value)
		if err != nil {
			return err
		}
		setField(doc.Data, field, normalized)
	}
	doc.UpdatedAt = time.Now().UTC()
	docs[path] = doc
	return nil
}

func queryDocs(docs map[string]store.Document, collection string, q store.Query) []store.Document {
	var out []store.Document
	for _, doc := range docs {
		c, _, err := store.SplitPath(doc.Path)
		if err != nil || c != collection {
			continue
		}
		if matches(doc.Data, q.Filters) {
			out = append(out, cloneDoc(doc))
		}
	}
	if q.OrderField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			cmp := compareValues(lookupField(out[i].Data, q.OrderField), lookupField(out[j].Data, q.OrderField))
			if cmp == 0 {
				// Equal order keys tiebreak on path in both directions,
				// so ascending and descending reads agree on their order.
				return out[i].Path < out[j].Path
			}
			if q.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	}
	return out
}

// notify wakes every watcher of the collection. Coalescing through the
// single-slot dirty channel keeps a burst of writes from queueing
// redundant snapshots.
func (s *Store) notify(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watchers {
		if w.collection != collection {
			continue
		}
		select {
		case w.dirty <- struct{}{}:
		default:
		}
	}
}
