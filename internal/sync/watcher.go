// Package sync implements the live-subscription-to-local-cache mechanism
// shared by all entity caches: one store watch per collection, every
// snapshot decoded and published as a full replacement of the previous
// set.
package sync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kerjabareng/internal/store"
)

// Decoder turns a raw document into a typed record. Returning an error
// drops the single document from the published set instead of failing
// the snapshot.
type Decoder[T any] func(store.Document) (T, error)

// JSONDecoder builds a Decoder from the document JSON plus an optional
// validation hook for required fields and enum values.
func JSONDecoder[T any](validate func(*T) error) Decoder[T] {
	return func(doc store.Document) (T, error) {
		var v T
		if err := doc.DataTo(&v); err != nil {
			return v, err
		}
		if validate != nil {
			if err := validate(&v); err != nil {
				return v, fmt.Errorf("document %s: %w", doc.Path, err)
			}
		}
		return v, nil
	}
}

// Watcher keeps an in-memory, replace-on-snapshot cache of one watched
// collection. Reads are synchronous; the snapshot goroutine is the only
// writer. Close releases the underlying store subscription — leaving a
// watcher open leaks a live listener.
type Watcher[T any] struct {
	collection string
	decode     Decoder[T]
	logger     *zap.Logger
	sub        *store.Subscription

	mu    sync.RWMutex
	items []T
	byID  map[string]T

	subMu   sync.Mutex
	subs    map[int]chan []T
	nextSub int

	readyOnce sync.Once
	ready     chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher opens the subscription and starts the snapshot pump. The
// first snapshot arrives asynchronously; Items is empty until then.
func NewWatcher[T any](ctx context.Context, st store.Store, collection string, q store.Query, decode Decoder[T], logger *zap.Logger) (*Watcher[T], error) {
	sub, err := st.Watch(ctx, collection, q)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	w := &Watcher[T]{
		collection: collection,
		decode:     decode,
		logger:     logger,
		sub:        sub,
		byID:       make(map[string]T),
		subs:       make(map[int]chan []T),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.run()

	return w, nil
}

func (w *Watcher[T]) run() {
	for {
		select {
		case <-w.done:
			return
		case snap, ok := <-w.sub.Updates:
			if !ok {
				// Stream ended; keep the last-known-good set.
				w.logger.Warn("subscription stream closed", zap.String("collection", w.collection))
				return
			}
			w.apply(snap)
		}
	}
}

// apply decodes the snapshot and replaces the entire published set.
// Malformed documents are dropped with a diagnostic, never surfaced.
func (w *Watcher[T]) apply(snap store.Snapshot) {
	items := make([]T, 0, len(snap))
	byID := make(map[string]T, len(snap))
	for _, doc := range snap {
		v, err := w.decode(doc)
		if err != nil {
			w.logger.Warn("dropping malformed document",
				zap.String("collection", w.collection),
				zap.String("id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		items = append(items, v)
		byID[doc.ID] = v
	}

	w.mu.Lock()
	w.items = items
	w.byID = byID
	w.mu.Unlock()

	w.readyOnce.Do(func() { close(w.ready) })
	w.publish(items)
}

// Ready is closed once the first snapshot has been applied. Until then
// Items returns an empty set.
func (w *Watcher[T]) Ready() <-chan struct{} {
	return w.ready
}

// WaitReady blocks until the first snapshot lands or ctx expires. A
// watcher that is already ready never reports the context error.
func (w *Watcher[T]) WaitReady(ctx context.Context) error {
	select {
	case <-w.ready:
		return nil
	default:
	}
	select {
	case <-w.ready:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher[T]) publish(items []T) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		// Latest-wins delivery; a slow consumer never blocks the pump.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- append([]T(nil), items...):
		default:
		}
	}
}

// Items returns a copy of the current decoded set in snapshot order.
func (w *Watcher[T]) Items() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]T(nil), w.items...)
}

// Get returns the cached record with the given document id.
func (w *Watcher[T]) Get(id string) (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.byID[id]
	return v, ok
}

func (w *Watcher[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

// Subscribe registers an update channel receiving each newly published
// set. The returned func unregisters it.
func (w *Watcher[T]) Subscribe() (<-chan []T, func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	id := w.nextSub
	w.nextSub++
	ch := make(chan []T, 1)
	w.subs[id] = ch

	return ch, func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		delete(w.subs, id)
	}
}

// Close cancels the store subscription and stops the pump. Idempotent.
func (w *Watcher[T]) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.sub.Cancel()
	})
}
