package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"kerjabareng/internal/store"
)

// Group is a keyed registry of watchers over per-parent sub-collections
// (one message thread per conversation). Open is idempotent per key, so
// repeated requests never fan out duplicate listeners.
type Group[T any] struct {
	st     store.Store
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[string]*Watcher[T]
}

func NewGroup[T any](st store.Store, logger *zap.Logger) *Group[T] {
	return &Group[T]{
		st:       st,
		logger:   logger,
		watchers: make(map[string]*Watcher[T]),
	}
}

// Open returns the existing watcher for key, or opens one on the given
// collection. A second Open with the same key is a no-op returning the
// first watcher regardless of its arguments. Watchers outlive the call
// that opened them, so the underlying subscription runs on a background
// context; Release and ReleaseAll are the only ways to tear one down.
func (g *Group[T]) Open(key, collection string, q store.Query, decode Decoder[T]) (*Watcher[T], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w, ok := g.watchers[key]; ok {
		return w, nil
	}

	w, err := NewWatcher(context.Background(), g.st, collection, q, decode, g.logger)
	if err != nil {
		return nil, err
	}
	g.watchers[key] = w
	return w, nil
}

// Get returns the open watcher for key, if any.
func (g *Group[T]) Get(key string) (*Watcher[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.watchers[key]
	return w, ok
}

// Release closes and forgets the watcher for key. Unknown keys are
// ignored.
func (g *Group[T]) Release(key string) {
	g.mu.Lock()
	w, ok := g.watchers[key]
	delete(g.watchers, key)
	g.mu.Unlock()

	if ok {
		w.Close()
	}
}

// ReleaseAll tears down every open watcher.
func (g *Group[T]) ReleaseAll() {
	g.mu.Lock()
	watchers := g.watchers
	g.watchers = make(map[string]*Watcher[T])
	g.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
}

// Keys lists the currently open watcher keys.
func (g *Group[T]) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.watchers))
	for k := range g.watchers {
		keys = append(keys, k)
	}
	return keys
}
