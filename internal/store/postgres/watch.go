package postgres

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"kerjabareng/internal/store"
)

type watcher struct {
	collection string
	query      store.Query
	dirty      chan struct{}
	out        chan store.Snapshot
	done       chan struct{}
}

// Watch opens a live subscription backed by the shared LISTEN connection.
// The initial snapshot is pushed immediately; later ones whenever a write
// notifies the collection.
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

// dispatch fans server notifications out to the registered watchers. A
// nil notification means the listener reconnected; every watcher
// re-reads then, since notifications may have been missed.
func (s *Store) dispatch() {
	for n := range s.listener.Notify {
		s.mu.Lock()
		for _, w := range s.watchers {
			if n != nil && w.collection != n.Extra {
				continue
			}
			select {
			case w.dirty <- struct{}{}:
			default:
			}
		}
		s.mu.Unlock()
	}
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

		docs, err := s.Query(ctx, w.collection, w.query)
		if err != nil {
			// Keep the last published set; the next notification retries.
			s.logger.Warn("watch query failed",
				zap.String("collection", w.collection),
				zap.Error(err),
			)
			continue
		}

		select {
		case w.out <- store.Snapshot(docs):
		case <-w.done:
			return
		case <-ctx.Done():
			cancel()
			return
		}
	}
}
