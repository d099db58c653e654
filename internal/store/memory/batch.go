package memory

import (
	"context"

	"kerjabareng/internal/store"
)

type batchOp struct {
	kind   string
	path   string
	doc    any
	fields map[string]any
}

type batch struct {
	store *Store
	ops   []batchOp
}

var _ store.WriteBatch = (*batch)(nil)

func (b *batch) Set(path string, doc any) store.WriteBatch {
	b.ops = append(b.ops, batchOp{kind: "set", path: path, doc: doc})
	return b
}

func (b *batch) Update(path string, fields map[string]any) store.WriteBatch {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, fields: fields})
	return b
}

func (b *batch) Delete(path string) store.WriteBatch {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
	return b
}

// Commit applies the queued writes under one lock and notifies each
// touched collection once.
func (b *batch) Commit(ctx context.Context) error {
	touched := map[string]struct{}{}

	b.store.mu.Lock()
	if b.store.closed {
		b.store.mu.Unlock()
		return store.ErrStoreClosed
	}
	for _, op := range b.ops {
		collection, _, err := store.SplitPath(op.path)
		if err != nil {
			b.store.mu.Unlock()
			return err
		}
		switch op.kind {
		case "set":
			data, err := store.Normalize(op.doc)
			if err != nil {
				b.store.mu.Unlock()
				return err
			}
			b.store.setLocked(op.path, data)
		case "update":
			if err := b.store.updateLocked(op.path, op.fields); err != nil {
				b.store.mu.Unlock()
				return err
			}
		case "delete":
			delete(b.store.docs, op.path)
		}
		touched[collection] = struct{}{}
	}
	b.store.mu.Unlock()

	for collection := range touched {
		b.store.notify(collection)
	}
	return nil
}
