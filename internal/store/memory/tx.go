package memory

import (
	"fmt"

	"kerjabareng/internal/store"
)

// memTx runs with the store write lock already held, so its reads and
// writes are serialized against every other mutation. docs is the staged
// copy RunTransaction installs on success.
type memTx struct {
	docs    map[string]store.Document
	touched map[string]struct{}
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) Get(path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return store.Document{}, err
	}
	doc, ok := t.docs[path]
	if !ok {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	return cloneDoc(doc), nil
}

func (t *memTx) Query(collection string, q store.Query) ([]store.Document, error) {
	return queryDocs(t.docs, collection, q), nil
}

func (t *memTx) Set(path string, doc any) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	data, err := store.Normalize(doc)
	if err != nil {
		return err
	}
	setDoc(t.docs, path, data)
	t.touched[collection] = struct{}{}
	return nil
}

func (t *memTx) Update(path string, fields map[string]any) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	if err := updateDoc(t.docs, path, fields); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}
