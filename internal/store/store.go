// Package store defines the document-store contract the sync and workflow
// layers are built on: string-keyed JSON documents grouped in collections,
// one-shot queries, live full-snapshot subscriptions, batched writes and
// read-modify-write transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidPath  = errors.New("invalid document path")
	ErrStoreClosed  = errors.New("store is closed")
	ErrPrecondition = errors.New("transaction precondition failed")
)

// Document is a single stored record. Data holds the JSON-normalized
// field map; DataTo decodes it into a typed value.
type Document struct {
	ID        string
	Path      string
	Data      map[string]any
	UpdatedAt time.Time
}

func (d Document) DataTo(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.Path, err)
	}
	return nil
}

// Snapshot is the entire current matching document set of a watched
// collection. Every change delivers a full replacement, never a diff.
type Snapshot []Document

// Op is a filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query describes a filtered, optionally ordered collection read.
type Query struct {
	Filters    []Filter
	OrderField string
	Descending bool
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(field string, descending bool) Query {
	q.OrderField = field
	q.Descending = descending
	return q
}

// Subscription is a live watch on a collection. Updates delivers the full
// current set on open and after every change. Cancel releases the
// server-side listener; an unreleased subscription leaks it indefinitely.
type Subscription struct {
	Updates <-chan Snapshot

	cancel func()
}

func NewSubscription(updates <-chan Snapshot, cancel func()) *Subscription {
	return &Subscription{Updates: updates, cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// WriteBatch queues multi-document writes committed in one round trip.
// The contract makes no atomicity promise across the queued writes.
type WriteBatch interface {
	Set(path string, doc any) WriteBatch
	Update(path string, fields map[string]any) WriteBatch
	Delete(path string) WriteBatch
	Commit(ctx context.Context) error
}

// Tx is the read-modify-write view inside RunTransaction. Reads lock the
// documents they touch for the duration of the transaction.
type Tx interface {
	Get(path string) (Document, error)
	Query(collection string, q Query) ([]Document, error)
	Set(path string, doc any) error
	Update(path string, fields map[string]any) error
}

// Store is the remote document database. Field arguments of Update and
// Increment accept dotted paths into nested maps ("unreadCounts.<userId>").
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, doc any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Increment(ctx context.Context, path, field string, delta int64) error

	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Watch(ctx context.Context, collection string, q Query) (*Subscription, error)

	Batch() WriteBatch
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// SplitPath validates a document path and returns its collection and id.
// Paths alternate collection/id segments: "opportunities/o1" or
// "conversations/c1/messages/m1".
func SplitPath(path string) (collection, id string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// Normalize converts a typed value into the JSON field map stored in a
// document, so that queries and decoding see one representation.
func Normalize(doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return data, nil
}
