// Package postgres implements the document Store on a single JSONB table.
// Writes NOTIFY a per-store channel inside their transaction; watchers
// LISTEN and re-read the full matching set on every notification, keeping
// the full-snapshot-replace contract (O(collection) per update).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"kerjabareng/internal/store"
)

const notifyChannel = "kerjabareng_documents"

type Store struct {
	db       *sqlx.DB
	listener *pq.Listener
	logger   *zap.Logger

	mu       sync.Mutex
	watchers map[int]*watcher
	nextID   int
	closed   bool
}

// New connects, ensures the schema and starts the notification
// dispatcher.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		db.Close()
		return nil, fmt.Errorf("listen on %s: %w", notifyChannel, err)
	}

	s := &Store{
		db:       db,
		listener: listener,
		logger:   logger,
		watchers: make(map[int]*watcher),
	}
	go s.dispatch()

	return s, nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return store.Document{}, err
	}
	var row docRow
	err := s.db.GetContext(ctx, &row, `SELECT path, id, data, updated_at FROM documents WHERE path = $1`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s: %w", path, err)
	}
	return row.document()
}

func (s *Store) Set(ctx context.Context, path string, doc any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	data, err := store.Normalize(doc)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertQuery, path, collection, id, raw); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
		return notifyTx(ctx, tx, collection)
	})
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	expr, args, err := buildSetExpr(fields)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := fmt.Sprintf(`UPDATE documents SET data = %s, updated_at = now() WHERE path = $1`, expr)
		res, err := tx.ExecContext(ctx, query, append([]any{path}, args...)...)
		if err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		return notifyTx(ctx, tx, collection)
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		return notifyTx(ctx, tx, collection)
	})
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	fieldPath := pgFieldPath(field)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := fmt.Sprintf(
			`UPDATE documents
			 SET data = jsonb_set(data, %s, to_jsonb(COALESCE((data #>> %s)::numeric, 0) + $2), true),
			     updated_at = now()
			 WHERE path = $1`, fieldPath, fieldPath)
		res, err := tx.ExecContext(ctx, query, path, delta)
		if err != nil {
			return fmt.Errorf("increment %s.%s: %w", path, field, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		return notifyTx(ctx, tx, collection)
	})
}

func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	query, args := buildSelect(collection, q, false)

	var rows []docRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return docsFromRows(rows)
}

func (s *Store) Batch() store.WriteBatch {
	return &batch{store: s}
}

// maxTxAttempts bounds how often an aborted workflow transaction is
// retried before its error is surfaced.
const maxTxAttempts = 3

// RunTransaction runs fn in a SERIALIZABLE transaction. Concurrent
// workflow units can lock the same rows in opposite order; when the
// server aborts one of them to resolve that, the whole unit is retried
// from the top.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTransactionOnce(ctx, fn)
		if err == nil || !retryableTxError(err) {
			return err
		}
		s.logger.Warn("transaction aborted by server, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

func (s *Store) runTransactionOnce(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.inTxOpts(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(sqlTx *sqlx.Tx) error {
		tx := &pgTx{ctx: ctx, tx: sqlTx, touched: map[string]struct{}{}}
		if err := fn(tx); err != nil {
			return err
		}
		for collection := range tx.touched {
			if err := notifyTx(ctx, sqlTx, collection); err != nil {
				return err
			}
		}
		return nil
	})
}

// retryableTxError reports whether the server aborted the transaction to
// resolve a serialization failure (SQLSTATE 40001) or deadlock (40P01).
// Both mean the unit can simply run again.
func retryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// DeleteCollection removes the collection and every nested sub-collection
// underneath it.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	prefix := collection + "/%"
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var touched []string
		if err := tx.SelectContext(ctx, &touched,
			`SELECT DISTINCT collection FROM documents WHERE path LIKE $1`, prefix); err != nil {
			return fmt.Errorf("collect collections under %s: %w", collection, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path LIKE $1`, prefix); err != nil {
			return fmt.Errorf("delete collection %s: %w", collection, err)
		}
		for _, c := range touched {
			if err := notifyTx(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
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
	s.listener.Close()
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.inTxOpts(ctx, nil, fn)
}

func (s *Store) inTxOpts(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// notifyTx queues a notification delivered when the surrounding
// transaction commits.
func notifyTx(ctx context.Context, tx *sqlx.Tx, collection string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
		return fmt.Errorf("notify %s: %w", collection, err)
	}
	return nil
}

type docRow struct {
	Path      string    `db:"path"`
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r docRow) document() (store.Document, error) {
	var data map[string]any
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return store.Document{}, fmt.Errorf("decode row %s: %w", r.Path, err)
	}
	return store.Document{ID: r.ID, Path: r.Path, Data: data, UpdatedAt: r.UpdatedAt}, nil
}

func docsFromRows(rows []docRow) ([]store.Document, error) {
	docs := make([]store.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// pgFieldPath renders a dotted field path as a jsonb path literal,
// e.g. "unreadCounts.u1" -> '{unreadCounts,u1}'.
func pgFieldPath(field string) string {
	segments := strings.Split(field, ".")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(seg, "'", "")
	}
	return "'{" + strings.Join(segments, ",") + "}'"
}

// buildSetExpr nests jsonb_set calls, one per updated field. Placeholders
// start at $2; $1 is reserved for the path.
func buildSetExpr(fields map[string]any) (string, []any, error) {
	expr := "data"
	var args []any
	n := 2
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("encode field %s: %w", field, err)
		}
		expr = fmt.Sprintf("jsonb_set(%s, %s, $%d::jsonb, true)", expr, pgFieldPath(field), n)
		args = append(args, string(raw))
		n++
	}
	return expr, args, nil
}

// buildSelect renders a collection query. Ordering compares the JSON text
// representation, which is stable for the RFC 3339 timestamps the domain
// orders by.
func buildSelect(collection string, q store.Query, forUpdate bool) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT path, id, data, updated_at FROM documents WHERE collection = $1`)
	args := []any{collection}

	for _, f := range q.Filters {
		raw, err := json.Marshal(f.Value)
		if err != nil {
			continue
		}
		args = append(args, string(raw))
		switch f.Op {
		case store.OpArrayContains:
			fmt.Fprintf(&sb, ` AND data #> %s @> $%d::jsonb`, pgFieldPath(f.Field), len(args))
		default:
			fmt.Fprintf(&sb, ` AND data #> %s = $%d::jsonb`, pgFieldPath(f.Field), len(args))
		}
	}

	if q.OrderField != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY data #>> %s %s`, pgFieldPath(q.OrderField), dir)
	} else {
		sb.WriteString(` ORDER BY path ASC`)
	}

	if forUpdate {
		sb.WriteString(` FOR UPDATE`)
	}
	return sb.String(), args
}
