package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"kerjabareng/internal/store"
)

// pgTx serializes concurrent workflows through row locks: every read
// inside the transaction takes FOR UPDATE on the rows it returns.
type pgTx struct {
	ctx     context.Context
	tx      *sqlx.Tx
	touched map[string]struct{}
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) Get(path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return store.Document{}, err
	}
	var row docRow
	err := t.tx.GetContext(t.ctx, &row,
		`SELECT path, id, data, updated_at FROM documents WHERE path = $1 FOR UPDATE`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("tx get %s: %w", path, err)
	}
	return row.document()
}

func (t *pgTx) Query(collection string, q store.Query) ([]store.Document, error) {
	query, args := buildSelect(collection, q, true)

	var rows []docRow
	if err := t.tx.SelectContext(t.ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("tx query %s: %w", collection, err)
	}
	return docsFromRows(rows)
}

func (t *pgTx) Set(path string, doc any) error {
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
	if _, err := t.tx.ExecContext(t.ctx, upsertQuery, path, collection, id, raw); err != nil {
		return fmt.Errorf("tx set %s: %w", path, err)
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *pgTx) Update(path string, fields map[string]any) error {
	collection, _, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	expr, args, err := buildSetExpr(fields)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE documents SET data = %s, updated_at = now() WHERE path = $1`, expr)
	res, err := t.tx.ExecContext(t.ctx, query, append([]any{path}, args...)...)
	if err != nil {
		return fmt.Errorf("tx update %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, path)
	}
	t.touched[collection] = struct{}{}
	return nil
}
