package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

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

func (b *batch) Commit(ctx context.Context) error {
	return b.store.inTx(ctx, func(tx *sqlx.Tx) error {
		touched := map[string]struct{}{}
		for _, op := range b.ops {
			collection, id, err := store.SplitPath(op.path)
			if err != nil {
				return err
			}
			switch op.kind {
			case "set":
				data, err := store.Normalize(op.doc)
				if err != nil {
					return err
				}
				raw, err := json.Marshal(data)
				if err != nil {
					return fmt.Errorf("encode %s: %w", op.path, err)
				}
				if _, err := tx.ExecContext(ctx, upsertQuery, op.path, collection, id, raw); err != nil {
					return fmt.Errorf("batch set %s: %w", op.path, err)
				}
			case "update":
				expr, args, err := buildSetExpr(op.fields)
				if err != nil {
					return err
				}
				query := fmt.Sprintf(`UPDATE documents SET data = %s, updated_at = now() WHERE path = $1`, expr)
				if _, err := tx.ExecContext(ctx, query, append([]any{op.path}, args...)...); err != nil {
					return fmt.Errorf("batch update %s: %w", op.path, err)
				}
			case "delete":
				if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, op.path); err != nil {
					return fmt.Errorf("batch delete %s: %w", op.path, err)
				}
			}
			touched[collection] = struct{}{}
		}
		for collection := range touched {
			if err := notifyTx(ctx, tx, collection); err != nil {
				return err
			}
		}
		return nil
	})
}
