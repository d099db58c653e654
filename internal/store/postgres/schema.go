package postgres

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);
CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING gin (data);
`

const upsertQuery = `
INSERT INTO documents (path, collection, id, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
