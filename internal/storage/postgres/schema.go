package postgres

import "fmt"

// Schema is the base PostgreSQL schema. All statements are idempotent.
// The vector column is added separately once pgvector is confirmed available.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id          UUID PRIMARY KEY,
	thread_id   TEXT NOT NULL DEFAULT 'default',
	content     TEXT NOT NULL,
	embedding   JSONB,
	dimension   INTEGER NOT NULL DEFAULT 0,
	importance  DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (importance >= 0.0 AND importance <= 1.0),
	tags        JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memory_entries_thread ON memory_entries(thread_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created ON memory_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_memory_entries_expires ON memory_entries(expires_at);

CREATE TABLE IF NOT EXISTS entities (
	id             UUID PRIMARY KEY,
	kind           TEXT NOT NULL,
	name           TEXT NOT NULL,
	name_embedding JSONB,
	dimension      INTEGER NOT NULL DEFAULT 0,
	attributes     JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_kind_name
	ON entities(kind, LOWER(name));

CREATE TABLE IF NOT EXISTS relationships (
	id            UUID PRIMARY KEY,
	from_id       UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	to_id         TEXT NOT NULL DEFAULT '',
	literal_value TEXT NOT NULL DEFAULT '',
	label         TEXT NOT NULL,
	sentiment     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE(from_id, to_id, literal_value, label)
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

CREATE TABLE IF NOT EXISTS reminder_tasks (
	id         UUID PRIMARY KEY,
	thread_id  TEXT NOT NULL DEFAULT 'default',
	due_at     TIMESTAMPTZ NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'fired', 'cancelled')),
	recurrence TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminder_tasks_status_due ON reminder_tasks(status, due_at);
`

// migrationPgvector adds the vector columns and HNSW indexes once the
// extension is confirmed available. HNSW caps at 2000 dimensions; for larger
// embeddings the index is skipped and candidate pulls scan sequentially.
func migrationPgvector(dimension int) string {
	sql := fmt.Sprintf(`
ALTER TABLE memory_entries ADD COLUMN IF NOT EXISTS embedding_vec vector(%d);
ALTER TABLE entities ADD COLUMN IF NOT EXISTS name_embedding_vec vector(%d);
`, dimension, dimension)

	if dimension <= 2000 {
		sql += `
CREATE INDEX IF NOT EXISTS idx_memory_entries_embedding
	ON memory_entries USING hnsw (embedding_vec vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_entities_embedding
	ON entities USING hnsw (name_embedding_vec vector_cosine_ops);
`
	}
	return sql
}
