package sqlite

// Schema is the complete SQLite schema for the Sundial core. All statements
// are idempotent so the schema can be re-applied on every startup.
//
// Four tables, matching the core's persisted state layout: memory_entries,
// entities, relationships, reminder_tasks. Embeddings are stored as JSON
// arrays; candidate ranking happens in Go.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL DEFAULT 'default',
	content     TEXT NOT NULL,
	embedding   TEXT,
	dimension   INTEGER NOT NULL DEFAULT 0,
	importance  REAL NOT NULL DEFAULT 0.5 CHECK (importance >= 0.0 AND importance <= 1.0),
	tags        TEXT NOT NULL DEFAULT '[]',
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memory_entries_thread ON memory_entries(thread_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created ON memory_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_memory_entries_expires ON memory_entries(expires_at);

CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	name           TEXT NOT NULL,
	name_embedding TEXT,
	dimension      INTEGER NOT NULL DEFAULT 0,
	attributes     TEXT NOT NULL DEFAULT '{}',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

-- One canonical entity per (kind, name), case-insensitive. This is the
-- storage-level backstop for the resolution algorithm: a concurrent
-- duplicate insert loses with a constraint violation and re-reads.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_kind_name
	ON entities(kind, name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS relationships (
	id            TEXT PRIMARY KEY,
	from_id       TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	to_id         TEXT NOT NULL DEFAULT '',
	literal_value TEXT NOT NULL DEFAULT '',
	label         TEXT NOT NULL,
	sentiment     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	UNIQUE(from_id, to_id, literal_value, label)
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

CREATE TABLE IF NOT EXISTS reminder_tasks (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL DEFAULT 'default',
	due_at     TIMESTAMP NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'fired', 'cancelled')),
	recurrence TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminder_tasks_status_due ON reminder_tasks(status, due_at);
`
