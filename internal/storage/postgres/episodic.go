package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// StoreEntry persists a memory entry with upsert semantics on ID.
// The embedding is stored as JSONB always and additionally as a pgvector
// column when the extension is available.
func (s *Store) StoreEntry(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("postgres: StoreEntry: %w: missing id", storage.ErrInvalidInput)
	}

	embeddingJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal embedding: %w", err)
	}
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal tags: %w", err)
	}

	var expiresAt sql.NullTime
	if entry.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: entry.ExpiresAt.UTC(), Valid: true}
	}

	if s.pgvectorAvailable && len(entry.Embedding) == s.dimension {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memory_entries (id, thread_id, content, embedding, embedding_vec, dimension, importance, tags, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				importance = EXCLUDED.importance,
				expires_at = EXCLUDED.expires_at
		`, entry.ID, entry.ThreadID, entry.Content, string(embeddingJSON),
			pgvector.NewVector(entry.Embedding), len(entry.Embedding),
			entry.Importance, string(tagsJSON), entry.CreatedAt.UTC(), expiresAt)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memory_entries (id, thread_id, content, embedding, dimension, importance, tags, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				importance = EXCLUDED.importance,
				expires_at = EXCLUDED.expires_at
		`, entry.ID, entry.ThreadID, entry.Content, string(embeddingJSON),
			len(entry.Embedding), entry.Importance, string(tagsJSON),
			entry.CreatedAt.UTC(), expiresAt)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to store memory entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a memory entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, content, embedding, importance, tags, created_at, expires_at
		FROM memory_entries WHERE id = $1
	`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get memory entry: %w", err)
	}
	return entry, nil
}

// SearchCandidates returns unexpired entries for hybrid re-ranking. With
// pgvector the candidate pool is the nearest neighbours to the query
// embedding (cosine distance); without it, the most recent entries.
func (s *Store) SearchCandidates(ctx context.Context, threadID string, query []float32, limit int, now time.Time) ([]types.MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	useVector := s.pgvectorAvailable && len(query) == s.dimension

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, thread_id, content, embedding, importance, tags, created_at, expires_at
		FROM memory_entries
		WHERE (expires_at IS NULL OR expires_at > $1)
	`)
	args := []interface{}{now.UTC()}

	if threadID != "" {
		args = append(args, threadID)
		fmt.Fprintf(&sb, " AND thread_id = $%d", len(args))
	}
	if useVector {
		args = append(args, pgvector.NewVector(query))
		fmt.Fprintf(&sb, " AND embedding_vec IS NOT NULL ORDER BY embedding_vec <=> $%d ASC", len(args))
	} else {
		sb.WriteString(" ORDER BY created_at DESC")
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: SearchCandidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// UpdateEntryMeta updates importance and/or expiry; nil leaves a field unchanged.
func (s *Store) UpdateEntryMeta(ctx context.Context, id string, importance *float64, expiresAt *time.Time) error {
	sets := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)
	if importance != nil {
		args = append(args, *importance)
		sets = append(sets, fmt.Sprintf("importance = $%d", len(args)))
	}
	if expiresAt != nil {
		args = append(args, expiresAt.UTC())
		sets = append(sets, fmt.Sprintf("expires_at = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE memory_entries SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("postgres: UpdateEntryMeta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: UpdateEntryMeta rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteEntry removes a memory entry.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory_entries WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: DeleteEntry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: DeleteEntry rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeExpired physically deletes entries whose expiry has passed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= $1", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: PurgeExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: PurgeExpired rows affected: %w", err)
	}
	return int(n), nil
}

// ListOlderThan returns unexpired entries created before the cutoff.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]types.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, content, embedding, importance, tags, created_at, expires_at
		FROM memory_entries
		WHERE created_at < $1 AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: ListOlderThan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// DeleteEntries removes a batch of entries, ignoring missing IDs.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_entries WHERE id IN ("+strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: DeleteEntries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: DeleteEntries rows affected: %w", err)
	}
	return int(n), nil
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	var entry types.MemoryEntry
	var embeddingJSON, tagsJSON sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.ThreadID,
		&entry.Content,
		&embeddingJSON,
		&entry.Importance,
		&tagsJSON,
		&entry.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		entry.ExpiresAt = &t
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]types.MemoryEntry, error) {
	var entries []types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: row iteration: %w", err)
	}
	return entries, nil
}
