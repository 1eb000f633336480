package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// searchCandidateCap bounds the number of embeddings loaded into memory for
// one search. Candidates are selected newest-first so recently created
// memories are always considered. Personal-memory datasets stay well under
// this; larger deployments should use the Postgres backend with pgvector.
const searchCandidateCap = 10_000

// StoreEntry persists a memory entry with upsert semantics on ID.
func (s *Store) StoreEntry(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("sqlite: StoreEntry: %w: missing id", storage.ErrInvalidInput)
	}

	embeddingJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal embedding: %w", err)
	}
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO memory_entries (id, thread_id, content, embedding, dimension, importance, tags, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			importance = excluded.importance,
			expires_at = excluded.expires_at
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.ThreadID,
		entry.Content,
		string(embeddingJSON),
		len(entry.Embedding),
		entry.Importance,
		string(tagsJSON),
		entry.CreatedAt.UTC(),
		nullableTime(entry.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store memory entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a memory entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, content, embedding, importance, tags, created_at, expires_at
		FROM memory_entries WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory entry: %w", err)
	}
	return entry, nil
}

// SearchCandidates returns unexpired entries for hybrid re-ranking,
// newest-first. The query embedding is unused here: SQLite has no vector
// index, so the caller oversamples recent entries and ranks them in Go.
func (s *Store) SearchCandidates(ctx context.Context, threadID string, _ []float32, limit int, now time.Time) ([]types.MemoryEntry, error) {
	if limit <= 0 || limit > searchCandidateCap {
		limit = searchCandidateCap
	}

	query := `
		SELECT id, thread_id, content, embedding, importance, tags, created_at, expires_at
		FROM memory_entries
		WHERE (expires_at IS NULL OR expires_at > ?)
	`
	args := []interface{}{now.UTC()}
	if threadID != "" {
		query += " AND thread_id = ?"
		args = append(args, threadID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: SearchCandidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// UpdateEntryMeta updates importance and/or expiry. Passing nil leaves the
// corresponding field unchanged.
func (s *Store) UpdateEntryMeta(ctx context.Context, id string, importance *float64, expiresAt *time.Time) error {
	sets := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)
	if importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *importance)
	}
	if expiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, expiresAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE memory_entries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("sqlite: UpdateEntryMeta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: UpdateEntryMeta rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteEntry removes a memory entry.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteEntry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: DeleteEntry rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeExpired physically deletes entries whose expiry has passed.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: PurgeExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: PurgeExpired rows affected: %w", err)
	}
	return int(n), nil
}

// ListOlderThan returns unexpired entries created before the cutoff.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]types.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, content, embedding, importance, tags, created_at, expires_at
		FROM memory_entries
		WHERE created_at < ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC
	`, cutoff.UTC(), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListOlderThan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// DeleteEntries removes a batch of entries, ignoring missing IDs.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_entries WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: DeleteEntries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: DeleteEntries rows affected: %w", err)
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
			return nil, fmt.Errorf("sqlite: failed to scan memory entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration: %w", err)
	}
	return entries, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
