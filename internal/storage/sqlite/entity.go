package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// InsertEntity creates a new entity. A concurrent insert of the same
// (kind, name) loses with storage.ErrConflict and should re-read.
func (s *Store) InsertEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == "" || entity.Name == "" {
		return fmt.Errorf("sqlite: InsertEntity: %w: missing id or name", storage.ErrInvalidInput)
	}

	embeddingJSON, err := json.Marshal(entity.NameEmbedding)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal name embedding: %w", err)
	}
	attrs := entity.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, kind, name, name_embedding, dimension, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entity.ID,
		string(entity.Kind),
		entity.Name,
		string(embeddingJSON),
		len(entity.NameEmbedding),
		string(attrsJSON),
		entity.CreatedAt.UTC(),
		entity.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("sqlite: failed to insert entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, name_embedding, attributes, created_at, updated_at
		FROM entities WHERE id = ?
	`, id)

	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get entity: %w", err)
	}
	return entity, nil
}

// FindEntityByName finds an entity by exact, case-insensitive name within a kind.
func (s *Store) FindEntityByName(ctx context.Context, kind types.EntityKind, name string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, name_embedding, attributes, created_at, updated_at
		FROM entities WHERE kind = ? AND name = ? COLLATE NOCASE
	`, string(kind), name)

	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to find entity by name: %w", err)
	}
	return entity, nil
}

// ListEntitiesByKind returns all entities of a kind, embeddings included.
func (s *Store) ListEntitiesByKind(ctx context.Context, kind types.EntityKind) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, name_embedding, attributes, created_at, updated_at
		FROM entities WHERE kind = ? ORDER BY created_at ASC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListEntitiesByKind: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entity: %w", err)
		}
		entities = append(entities, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration: %w", err)
	}
	return entities, nil
}

// MergeAttributes merges keys into the entity's attribute map in a single
// transaction, overwriting on collision.
func (s *Store) MergeAttributes(ctx context.Context, id string, attrs map[string]string) error {
	if len(attrs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: MergeAttributes begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attrsJSON string
	err = tx.QueryRowContext(ctx, "SELECT attributes FROM entities WHERE id = ?", id).Scan(&attrsJSON)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: MergeAttributes read: %w", err)
	}

	merged := map[string]string{}
	if attrsJSON != "" {
		if err := json.Unmarshal([]byte(attrsJSON), &merged); err != nil {
			return fmt.Errorf("sqlite: failed to unmarshal attributes: %w", err)
		}
	}
	for k, v := range attrs {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal attributes: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET attributes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(mergedJSON), id); err != nil {
		return fmt.Errorf("sqlite: MergeAttributes write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: MergeAttributes commit: %w", err)
	}
	return nil
}

// UpsertRelationship inserts the triple or refreshes sentiment/created_at on
// the existing row. Re-asserting the same fact never duplicates it.
func (s *Store) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil || rel.FromID == "" || rel.Label == "" {
		return fmt.Errorf("sqlite: UpsertRelationship: %w: missing from or label", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, literal_value, label, sentiment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, literal_value, label) DO UPDATE SET
			sentiment = excluded.sentiment,
			created_at = excluded.created_at
	`,
		rel.ID,
		rel.FromID,
		rel.ToID,
		rel.LiteralValue,
		rel.Label,
		string(rel.Sentiment),
		rel.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert relationship: %w", err)
	}
	return nil
}

// ListRelationships returns relationships where the entity is source or target.
func (s *Store) ListRelationships(ctx context.Context, entityID string) ([]types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_id, to_id, literal_value, label, sentiment, created_at
		FROM relationships
		WHERE from_id = ? OR to_id = ?
		ORDER BY created_at ASC
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListRelationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rels []types.Relationship
	for rows.Next() {
		var rel types.Relationship
		var sentiment string
		if err := rows.Scan(&rel.ID, &rel.FromID, &rel.ToID, &rel.LiteralValue,
			&rel.Label, &sentiment, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan relationship: %w", err)
		}
		rel.Sentiment = types.Sentiment(sentiment)
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: row iteration: %w", err)
	}
	return rels, nil
}

// CountRelationships returns the number of rows for an exact triple.
func (s *Store) CountRelationships(ctx context.Context, fromID, toID, literal, label string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships
		WHERE from_id = ? AND to_id = ? AND literal_value = ? AND label = ?
	`, fromID, toID, literal, label).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: CountRelationships: %w", err)
	}
	return count, nil
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var kind string
	var embeddingJSON, attrsJSON sql.NullString

	err := row.Scan(
		&entity.ID,
		&kind,
		&entity.Name,
		&embeddingJSON,
		&attrsJSON,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	entity.Kind = types.EntityKind(kind)

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &entity.NameEmbedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal name embedding: %w", err)
		}
	}
	if attrsJSON.Valid && attrsJSON.String != "" {
		if err := json.Unmarshal([]byte(attrsJSON.String), &entity.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	return &entity, nil
}

// isUniqueViolation reports whether the error is a SQLite unique-constraint
// failure. The pure-Go driver exposes this only through the error message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
