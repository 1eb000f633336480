// Package postgres provides a PostgreSQL implementation of the Sundial
// storage interfaces. When the pgvector extension is available, episodic
// candidate retrieval uses an indexed nearest-neighbour query; otherwise it
// falls back to recency ordering like the SQLite backend.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/sundialhq/sundial/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
	dimension         int
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a PostgreSQL connection and applies the schema. dimension is
// the deployment embedding dimension, used to declare the vector column.
func NewStore(dsn string, dimension int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{db: db, dimension: dimension}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	// pgvector may be missing on the server. Vector candidate retrieval is
	// then disabled and searches fall back to recency ordering.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (vector candidates disabled): %v", err)
	} else if _, err := db.Exec(migrationPgvector(dimension)); err != nil {
		log.Printf("postgres: failed to apply pgvector migration (vector candidates disabled): %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// VectorCandidatesEnabled reports whether pgvector candidate retrieval is
// active. False means searches fall back to recency-ordered candidates.
func (s *Store) VectorCandidatesEnabled() bool {
	return s.pgvectorAvailable
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
