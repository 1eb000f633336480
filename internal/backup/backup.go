// Package backup creates consistent snapshots of the Sundial SQLite database
// and prunes old snapshots by age. The agent's memory is the product; losing
// the database means losing everything it has learned about the user.
package backup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Snapshot is one backup file on disk.
type Snapshot struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Take creates a point-in-time snapshot of the database at dbPath inside
// destDir and verifies its integrity. VACUUM INTO produces a consistent copy
// even while the live process holds the database in WAL mode.
func Take(dbPath, destDir string) (*Snapshot, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}

	dest := filepath.Join(destDir,
		fmt.Sprintf("sundial-%s.db", time.Now().UTC().Format("20060102-150405")))

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("backup: failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("backup: database not readable: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("backup: snapshot failed: %w", err)
	}

	if err := Verify(dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}
	return &Snapshot{Path: dest, CreatedAt: info.ModTime(), Size: info.Size()}, nil
}

// Verify runs SQLite's integrity check against a snapshot file.
func Verify(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}

// Restore copies a verified snapshot over the target database path. The live
// process must not hold the target while this runs.
func Restore(snapshotPath, dbPath string) error {
	if err := Verify(snapshotPath); err != nil {
		return err
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: failed to read snapshot: %w", err)
	}
	// Stale WAL sidecar files would shadow the restored content.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	if err := os.WriteFile(dbPath, data, 0o644); err != nil {
		return fmt.Errorf("backup: failed to write database: %w", err)
	}

	return Verify(dbPath)
}

// List returns the snapshots in a directory, newest first.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Prune deletes snapshots beyond keep most-recent ones, and any snapshot
// older than maxAge. keep <= 0 means no count limit; maxAge <= 0 means no
// age limit. Returns the number of snapshots removed.
func Prune(dir string, keep int, maxAge time.Duration) (int, error) {
	snapshots, err := List(dir)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for i, snap := range snapshots {
		excess := keep > 0 && i >= keep
		expired := maxAge > 0 && now.Sub(snap.CreatedAt) > maxAge
		if !excess && !expired {
			continue
		}
		if err := os.Remove(snap.Path); err != nil {
			return removed, fmt.Errorf("backup: failed to remove %s: %w", snap.Path, err)
		}
		removed++
	}
	return removed, nil
}
