// Command sundial-backup snapshots and restores the Sundial SQLite database.
//
//	sundial-backup take    -db data/sundial.db -dir data/backups
//	sundial-backup list    -dir data/backups
//	sundial-backup restore -snapshot data/backups/sundial-20260831-090000.db -db data/sundial.db
//	sundial-backup prune   -dir data/backups -keep 30 -max-age 720h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sundialhq/sundial/internal/backup"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "take":
		fs := flag.NewFlagSet("take", flag.ExitOnError)
		dbPath := fs.String("db", "data/sundial.db", "Path to the live database")
		dir := fs.String("dir", "data/backups", "Snapshot directory")
		_ = fs.Parse(os.Args[2:])

		snap, err := backup.Take(*dbPath, *dir)
		if err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		fmt.Printf("Snapshot written: %s (%d bytes)\n", snap.Path, snap.Size)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		dir := fs.String("dir", "data/backups", "Snapshot directory")
		_ = fs.Parse(os.Args[2:])

		snapshots, err := backup.List(*dir)
		if err != nil {
			log.Fatalf("List failed: %v", err)
		}
		if len(snapshots) == 0 {
			fmt.Println("No snapshots found")
			return
		}
		for _, snap := range snapshots {
			fmt.Printf("%s  %s  %d bytes\n",
				snap.CreatedAt.Format(time.RFC3339), snap.Path, snap.Size)
		}

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		snapshot := fs.String("snapshot", "", "Snapshot file to restore from")
		dbPath := fs.String("db", "data/sundial.db", "Target database path")
		_ = fs.Parse(os.Args[2:])

		if *snapshot == "" {
			log.Fatal("restore requires -snapshot")
		}
		if err := backup.Restore(*snapshot, *dbPath); err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		fmt.Printf("Restored %s from %s\n", *dbPath, *snapshot)

	case "prune":
		fs := flag.NewFlagSet("prune", flag.ExitOnError)
		dir := fs.String("dir", "data/backups", "Snapshot directory")
		keep := fs.Int("keep", 30, "Number of most recent snapshots to keep (0 = unlimited)")
		maxAge := fs.Duration("max-age", 0, "Delete snapshots older than this (0 = no age limit)")
		_ = fs.Parse(os.Args[2:])

		removed, err := backup.Prune(*dir, *keep, *maxAge)
		if err != nil {
			log.Fatalf("Prune failed: %v", err)
		}
		fmt.Printf("Removed %d snapshots\n", removed)

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: sundial-backup <take|list|restore|prune> [flags]")
}
