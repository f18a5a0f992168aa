package store

import (
	"context"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Vacuum implements Store's db_maint admin command. It backs up the live
// file, compacts into a fresh file via bolt.Compact, then swaps it in.
// bbolt's own file lock means the backup and swap are safe without extra
// coordination: nothing else can have the file open concurrently.
func (s *BoltStore) Vacuum(ctx context.Context) error {
	path := s.db.Path()
	backupPath := path + ".backup"
	tmpPath := path + ".compact"

	if err := copyFile(path, backupPath); err != nil {
		return fmt.Errorf("backup before vacuum: %w", err)
	}

	tmp, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("open compaction target: %w", err)
	}

	if err := bolt.Compact(tmp, s.db, 0); err != nil {
		tmp.Close()
		return fmt.Errorf("compact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compaction target: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close original: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("swap compacted file: %w", err)
	}

	reopened, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("reopen after compaction: %w", err)
	}
	s.db = reopened
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
