package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrBadCommand is returned when a committed payload cannot be decoded or
// names an unknown operation. The caller still counts the entry as applied.
var ErrBadCommand = errors.New("kv: malformed command")

// Store wraps a Pebble database behind an atomically swappable handle.
// Mutations arrive single-writer from the apply goroutine; reads may run
// concurrently from request-handling goroutines. Restore replaces the handle
// wholesale so a failed restore never touches the serving instance.
type Store struct {
	mu  sync.RWMutex
	db  *pebble.DB
	dir string
}

// Open opens (or creates) a store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", dir, err)
	}
	return &Store{db: db, dir: dir}, nil
}

// Dir returns the directory currently backing the store. It changes after a
// successful Restore.
func (s *Store) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// Get returns the current value for key, if present.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	out := string(val)
	if err := closer.Close(); err != nil {
		return "", false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return out, true, nil
}

// Apply decodes and executes one serialized command. Unknown or undecodable
// payloads return ErrBadCommand without mutating state.
func (s *Store) Apply(raw []byte) error {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch cmd.Type {
	case PutCmd:
		if err := s.db.Set([]byte(cmd.Key), []byte(cmd.Value), pebble.Sync); err != nil {
			return fmt.Errorf("kv: put %q: %w", cmd.Key, err)
		}
	case DeleteCmd:
		if err := s.db.Delete([]byte(cmd.Key), pebble.Sync); err != nil {
			return fmt.Errorf("kv: delete %q: %w", cmd.Key, err)
		}
	case NoopCmd:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadCommand, cmd.Type)
	}
	return nil
}

// Checkpoint writes a consistent point-in-time copy of the database into
// destDir. destDir must not exist yet.
func (s *Store) Checkpoint(destDir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.Checkpoint(destDir, pebble.WithFlushedWAL()); err != nil {
		return fmt.Errorf("kv: checkpoint to %s: %w", destDir, err)
	}
	return nil
}

// Restore replaces the live database with the checkpoint at checkpointDir.
// The checkpoint is first copied to a fresh directory and opened there; only
// after a successful open is the live handle swapped. On any failure the
// previously-serving instance remains untouched.
func (s *Store) Restore(checkpointDir string) error {
	s.mu.RLock()
	parent := filepath.Dir(s.dir)
	s.mu.RUnlock()

	fresh := filepath.Join(parent, fmt.Sprintf("db.%d", time.Now().UnixNano()))
	if err := copyDir(checkpointDir, fresh); err != nil {
		_ = os.RemoveAll(fresh)
		return fmt.Errorf("kv: stage restore from %s: %w", checkpointDir, err)
	}

	db, err := pebble.Open(fresh, &pebble.Options{})
	if err != nil {
		_ = os.RemoveAll(fresh)
		return fmt.Errorf("kv: open restored %s: %w", fresh, err)
	}

	s.mu.Lock()
	old, oldDir := s.db, s.dir
	s.db, s.dir = db, fresh
	s.mu.Unlock()

	if err := old.Close(); err != nil {
		return fmt.Errorf("kv: close replaced db: %w", err)
	}
	_ = os.RemoveAll(oldDir)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
