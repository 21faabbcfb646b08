package local

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// dirSnapshotWriter stages snapshot files in a directory owned by the engine.
type dirSnapshotWriter struct {
	dir string

	mu    sync.Mutex
	files []string
}

func (w *dirSnapshotWriter) Path() string { return w.dir }

// AddFile registers a staged file as a snapshot member. The file must already
// exist under the writer directory.
func (w *dirSnapshotWriter) AddFile(name string) error {
	if _, err := os.Stat(filepath.Join(w.dir, name)); err != nil {
		return fmt.Errorf("local: snapshot member %s: %w", name, err)
	}
	w.mu.Lock()
	w.files = append(w.files, name)
	w.mu.Unlock()
	return nil
}

// dirSnapshotReader exposes a finalized snapshot directory.
type dirSnapshotReader struct {
	dir string
}

func (r *dirSnapshotReader) Path() string { return r.dir }

func (r *dirSnapshotReader) ListFiles() []string {
	var files []string
	_ = filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(r.dir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	return files
}
