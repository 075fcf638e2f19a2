package downloader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/spf13/afero"
)

// tempFiles tracks the artifacts a downloader has written to its temp dir.
type tempFiles struct {
	fs    afero.Fs
	dir   string
	mu    sync.Mutex
	paths map[entity.ModuleKey]string
}

func newTempFiles(fs afero.Fs, dir string) *tempFiles {
	if dir == "" {
		dir = os.TempDir()
	}

	return &tempFiles{
		fs:    fs,
		dir:   dir,
		paths: make(map[entity.ModuleKey]string),
	}
}

func (t *tempFiles) store(m *entity.Module, r io.Reader) (string, error) {
	if err := t.fs.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create temp dir: %w", err)
	}

	path := filepath.Join(t.dir, fmt.Sprintf("%s-%s", uuid.NewString(), m.Filename()))

	f, err := t.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("cannot create temp file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = t.fs.Remove(path)

		return "", fmt.Errorf("cannot write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = t.fs.Remove(path)

		return "", fmt.Errorf("cannot close temp file: %w", err)
	}

	t.mu.Lock()
	prev, exists := t.paths[m.Key()]
	t.paths[m.Key()] = path
	t.mu.Unlock()

	if exists {
		_ = t.fs.Remove(prev)
	}

	return path, nil
}

func (t *tempFiles) cleanup(m *entity.Module) error {
	t.mu.Lock()
	path, exists := t.paths[m.Key()]
	delete(t.paths, m.Key())
	t.mu.Unlock()

	if !exists {
		return nil
	}

	if err := t.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove temp file: %w", err)
	}

	return nil
}
