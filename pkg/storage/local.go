package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// Local implements FileStore on an afero filesystem. All paths are resolved
// under the root directory given to NewLocal.
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal creates a Local store rooted at dir on fsys, creating dir if
// needed.
func NewLocal(fsys afero.Fs, dir string) (*Local, error) {
	if _, ok := fsys.(*afero.OsFs); ok {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		dir = abs
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{fs: fsys, root: dir}, nil
}

// NewOSLocal creates a Local store on the OS filesystem.
func NewOSLocal(dir string) (*Local, error) {
	return NewLocal(afero.NewOsFs(), dir)
}

// Root returns the store root directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

// Read opens the named file for reading.
func (l *Local) Read(_ context.Context, path string) (io.ReadCloser, error) {
	return l.fs.Open(l.resolve(path))
}

// Write creates or truncates the named file.
func (l *Local) Write(_ context.Context, path string) (io.WriteCloser, error) {
	full := l.resolve(path)
	if err := l.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return l.fs.Create(full)
}

// Delete removes the named file.
func (l *Local) Delete(_ context.Context, path string) error {
	err := l.fs.Remove(l.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether the named file exists.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	return afero.Exists(l.fs, l.resolve(path))
}

var _ FileStore = (*Local)(nil)
