// Package storage reads and writes the recognizer's file artifacts: the
// classifier weights and optional utterance dumps. Artifacts live either on
// a local filesystem (through afero, so tests can run in memory) or in an
// S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. A missing file yields an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write creates or truncates the named file, creating parents as
	// needed. The data is committed when the writer is closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Deleting a missing file is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Location is a parsed artifact URI: a store plus a path inside it.
type Location struct {
	Store FileStore
	Path  string
	URI   string
}

// Options configures Open.
type Options struct {
	// Fs backs local paths. Nil means the OS filesystem.
	Fs afero.Fs
	// S3 configures s3:// URIs.
	S3 S3Config
	// S3Client overrides the client built from S3.
	S3Client S3Client
}

// ErrBadURI is returned by Open for URIs it cannot interpret.
var ErrBadURI = errors.New("storage: bad uri")

// Open resolves uri to a store and a path. Accepted forms:
//
//	/abs/path/weights.msgpack
//	relative/path/weights.msgpack
//	file:///abs/path/weights.msgpack
//	s3://bucket/key/of/weights.msgpack
//
// The parent directory of a local path becomes the store root.
func Open(uri string, opts Options) (Location, error) {
	if uri == "" {
		return Location{}, fmt.Errorf("%w: empty", ErrBadURI)
	}
	if !strings.Contains(uri, "://") {
		return openLocal(uri, uri, opts)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrBadURI, err)
	}
	switch u.Scheme {
	case "file":
		return openLocal(uri, u.Path, opts)
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %s: want s3://bucket/key", ErrBadURI, uri)
		}
		client := opts.S3Client
		if client == nil {
			client = NewS3Client(opts.S3)
		}
		dir, file := path.Split(key)
		return Location{
			Store: NewS3(client, u.Host, strings.TrimSuffix(dir, "/")),
			Path:  file,
			URI:   uri,
		}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadURI, u.Scheme)
	}
}

// OpenDir resolves uri to a store rooted at a directory: a local directory
// path or s3://bucket[/prefix].
func OpenDir(uri string, opts Options) (FileStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadURI)
	}
	if !strings.Contains(uri, "://") {
		return newLocal(opts, uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadURI, err)
	}
	switch u.Scheme {
	case "file":
		return newLocal(opts, u.Path)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s: want s3://bucket[/prefix]", ErrBadURI, uri)
		}
		client := opts.S3Client
		if client == nil {
			client = NewS3Client(opts.S3)
		}
		return NewS3(client, u.Host, strings.Trim(u.Path, "/")), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrBadURI, u.Scheme)
	}
}

func newLocal(opts Options, dir string) (*Local, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return NewLocal(fs, dir)
}

func openLocal(uri, p string, opts Options) (Location, error) {
	dir, file := filepath.Split(p)
	if file == "" {
		return Location{}, fmt.Errorf("%w: %s is a directory", ErrBadURI, uri)
	}
	if dir == "" {
		dir = "."
	}
	store, err := newLocal(opts, dir)
	if err != nil {
		return Location{}, err
	}
	return Location{Store: store, Path: file, URI: uri}, nil
}

// Open opens the location for reading.
func (l Location) Open(ctx context.Context) (io.ReadCloser, error) {
	return l.Store.Read(ctx, l.Path)
}

// ReadAll reads the whole artifact.
func (l Location) ReadAll(ctx context.Context) ([]byte, error) {
	r, err := l.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Create opens the location for writing.
func (l Location) Create(ctx context.Context) (io.WriteCloser, error) {
	return l.Store.Write(ctx, l.Path)
}

func (l Location) String() string {
	return l.URI
}
