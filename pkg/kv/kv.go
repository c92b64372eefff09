// Package kv is the recognizer's small persistent key-value store. It holds
// per-context tuning (silence level, confidence threshold, hangover) between
// runs of the CLI.
//
// Keys are hierarchical paths such as Key{"settings", "default"} and are
// stored joined by '/'. Two implementations are provided: Badger for disk
// persistence and Memory for tests.
package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// ErrBadKey is returned for keys that are empty or have segments containing
// the separator.
var ErrBadKey = errors.New("kv: bad key")

// Separator joins key segments in storage.
const Separator = '/'

// Key is a hierarchical path.
type Key []string

func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

func (k Key) encode() ([]byte, error) {
	if len(k) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadKey)
	}
	for _, seg := range k {
		if seg == "" || strings.IndexByte(seg, Separator) >= 0 {
			return nil, fmt.Errorf("%w: segment %q", ErrBadKey, seg)
		}
	}
	return []byte(k.String()), nil
}

// prefixBytes returns the scan prefix for k. An empty key scans everything.
// A non-empty prefix ends in the separator so "a/b" does not match "a/bc".
func (k Key) prefixBytes() ([]byte, error) {
	if len(k) == 0 {
		return nil, nil
	}
	b, err := k.encode()
	if err != nil {
		return nil, err
	}
	return append(b, Separator), nil
}

func decodeKey(b []byte) Key {
	return Key(strings.Split(string(b), string(Separator)))
}

// Entry is a key-value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// Close releases the store.
	Close() error
}
