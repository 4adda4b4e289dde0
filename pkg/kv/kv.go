// Package kv stores values under hierarchical path keys. A Key is a
// slice of string segments (Key{"turns", "sess_4f2a", "000000123"})
// joined with a configurable separator (default ':') in the encoded
// form.
//
// Two implementations: BadgerDB for on-disk turn history, and an
// in-memory map for tests.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound reports a Get against a key the store does not hold.
var ErrNotFound = errors.New("kv: not found")

// Key addresses a value as a path of segments. Segments must not
// contain the configured separator character.
type Key []string

// String joins the key with ':' for logs and errors.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Entry pairs a key with its value, in List output and BatchSet input.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store addressed by path keys.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields every entry under prefix, in ascending lexicographic
	// order of the encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// ListReverse is List in descending order. With time-ordered key
	// segments this yields the newest entries first.
	ListReverse(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet stores several entries in one atomic write.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes several keys in one atomic write.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases the store's resources.
	Close() error
}

// DefaultSeparator joins key segments in the encoded form unless
// Options overrides it.
const DefaultSeparator byte = ':'

// Options tunes how keys are encoded.
type Options struct {
	// Separator joins key segments in the encoded form. Zero means
	// DefaultSeparator.
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

func (o *Options) sepString() string {
	return string([]byte{o.sep()})
}

// encode converts a Key to its stored byte representation.
func (o *Options) encode(k Key) []byte {
	return []byte(strings.Join(k, o.sepString()))
}

// decode converts a stored byte representation back to a Key.
func (o *Options) decode(b []byte) Key {
	return Key(strings.Split(string(b), o.sepString()))
}

// scanPrefix returns the encoded prefix to match against stored keys. A
// trailing separator is appended so prefix {"a","b"} does not match key
// {"a","bc"}. An empty prefix matches everything.
func (o *Options) scanPrefix(prefix Key) []byte {
	p := o.encode(prefix)
	if len(p) == 0 {
		return nil
	}
	return append(p, o.sep())
}
