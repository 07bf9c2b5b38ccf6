// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Remote blob store collaborator interface

package store

import (
	"context"
	"errors"
)

// ErrNotFound marks a get of a name the store has no object for
var ErrNotFound = errors.New("object not found")

// Store is the remote blob store the engine stages files against.
// Names are opaque identifiers with no implied directory structure.
// Implementations must be safe for concurrent use by many runs.
type Store interface {
	// Get returns the content stored under name, or an error wrapping
	// ErrNotFound when no such object exists
	Get(ctx context.Context, name string) ([]byte, error)

	// Put stores content under name, replacing any previous object
	Put(ctx context.Context, name string, data []byte) error

	// Exists reports whether an object is stored under name
	Exists(ctx context.Context, name string) (bool, error)
}
