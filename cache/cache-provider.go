package cache

import (
	"context"
	"errors"
)

// ErrStoreName is returned when an operation is given an empty store name.
var ErrStoreName = errors.New("store name required")

// Storage is a set of named stores, each mapping a request identity (key)
// to a serialized HTTP response.
// It is the Go counterpart of the browser cache storage: stores are
// created lazily by the first Put and exist until deleted.
//
// Implementations must be thread-safe!
// Put must be atomic per key, last writer wins.
type Storage interface {
	// Keys returns the names of all existing stores.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named store and all its entries.
	// It returns false if no such store existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Match returns the response stored in the named store under the given key.
	// A miss is not an error: it returns a nil slice and false.
	Match(ctx context.Context, name, key string) ([]byte, bool, error)
	// Put stores the response under the given key in the named store,
	// creating the store if needed.
	Put(ctx context.Context, name, key string, bytes []byte) error
}
