package store

import (
	"context"
	"errors"
)

// ErrUnavailable reports a failed read or write against the underlying storage.
var ErrUnavailable = errors.New("store unavailable")

// Scope is one named storage scope.
//
// Get reports ok=false for a missing key. Set writes every entry or none. Remove deletes
// every listed key or none; removing missing keys is not an error.
type Scope interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, entries map[string]string) error
	Remove(ctx context.Context, keys ...string) error
}
