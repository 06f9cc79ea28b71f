package storage

import (
	"context"
	"errors"
)

// Storage is the durable key-value port the cart store persists through.
// Consumers depend on this interface, not on a particular backend.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var ErrNotFound = errors.New("key not found")
