// Package blockstore persists immutable blocks keyed by their content
// identifier.
package blockstore

import (
	"context"
	"errors"
	"fmt"

	"dagtree/internal/hash"
)

var (
	// ErrNotFound is returned by Get for an unknown block.
	ErrNotFound = errors.New("block not found")

	// ErrStorageFailure matches every *StorageError via errors.Is.
	ErrStorageFailure = errors.New("storage failure")
)

// Store is a content-addressed block store. Implementations must be safe
// for concurrent use. Put of an existing block is a no-op.
type Store interface {
	Put(ctx context.Context, id hash.ID, data []byte) error
	Get(ctx context.Context, id hash.ID) ([]byte, error)
	Has(ctx context.Context, id hash.ID) (bool, error)
}

// StorageError reports a block store operation that failed.
type StorageError struct {
	Op  string
	ID  hash.ID
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("block %s %s: %v", e.Op, e.ID.Short(), e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

// PutFailed wraps err as a write StorageError unless it already is one.
// Context errors are returned unchanged.
func PutFailed(id hash.ID, err error) error {
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StorageError{Op: "put", ID: id, Err: err}
}
