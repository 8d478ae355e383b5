package runner

import (
	"context"
	"errors"
)

// ErrNotFound marks a missing file or entity in a mediated resource.
// It surfaces as an execution failure, never an authorization failure.
var ErrNotFound = errors.New("not found")

// Filesystem is the downstream file abstraction the runner mediates.
// Implementations live outside the kernel and are swappable.
type Filesystem interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
}

// FactStore is the downstream memory-fact abstraction.
type FactStore interface {
	Read(ctx context.Context, entityID string) ([]string, error)
	Write(ctx context.Context, entityID string, fact string) error
}
