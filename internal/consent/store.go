package consent

import (
	"context"
)

// Backend persists a single consent record. Implementations must write and
// clear the three fields together: a reader never observes flags from one
// save next to the expiry or version of another.
//
// Read returns sentinel.ErrNotFound when nothing is stored.
type Backend interface {
	Read(ctx context.Context) (*Record, error)
	Write(ctx context.Context, record Record) error
	Clear(ctx context.Context) error
}
