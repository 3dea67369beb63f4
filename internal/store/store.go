// Package store is the on-device Event Store: an append-only, ordered log of
// detection events waiting for connectivity.
//
// Both backends keep append order, treat a missing backing resource as an
// empty store, and make Clear and Replace atomic.
package store

import (
	"context"
	"fmt"

	"github.com/care/detectd/internal/config"
	"github.com/care/detectd/internal/types"
)

// Store is the Event Store contract
type Store interface {
	// Append durably adds events after the existing records, in order
	Append(ctx context.Context, events []types.DetectionEvent) error
	// ReadAll returns every record in append order without mutating the store
	ReadAll(ctx context.Context) ([]types.DetectionEvent, error)
	// Clear atomically empties the store
	Clear(ctx context.Context) error
	// Replace atomically makes the store contain exactly events
	Replace(ctx context.Context, events []types.DetectionEvent) error
	// Len returns the number of stored records
	Len(ctx context.Context) (int, error)
	// Close releases the backing resource
	Close() error
}

// Open selects the backend configured in cfg
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
