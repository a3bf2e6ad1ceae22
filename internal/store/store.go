// Package store defines the persistence interfaces for the edge engine.
// Implementations include a JSON file (atomic write with a backup copy),
// PostgreSQL, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/weather-edge/internal/model"
)

var (
	// ErrNoState is returned by Load when nothing has been persisted yet.
	ErrNoState = errors.New("store: no persisted state")

	// ErrCorruptState is returned by Load when the stored state cannot be
	// decoded and no usable backup exists.
	ErrCorruptState = errors.New("store: corrupt state")
)

// StateStore persists the ledger state document. Save replaces the whole
// document; a reader never observes a partial write.
type StateStore interface {
	// Load returns the last saved state, or ErrNoState.
	Load(ctx context.Context) (*model.State, error)

	// Save atomically replaces the stored state.
	Save(ctx context.Context, st *model.State) error
}

// AuditLog is the append-only record of settled positions.
type AuditLog interface {
	// Append records one settled position.
	Append(ctx context.Context, pos model.Position) error
}

// Store is both halves of persistence.
type Store interface {
	StateStore
	AuditLog
}
