package storage

import (
	"context"

	"github.com/poiesic/regdex/core"
)

// RecordStore is the durable source of truth for document processing state.
// Implementations must be thread-safe and persist every state change
// atomically with respect to process crashes.
type RecordStore interface {
	// UpsertDiscovered records a discovered descriptor.
	// If the id is absent, a new record is inserted with StatusDiscovered.
	// If present and the metadata content hash differs, the current record
	// is snapshotted as a superseded version, the version counter is
	// bumped, downstream stage fields are reset and the record returns to
	// StatusDiscovered. Otherwise the call is a no-op.
	// language is the OCR language hint for the document; empty keeps any
	// hint already on the record. The hint is not part of the metadata
	// hash, so changing it alone never triggers reprocessing.
	// The bool result reports whether the store changed.
	UpsertDiscovered(ctx context.Context, id, sourceURL string, metadata map[string]string, language string) (*core.DocumentRecord, bool, error)

	// Get retrieves a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*core.DocumentRecord, error)

	// GetVersion retrieves a superseded snapshot of a record.
	// Returns ErrNotFound if the version was never superseded.
	GetVersion(ctx context.Context, id string, version int) (*core.DocumentRecord, error)

	// ListByStatus returns all records currently at the given status,
	// ordered by id. Sweeps re-list on every run, which makes stage scans
	// restartable after interruption.
	ListByStatus(ctx context.Context, status core.Status) ([]*core.DocumentRecord, error)

	// ListIDsByStatus returns only the ids at the given status, read from
	// the status index without loading full records.
	ListIDsByStatus(ctx context.Context, status core.Status) ([]string, error)

	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (map[core.Status]int, error)

	// Transition conditionally advances a record. The update fails with
	// ErrConflict if the record's current status does not match from, or
	// if another writer committed first. apply mutates the record after
	// the status check and before the write; the status change, the apply
	// mutations, the audit trail entry and the status index update are
	// committed in a single transaction.
	Transition(ctx context.Context, id string, from, to core.Status, apply func(*core.DocumentRecord)) (*core.DocumentRecord, error)

	// Update persists field changes on a record without a status change,
	// e.g. attempt counters after a transient failure.
	Update(ctx context.Context, record *core.DocumentRecord) error

	// Close closes the storage backend and releases resources.
	Close() error
}
