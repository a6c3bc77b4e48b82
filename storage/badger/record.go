package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/storage"
)

// RecordRepository implements storage.RecordStore for BadgerDB.
//
// Every mutation runs in a single Badger transaction: the record value, the
// status index entry and any history snapshot commit together or not at all.
// Commit-time races surface as storage.ErrConflict.
type RecordRepository struct {
	backend *Backend
}

var _ storage.RecordStore = (*RecordRepository)(nil)

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(backend *Backend) (*RecordRepository, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	return &RecordRepository{backend: backend}, nil
}

// Close releases repository resources. The backend is owned by the caller.
func (r *RecordRepository) Close() error {
	return nil
}

// UpsertDiscovered records a discovered descriptor, superseding the current
// version when the metadata content hash changed. The language hint is
// stored on the record for the extract stage; it does not participate
// in change detection.
func (r *RecordRepository) UpsertDiscovered(ctx context.Context, id, sourceURL string, metadata map[string]string, language string) (*core.DocumentRecord, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("%w: %w", core.ErrInvalidRecord, core.ErrEmptyID)
	}

	var (
		result  *core.DocumentRecord
		changed bool
	)
	err := r.withWriteTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		hash := core.HashMetadata(metadata)

		existing, err := readRecord(tx, makeDocRecordKey(id))
		if err != nil {
			return err
		}

		if existing == nil {
			record := &core.DocumentRecord{
				Id:           id,
				SourceURL:    sourceURL,
				Metadata:     metadata,
				MetadataHash: hash,
				Language:     language,
				Status:       core.StatusDiscovered,
				Version:      1,
				InsertedAt:   now,
				UpdatedAt:    now,
			}
			if err := writeRecord(tx, record); err != nil {
				return err
			}
			if err := tx.Set(makeDocStatusKey(core.StatusDiscovered, id), nil); err != nil {
				return err
			}
			result, changed = record, true
			return nil
		}

		if existing.MetadataHash == hash {
			// Re-discovery of unchanged metadata is a no-op.
			result = existing
			return nil
		}

		// Material metadata change: snapshot the old version, then reset
		// the record for full reprocessing under a bumped version.
		snapshot := storage.MarshalDocumentRecord(existing)
		if err := tx.Set(makeDocHistoryKey(id, existing.Version), snapshot); err != nil {
			return err
		}

		if language == "" {
			language = existing.Language
		}
		record := &core.DocumentRecord{
			Id:           id,
			SourceURL:    sourceURL,
			Metadata:     metadata,
			MetadataHash: hash,
			Language:     language,
			Status:       core.StatusDiscovered,
			Version:      existing.Version + 1,
			InsertedAt:   existing.InsertedAt,
			UpdatedAt:    now,
		}
		if err := writeRecord(tx, record); err != nil {
			return err
		}
		if existing.Status != core.StatusDiscovered {
			if err := tx.Delete(makeDocStatusKey(existing.Status, id)); err != nil {
				return err
			}
			if err := tx.Set(makeDocStatusKey(core.StatusDiscovered, id), nil); err != nil {
				return err
			}
		}
		result, changed = record, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// Get retrieves a record by id.
func (r *RecordRepository) Get(ctx context.Context, id string) (*core.DocumentRecord, error) {
	var result *core.DocumentRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRecord(tx, makeDocRecordKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetVersion retrieves a superseded snapshot of a record.
func (r *RecordRepository) GetVersion(ctx context.Context, id string, version int) (*core.DocumentRecord, error) {
	var result *core.DocumentRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRecord(tx, makeDocHistoryKey(id, version))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListByStatus returns all records currently at the given status, ordered by id.
func (r *RecordRepository) ListByStatus(ctx context.Context, status core.Status) ([]*core.DocumentRecord, error) {
	var results []*core.DocumentRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialDocStatusKey(status)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id := idFromStatusKey(iter.Item().Key(), status)
			if id == "" {
				continue
			}
			record, err := readRecord(tx, makeDocRecordKey(id))
			if err != nil {
				return err
			}
			if record != nil && record.Status == status {
				results = append(results, record)
			}
		}
		return nil
	}, false)
	return results, err
}

// ListIDsByStatus returns the ids at the given status from the index alone.
func (r *RecordRepository) ListIDsByStatus(ctx context.Context, status core.Status) ([]string, error) {
	var ids []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialDocStatusKey(status)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if id := idFromStatusKey(iter.Item().Key(), status); id != "" {
				ids = append(ids, id)
			}
		}
		return nil
	}, false)
	return ids, err
}

// CountByStatus returns the number of records per status.
func (r *RecordRepository) CountByStatus(ctx context.Context) (map[core.Status]int, error) {
	counts := make(map[core.Status]int)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for status := core.StatusDiscovered; status <= core.StatusFailed; status++ {
			prefix := makePartialDocStatusKey(status)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)
			n := 0
			for iter.Rewind(); iter.Valid(); iter.Next() {
				n++
			}
			iter.Close()
			if n > 0 {
				counts[status] = n
			}
		}
		return nil
	}, false)
	return counts, err
}

// Transition conditionally advances a record through the state machine.
func (r *RecordRepository) Transition(ctx context.Context, id string, from, to core.Status, apply func(*core.DocumentRecord)) (*core.DocumentRecord, error) {
	var result *core.DocumentRecord
	err := r.withWriteTx(func(tx *badger.Txn) error {
		record, err := readRecord(tx, makeDocRecordKey(id))
		if err != nil {
			return err
		}
		if record == nil {
			return storage.ErrNotFound
		}
		if record.Status != from {
			return fmt.Errorf("%w: %s is %s, expected %s", storage.ErrConflict, id, record.Status, from)
		}
		if !core.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, to)
		}
		if from == core.StatusFailed && to != record.FailedFrom {
			return fmt.Errorf("%w: retry must return to %s, not %s", core.ErrInvalidTransition, record.FailedFrom, to)
		}

		now := time.Now().UTC()
		record.Status = to
		if to == core.StatusFailed {
			record.FailedFrom = from
		} else if from == core.StatusFailed {
			record.FailureReason = ""
			record.FailedFrom = 0
		}
		if apply != nil {
			apply(record)
		}
		record.Transitions = append(record.Transitions, core.Transition{From: from, To: to, At: now})
		record.UpdatedAt = now

		if err := writeRecord(tx, record); err != nil {
			return err
		}
		if err := tx.Delete(makeDocStatusKey(from, id)); err != nil {
			return err
		}
		if err := tx.Set(makeDocStatusKey(to, id), nil); err != nil {
			return err
		}
		result = record
		return nil
	})
	return result, err
}

// Update persists field changes on a record without a status change.
func (r *RecordRepository) Update(ctx context.Context, record *core.DocumentRecord) error {
	return r.withWriteTx(func(tx *badger.Txn) error {
		existing, err := readRecord(tx, makeDocRecordKey(record.Id))
		if err != nil {
			return err
		}
		if existing == nil {
			return storage.ErrNotFound
		}
		if existing.Status != record.Status {
			return fmt.Errorf("%w: status changed under update of %s", storage.ErrConflict, record.Id)
		}
		record.UpdatedAt = time.Now().UTC()
		return writeRecord(tx, record)
	})
}

// withWriteTx runs fn in a read-write transaction, commits it and maps
// Badger's optimistic-concurrency conflict to storage.ErrConflict.
func (r *RecordRepository) withWriteTx(fn func(tx *badger.Txn) error) error {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

// Helper functions

// readRecord reads a document record from the transaction.
// Returns nil without error when the key is absent.
func readRecord(tx *badger.Txn, key []byte) (*core.DocumentRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var record *core.DocumentRecord
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		record, unmarshalErr = storage.UnmarshalDocumentRecord(val)
		return unmarshalErr
	})
	return record, err
}

// writeRecord serializes and stores a document record.
func writeRecord(tx *badger.Txn, record *core.DocumentRecord) error {
	return tx.Set(makeDocRecordKey(record.Id), storage.MarshalDocumentRecord(record))
}
