package badger

import (
	"context"
	"testing"

	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) storage.RecordStore {
	t.Helper()
	store, backend, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		backend.Close()
	})
	return store
}

func discover(t *testing.T, store storage.RecordStore, id string, metadata map[string]string) *core.DocumentRecord {
	t.Helper()
	record, changed, err := store.UpsertDiscovered(context.Background(), id, "http://x/"+id+".pdf", metadata, "")
	require.NoError(t, err)
	require.True(t, changed)
	return record
}

func TestUpsertDiscoveredInsert(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := discover(t, store, "c-1/2024", map[string]string{"subject": "FX Guidelines"})

	assert.Equal(t, core.StatusDiscovered, record.Status)
	assert.Equal(t, 1, record.Version)
	assert.False(t, record.InsertedAt.IsZero())

	got, err := store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, record.MetadataHash, got.MetadataHash)

	ids, err := store.ListIDsByStatus(ctx, core.StatusDiscovered)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1/2024"}, ids)
}

func TestUpsertDiscoveredUnchangedIsNoOp(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "FX Guidelines"})

	record, changed, err := store.UpsertDiscovered(ctx, "c-1/2024", "http://x/c-1/2024.pdf",
		map[string]string{"subject": "FX Guidelines"}, "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, record.Version)
}

func TestUpsertDiscoveredMetadataChangeSupersedes(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "FX Guidelines"})

	// Advance the record to EXTRACTED so downstream fields exist.
	_, err := store.Transition(ctx, "c-1/2024", core.StatusDiscovered, core.StatusDownloaded, func(r *core.DocumentRecord) {
		r.LocalPath = "/tmp/c1.pdf"
	})
	require.NoError(t, err)
	_, err = store.Transition(ctx, "c-1/2024", core.StatusDownloaded, core.StatusExtracted, func(r *core.DocumentRecord) {
		r.ExtractedText = "old text"
	})
	require.NoError(t, err)

	record, changed, err := store.UpsertDiscovered(ctx, "c-1/2024", "http://x/c-1/2024.pdf",
		map[string]string{"subject": "FX Guidelines (revised)"}, "")
	require.NoError(t, err)
	assert.True(t, changed)

	// New version requires full reprocessing.
	assert.Equal(t, 2, record.Version)
	assert.Equal(t, core.StatusDiscovered, record.Status)
	assert.Empty(t, record.LocalPath)
	assert.Empty(t, record.ExtractedText)
	assert.Zero(t, record.Attempts)

	// The status index moved the record back to DISCOVERED.
	ids, err := store.ListIDsByStatus(ctx, core.StatusExtracted)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = store.ListIDsByStatus(ctx, core.StatusDiscovered)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1/2024"}, ids)

	// The superseded version is preserved for audit.
	old, err := store.GetVersion(ctx, "c-1/2024", 1)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExtracted, old.Status)
	assert.Equal(t, "old text", old.ExtractedText)
	assert.Equal(t, "FX Guidelines", old.Metadata["subject"])
}

func TestUpsertDiscoveredKeepsLanguageHint(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record, changed, err := store.UpsertDiscovered(ctx, "c-1/2024", "http://x/c-1/2024.pdf",
		map[string]string{"subject": "FX Guidelines"}, "ben+eng")
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "ben+eng", record.Language)

	// Superseding without a hint keeps the one already recorded.
	record, changed, err = store.UpsertDiscovered(ctx, "c-1/2024", "http://x/c-1/2024.pdf",
		map[string]string{"subject": "FX Guidelines (revised)"}, "")
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, 2, record.Version)
	assert.Equal(t, "ben+eng", record.Language)

	got, err := store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, "ben+eng", got.Language)
}

func TestGetNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetVersion(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransitionAdvancesAndIndexes(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "FX"})

	record, err := store.Transition(ctx, "c-1/2024", core.StatusDiscovered, core.StatusDownloaded, func(r *core.DocumentRecord) {
		r.LocalPath = "/tmp/c1.pdf"
	})
	require.NoError(t, err)

	assert.Equal(t, core.StatusDownloaded, record.Status)
	assert.Equal(t, "/tmp/c1.pdf", record.LocalPath)
	require.Len(t, record.Transitions, 1)
	assert.Equal(t, core.StatusDiscovered, record.Transitions[0].From)
	assert.Equal(t, core.StatusDownloaded, record.Transitions[0].To)

	ids, err := store.ListIDsByStatus(ctx, core.StatusDiscovered)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = store.ListIDsByStatus(ctx, core.StatusDownloaded)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1/2024"}, ids)
}

func TestTransitionWrongFromStatusConflicts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "FX"})

	_, err := store.Transition(ctx, "c-1/2024", core.StatusDownloaded, core.StatusExtracted, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Only one of two identical transitions can win.
	_, err = store.Transition(ctx, "c-1/2024", core.StatusDiscovered, core.StatusDownloaded, nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, "c-1/2024", core.StatusDiscovered, core.StatusDownloaded, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestTransitionCannotSkipStages(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "FX"})

	_, err := store.Transition(ctx, "c-1/2024", core.StatusDiscovered, core.StatusExtracted, nil)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestTransitionFailureAndRetry(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "FX"})

	record, err := store.Transition(ctx, "c-1/2024", core.StatusDiscovered, core.StatusFailed, func(r *core.DocumentRecord) {
		r.FailureReason = "404 not found"
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, record.Status)
	assert.Equal(t, core.StatusDiscovered, record.FailedFrom)
	assert.Equal(t, "404 not found", record.FailureReason)

	// Retry must return to the stage that failed, never elsewhere.
	_, err = store.Transition(ctx, "c-1/2024", core.StatusFailed, core.StatusDownloaded, nil)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	record, err = store.Transition(ctx, "c-1/2024", core.StatusFailed, core.StatusDiscovered, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDiscovered, record.Status)
	assert.Empty(t, record.FailureReason)
}

func TestUpdatePersistsWithoutStatusChange(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := discover(t, store, "c-1/2024", map[string]string{"subject": "FX"})

	record.Attempts.Fetch = 2
	require.NoError(t, store.Update(ctx, record))

	got, err := store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts.Fetch)
	assert.Equal(t, core.StatusDiscovered, got.Status)

	// Update refuses to smuggle a status change past the state machine.
	got.Status = core.StatusDownloaded
	assert.ErrorIs(t, store.Update(ctx, got), storage.ErrConflict)
}

func TestCountByStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "a"})
	discover(t, store, "c-2/2024", map[string]string{"subject": "b"})
	discover(t, store, "c-3/2024", map[string]string{"subject": "c"})

	_, err := store.Transition(ctx, "c-2/2024", core.StatusDiscovered, core.StatusDownloaded, nil)
	require.NoError(t, err)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[core.Status]int{
		core.StatusDiscovered: 2,
		core.StatusDownloaded: 1,
	}, counts)
}

func TestListByStatusLoadsFullRecords(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	discover(t, store, "c-1/2024", map[string]string{"subject": "a"})
	discover(t, store, "c-2/2024", map[string]string{"subject": "b"})

	records, err := store.ListByStatus(ctx, core.StatusDiscovered)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c-1/2024", records[0].Id)
	assert.Equal(t, "c-2/2024", records[1].Id)
	assert.Equal(t, "a", records[0].Metadata["subject"])
}
