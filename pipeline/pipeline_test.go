package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/fetch"
	"github.com/poiesic/regdex/ocr"
	"github.com/poiesic/regdex/storage"
	badgerstore "github.com/poiesic/regdex/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFeed serves a fixed candidate list.
type stubFeed struct {
	records []*core.DocumentRecord
}

func (f *stubFeed) Name() string { return "stub" }

func (f *stubFeed) Discover(ctx context.Context) ([]*core.DocumentRecord, error) {
	return f.records, nil
}

// stubFetcher fakes downloads and counts calls per document.
type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: map[string]int{}, fail: map[string]error{}}
}

func (f *stubFetcher) Fetch(ctx context.Context, id, sourceURL string) (string, error) {
	f.mu.Lock()
	f.calls[id]++
	err := f.fail[id]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "/downloads/" + fetch.SanitizeID(id) + ".pdf", nil
}

func (f *stubFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// stubExtractor fakes OCR, deriving text from the file name.
type stubExtractor struct {
	mu        sync.Mutex
	calls     int
	languages map[string]string
	fail      map[string]error
}

func newStubExtractor() *stubExtractor {
	return &stubExtractor{languages: map[string]string{}, fail: map[string]error{}}
}

func (e *stubExtractor) ExtractText(ctx context.Context, path, language string) (string, int, error) {
	stem := strings.TrimSuffix(filepath.Base(path), ".pdf")
	e.mu.Lock()
	e.calls++
	e.languages[stem] = language
	e.mu.Unlock()
	if err := e.fail[stem]; err != nil {
		return "", 0, err
	}
	return "extracted text of " + stem, 1, nil
}

func (e *stubExtractor) languageFor(stem string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.languages[stem]
}

// stubUploader fakes embedding and upload.
type stubUploader struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func newStubUploader() *stubUploader {
	return &stubUploader{fail: map[string]error{}}
}

func (u *stubUploader) EmbedAndUpsert(ctx context.Context, record *core.DocumentRecord) (int, error) {
	u.mu.Lock()
	u.calls++
	err := u.fail[record.Id]
	u.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 2, nil
}

type fixture struct {
	store     storage.RecordStore
	fetcher   *stubFetcher
	extractor *stubExtractor
	uploader  *stubUploader
	pipeline  *Pipeline
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, backend, err := badgerstore.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	f := &fixture{
		store:     store,
		fetcher:   newStubFetcher(),
		extractor: newStubExtractor(),
		uploader:  newStubUploader(),
	}
	opts = append([]Option{WithPoolSize(4)}, opts...)
	f.pipeline, err = NewPipeline(store, f.fetcher, f.extractor, f.uploader, opts...)
	require.NoError(t, err)
	t.Cleanup(f.pipeline.Release)
	return f
}

func candidate(id string) *core.DocumentRecord {
	return &core.DocumentRecord{
		Id:        id,
		SourceURL: "https://example.org/" + id + ".pdf",
		Metadata:  map[string]string{"title": "Circular " + id, "date": "2024-03-01"},
	}
}

func TestNewPipelineRequiresDependencies(t *testing.T) {
	store, backend, err := badgerstore.NewMemoryStore()
	require.NoError(t, err)
	defer backend.Close()

	_, err = NewPipeline(nil, newStubFetcher(), newStubExtractor(), newStubUploader())
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewPipeline(store, nil, newStubExtractor(), newStubUploader())
	assert.ErrorIs(t, err, ErrFetcherRequired)
	_, err = NewPipeline(store, newStubFetcher(), nil, newStubUploader())
	assert.ErrorIs(t, err, ErrExtractorRequired)
	_, err = NewPipeline(store, newStubFetcher(), newStubExtractor(), nil)
	assert.ErrorIs(t, err, ErrUploaderRequired)
}

func TestRunEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	feed := &stubFeed{records: []*core.DocumentRecord{candidate("c-1/2024")}}
	summary, err := f.pipeline.Run(ctx, feed)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Discover.New)
	assert.Equal(t, 1, summary.Fetch.Advanced)
	assert.Equal(t, 1, summary.Extract.Advanced)
	assert.Equal(t, 1, summary.Upload.Advanced)
	assert.Zero(t, summary.Failures())

	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusUploaded, record.Status)
	assert.Equal(t, "/downloads/c-1_2024.pdf", record.LocalPath)
	assert.Contains(t, record.ExtractedText, "c-1_2024")
	assert.Equal(t, 2, record.ChunkCount)
	assert.Equal(t, 1, record.Version)
	require.Len(t, record.Transitions, 3)
}

func TestLanguageHintReachesExtractor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	hinted := candidate("c-1/2024")
	hinted.Language = "ben+eng"
	feed := &stubFeed{records: []*core.DocumentRecord{hinted, candidate("c-2/2024")}}
	_, err := f.pipeline.Run(ctx, feed)
	require.NoError(t, err)

	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, "ben+eng", record.Language)
	assert.Equal(t, "ben+eng", f.extractor.languageFor("c-1_2024"))
	assert.Empty(t, f.extractor.languageFor("c-2_2024"), "no hint, extractor defaults apply")
}

func TestRunIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	feed := &stubFeed{records: []*core.DocumentRecord{candidate("c-1/2024"), candidate("c-2/2024")}}
	_, err := f.pipeline.Run(ctx, feed)
	require.NoError(t, err)

	summary, err := f.pipeline.Run(ctx, feed)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Discover.Unchanged)
	assert.Zero(t, summary.Fetch.Processed)
	assert.Zero(t, summary.Extract.Processed)
	assert.Zero(t, summary.Upload.Processed)
	assert.Equal(t, 1, f.fetcher.callCount("c-1/2024"), "no re-download on second run")
}

func TestFailureIsolatedToOneRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	records := make([]*core.DocumentRecord, 10)
	for i := range records {
		records[i] = candidate(fmt.Sprintf("c-%d/2024", i+1))
	}
	f.fetcher.fail["c-5/2024"] = &fetch.PermanentError{
		URL: "https://example.org/c-5/2024.pdf", StatusCode: 404, Reason: "Not Found",
	}

	summary, err := f.pipeline.Run(ctx, &stubFeed{records: records})
	require.NoError(t, err)

	assert.Equal(t, 9, summary.Upload.Advanced)
	assert.Equal(t, 1, summary.Fetch.Failed)
	assert.Equal(t, []string{"c-5/2024"}, summary.Fetch.FailedIDs)

	failed, err := f.store.Get(ctx, "c-5/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, failed.Status)
	assert.Equal(t, core.StatusDiscovered, failed.FailedFrom)
	assert.Contains(t, failed.FailureReason, "404")

	ok, err := f.store.Get(ctx, "c-4/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusUploaded, ok.Status)
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fetcher.fail["c-1/2024"] = &fetch.PermanentError{URL: "u", StatusCode: 403, Reason: "Forbidden"}
	_, err := f.pipeline.Run(ctx, &stubFeed{records: []*core.DocumentRecord{candidate("c-1/2024")}})
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.callCount("c-1/2024"))
	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, record.Status)
}

func TestTransientFailuresHitCeiling(t *testing.T) {
	f := setup(t, WithMaxAttempts(3))
	ctx := context.Background()

	f.fetcher.fail["c-1/2024"] = &fetch.TransientError{URL: "u", Err: errors.New("timeout")}
	feed := &stubFeed{records: []*core.DocumentRecord{candidate("c-1/2024")}}
	_, err := f.pipeline.Discover(ctx, feed)
	require.NoError(t, err)

	// First two sweeps leave the record retryable.
	for i := 0; i < 2; i++ {
		summary, err := f.pipeline.FetchSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Retryable)
	}
	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDiscovered, record.Status)
	assert.Equal(t, 2, record.Attempts.Fetch)

	// Third attempt exhausts the budget.
	summary, err := f.pipeline.FetchSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	record, err = f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, record.Status)
	assert.Equal(t, core.StatusDiscovered, record.FailedFrom)
	assert.Equal(t, 3, record.Attempts.Fetch)
}

func TestExtractionErrorIsPermanent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.extractor.fail["c-1_2024"] = &ocr.ExtractionError{Path: "/downloads/c-1_2024.pdf", Pages: 3}
	_, err := f.pipeline.Run(ctx, &stubFeed{records: []*core.DocumentRecord{candidate("c-1/2024")}})
	require.NoError(t, err)

	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, record.Status)
	assert.Equal(t, core.StatusDownloaded, record.FailedFrom)
	assert.Equal(t, 1, record.Attempts.Extract)
}

func TestRetrySweepReturnsToFailedStage(t *testing.T) {
	f := setup(t, WithMaxAttempts(1))
	ctx := context.Background()

	f.uploader.fail["c-1/2024"] = errors.New("index unavailable")
	_, err := f.pipeline.Run(ctx, &stubFeed{records: []*core.DocumentRecord{candidate("c-1/2024")}})
	require.NoError(t, err)

	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, record.Status)
	require.Equal(t, core.StatusExtracted, record.FailedFrom)

	// Clear the fault and retry.
	f.uploader.mu.Lock()
	delete(f.uploader.fail, "c-1/2024")
	f.uploader.mu.Unlock()

	retry, err := f.pipeline.RetrySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Retried)

	record, err = f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusExtracted, record.Status)
	assert.Zero(t, record.Attempts.Upload, "retry restores the attempt budget")
	assert.Empty(t, record.FailureReason)

	summary, err := f.pipeline.UploadSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Advanced)

	record, err = f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusUploaded, record.Status)
}

func TestMetadataChangeTriggersReprocessing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	original := candidate("c-1/2024")
	_, err := f.pipeline.Run(ctx, &stubFeed{records: []*core.DocumentRecord{original}})
	require.NoError(t, err)
	require.Equal(t, 1, f.fetcher.callCount("c-1/2024"))

	// Same document resurfaces with amended metadata.
	amended := candidate("c-1/2024")
	amended.Metadata["date"] = "2024-06-01"

	summary, err := f.pipeline.Run(ctx, &stubFeed{records: []*core.DocumentRecord{amended}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discover.Superseded)
	assert.Equal(t, 1, summary.Fetch.Advanced)
	assert.Equal(t, 2, f.fetcher.callCount("c-1/2024"), "superseded document is re-downloaded")

	record, err := f.store.Get(ctx, "c-1/2024")
	require.NoError(t, err)
	assert.Equal(t, core.StatusUploaded, record.Status)
	assert.Equal(t, 2, record.Version)
	assert.Equal(t, core.HashMetadata(amended.Metadata), record.MetadataHash)
}

func TestDiscoverClassifiesCandidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	feed := &stubFeed{records: []*core.DocumentRecord{candidate("a"), candidate("b")}}
	summary, err := f.pipeline.Discover(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.New)

	changed := candidate("a")
	changed.Metadata["title"] = "Amended"
	feed = &stubFeed{records: []*core.DocumentRecord{changed, candidate("b"), candidate("c")}}
	summary, err = f.pipeline.Discover(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 1, summary.Superseded)
	assert.Equal(t, 3, summary.Candidates)
}
