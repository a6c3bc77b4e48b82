package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	aimock "github.com/poiesic/regdex/ai/mock"
	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/index"
	"github.com/poiesic/regdex/index/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id, text string) *core.DocumentRecord {
	metadata := map[string]string{"title": "FX Guidelines", "date": "2024-03-01"}
	return &core.DocumentRecord{
		Id:            id,
		SourceURL:     "https://example.org/" + id + ".pdf",
		Metadata:      metadata,
		MetadataHash:  core.HashMetadata(metadata),
		ExtractedText: text,
	}
}

func newTestIndexer(t *testing.T, idx index.VectorIndex) *Indexer {
	t.Helper()
	embedder := aimock.NewMockEmbedder()
	embedder.Dimensions = 8

	x, err := NewIndexer(embedder, idx,
		WithChunking(20, 2),
		WithBatchSize(2),
		WithConcurrency(2),
	)
	require.NoError(t, err)
	return x
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "c-1/2024#000", ChunkID("c-1/2024", 0))
	assert.Equal(t, "c-1/2024#042", ChunkID("c-1/2024", 42))
}

func TestEmbedAndUpsertSingleChunk(t *testing.T) {
	idx := memory.New()
	x := newTestIndexer(t, idx)

	record := testRecord("c-1/2024", "short circular text")
	count, err := x.EmbedAndUpsert(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	points, err := idx.Fetch(context.Background(), []string{ChunkID("c-1/2024", 0)})
	require.NoError(t, err)
	require.Len(t, points, 1)

	payload := points[0].Payload
	assert.Equal(t, "c-1/2024", payload["doc_id"])
	assert.Equal(t, "0", payload["chunk"])
	assert.Equal(t, "1", payload["total_chunks"])
	assert.NotEmpty(t, payload["meta_hash"])
	assert.Equal(t, "FX Guidelines", payload["meta_title"])
	assert.Contains(t, payload["text"], "short circular")
}

func TestEmbedAndUpsertSplitsLongText(t *testing.T) {
	idx := memory.New()
	x := newTestIndexer(t, idx)

	// Enough distinct words to exceed the 20-token chunk size many times.
	record := testRecord("c-2/2024", strings.Repeat("foreign exchange transaction reporting requirement ", 60))
	count, err := x.EmbedAndUpsert(context.Background(), record)
	require.NoError(t, err)
	assert.Greater(t, count, 1)
	assert.Equal(t, count, idx.Len())
	assert.Len(t, idx.IDsForDoc("c-2/2024"), count)
}

func TestReuploadDropsStaleChunks(t *testing.T) {
	idx := memory.New()
	x := newTestIndexer(t, idx)
	ctx := context.Background()

	long := testRecord("c-3/2024", strings.Repeat("statutory liquidity ratio adjustment notice ", 60))
	longCount, err := x.EmbedAndUpsert(ctx, long)
	require.NoError(t, err)
	require.Greater(t, longCount, 1)

	short := testRecord("c-3/2024", "superseding one paragraph notice")
	shortCount, err := x.EmbedAndUpsert(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, 1, shortCount)
	assert.Equal(t, []string{ChunkID("c-3/2024", 0)}, idx.IDsForDoc("c-3/2024"))
}

func TestEmbedFailurePropagates(t *testing.T) {
	idx := memory.New()
	embedder := aimock.NewMockEmbedder()
	wantErr := errors.New("embedding service down")
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, wantErr
	}

	x, err := NewIndexer(embedder, idx, WithChunking(20, 2))
	require.NoError(t, err)

	_, err = x.EmbedAndUpsert(context.Background(), testRecord("c-4/2024", "some text"))
	assert.ErrorIs(t, err, wantErr)
	assert.Zero(t, idx.Len())
}

// droppingIndex swallows writes so verification sees an empty index.
type droppingIndex struct {
	*memory.Index
}

func (d *droppingIndex) Upsert(ctx context.Context, points []index.Point) error {
	return nil
}

func TestVerificationCatchesLostUpload(t *testing.T) {
	idx := &droppingIndex{Index: memory.New()}
	embedder := aimock.NewMockEmbedder()
	embedder.Dimensions = 8

	x, err := NewIndexer(embedder, idx, WithChunking(20, 2))
	require.NoError(t, err)

	_, err = x.EmbedAndUpsert(context.Background(), testRecord("c-5/2024", "some text"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification")
}

func TestEmptyTextRejected(t *testing.T) {
	x := newTestIndexer(t, memory.New())
	_, err := x.EmbedAndUpsert(context.Background(), testRecord("c-6/2024", ""))
	assert.Error(t, err)
}
