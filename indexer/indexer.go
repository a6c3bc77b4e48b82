// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package indexer embeds extracted document text and uploads the
// resulting chunks to the vector index.
//
// A document's chunks are replaced wholesale on every upload: stale
// chunks from a previous version are deleted first, so the index never
// mixes chunks from two versions of the same document.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/poiesic/regdex/ai"
	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/index"
	"github.com/poiesic/regdex/retry"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkTokens  = 6000
	defaultChunkOverlap = 100
	defaultBatchSize    = 100
	defaultConcurrency  = 4

	// snippetChars bounds the text sample stored in each chunk payload.
	snippetChars = 500
)

// Indexer turns extracted text into uploaded vector points.
type Indexer struct {
	embedder    ai.Embedder
	idx         index.VectorIndex
	splitter    textsplitter.TokenSplitter
	policy      retry.Policy
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// Option configures an Indexer.
type Option func(*options)

type options struct {
	chunkTokens  int
	chunkOverlap int
	batchSize    int
	concurrency  int
	policy       retry.Policy
	logger       *slog.Logger
}

// WithChunking sets the token chunk size and overlap.
func WithChunking(tokens, overlap int) Option {
	return func(o *options) {
		o.chunkTokens = tokens
		o.chunkOverlap = overlap
	}
}

// WithBatchSize sets how many chunks are embedded and upserted per call.
func WithBatchSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithConcurrency sets how many batches are in flight at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPolicy sets the retry policy for upserts.
func WithPolicy(policy retry.Policy) Option {
	return func(o *options) { o.policy = policy }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewIndexer creates an Indexer.
func NewIndexer(embedder ai.Embedder, idx index.VectorIndex, opts ...Option) (*Indexer, error) {
	if embedder == nil {
		return nil, errors.New("embedder required")
	}
	if idx == nil {
		return nil, errors.New("vector index required")
	}

	o := &options{
		chunkTokens:  defaultChunkTokens,
		chunkOverlap: defaultChunkOverlap,
		batchSize:    defaultBatchSize,
		concurrency:  defaultConcurrency,
		policy:       retry.DefaultPolicy(),
		logger:       slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Indexer{
		embedder: embedder,
		idx:      idx,
		splitter: textsplitter.NewTokenSplitter(
			textsplitter.WithChunkSize(o.chunkTokens),
			textsplitter.WithChunkOverlap(o.chunkOverlap),
		),
		policy:      o.policy,
		batchSize:   o.batchSize,
		concurrency: o.concurrency,
		logger:      o.logger,
	}, nil
}

// ChunkID returns the identifier of chunk n of a document.
func ChunkID(docID string, n int) string {
	return fmt.Sprintf("%s#%03d", docID, n)
}

// EmbedAndUpsert chunks the record's extracted text, embeds every
// chunk, and replaces the document's points in the index. Returns the
// number of chunks uploaded.
func (x *Indexer) EmbedAndUpsert(ctx context.Context, record *core.DocumentRecord) (int, error) {
	if record.ExtractedText == "" {
		return 0, fmt.Errorf("document %s has no extracted text", record.Id)
	}

	chunks, err := x.splitter.SplitText(record.ExtractedText)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk %s: %w", record.Id, err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s produced no chunks", record.Id)
	}

	// Drop any chunks from a previous version before writing the new
	// set, so a shrinking document leaves no orphans behind.
	if err := x.idx.DeleteByDoc(ctx, record.Id); err != nil {
		return 0, fmt.Errorf("failed to clear previous chunks of %s: %w", record.Id, err)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(x.concurrency)

	var mu sync.Mutex
	uploaded := 0

	for start := 0; start < len(chunks); start += x.batchSize {
		end := min(start+x.batchSize, len(chunks))
		batch := chunks[start:end]
		offset := start

		eg.Go(func() error {
			n, err := x.uploadBatch(gctx, record, batch, offset, len(chunks))
			if err != nil {
				return err
			}
			mu.Lock()
			uploaded += n
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	if err := x.verify(ctx, record.Id, len(chunks)); err != nil {
		return 0, err
	}

	x.logger.Debug("uploaded document chunks", "id", record.Id, "chunks", uploaded)
	return uploaded, nil
}

// uploadBatch embeds one batch of chunks and upserts the points.
func (x *Indexer) uploadBatch(ctx context.Context, record *core.DocumentRecord, batch []string, offset, total int) (int, error) {
	vectors, err := x.embedder.EmbedTexts(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks %d-%d of %s: %w",
			offset, offset+len(batch)-1, record.Id, err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks of %s",
			len(vectors), len(batch), record.Id)
	}

	points := make([]index.Point, len(batch))
	for i, chunk := range batch {
		points[i] = index.Point{
			ID:      ChunkID(record.Id, offset+i),
			Vector:  vectors[i],
			Payload: chunkPayload(record, chunk, offset+i, total),
		}
	}

	err = x.policy.Do(ctx, func() error {
		return x.idx.Upsert(ctx, points)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert chunks %d-%d of %s: %w",
			offset, offset+len(batch)-1, record.Id, err)
	}
	return len(points), nil
}

// verify fetches the first and last chunk back from the index. A
// reported-successful upsert that cannot be read back means the upload
// did not actually land.
func (x *Indexer) verify(ctx context.Context, docID string, total int) error {
	ids := []string{ChunkID(docID, 0)}
	if total > 1 {
		ids = append(ids, ChunkID(docID, total-1))
	}

	points, err := x.idx.Fetch(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to verify upload of %s: %w", docID, err)
	}
	if len(points) != len(ids) {
		return fmt.Errorf("upload verification for %s found %d of %d probe chunks",
			docID, len(points), len(ids))
	}
	return nil
}

// chunkPayload builds the payload stored alongside each vector. The
// metadata hash lets the validator detect stale uploads without
// refetching the source.
func chunkPayload(record *core.DocumentRecord, chunk string, n, total int) map[string]string {
	payload := map[string]string{
		"doc_id":       record.Id,
		"chunk":        strconv.Itoa(n),
		"total_chunks": strconv.Itoa(total),
		"meta_hash":    strconv.FormatUint(record.MetadataHash, 16),
		"source_url":   record.SourceURL,
		"text":         snippet(chunk),
	}
	for k, v := range record.Metadata {
		payload["meta_"+k] = v
	}
	return payload
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetChars {
		return text
	}
	return string(runes[:snippetChars])
}
