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


// Package pipeline drives document records through their lifecycle:
// discovered, downloaded, extracted, uploaded.
//
// Each sweep lists the records waiting at one stage and advances them
// concurrently on a worker pool. Advancement goes through the store's
// conditional Transition, so a record is only ever processed by the
// first worker to commit; everyone else sees a conflict and skips.
// Because every sweep re-lists from the store, a killed process resumes
// exactly where it stopped.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/discover"
	"github.com/poiesic/regdex/fetch"
	"github.com/poiesic/regdex/ocr"
	"github.com/poiesic/regdex/storage"
)

const defaultMaxAttempts = 3

// Fetcher downloads one document and returns its local path.
type Fetcher interface {
	Fetch(ctx context.Context, id, sourceURL string) (string, error)
}

// Extractor OCRs a local PDF into text and a page count. language is
// the record's OCR hint; empty means whatever the extractor defaults to.
type Extractor interface {
	ExtractText(ctx context.Context, path, language string) (string, int, error)
}

// Uploader embeds a record's text and uploads the chunks, returning the
// chunk count.
type Uploader interface {
	EmbedAndUpsert(ctx context.Context, record *core.DocumentRecord) (int, error)
}

// Pipeline orchestrates the processing of document records.
type Pipeline struct {
	store       storage.RecordStore
	fetcher     Fetcher
	extractor   Extractor
	uploader    Uploader
	pool        *ants.Pool
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithMaxAttempts sets the per-stage transient failure ceiling.
// A record whose attempt counter reaches the ceiling is marked failed.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		p.maxAttempts = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new processing pipeline.
func NewPipeline(
	store storage.RecordStore,
	fetcher Fetcher,
	extractor Extractor,
	uploader Uploader,
	opts ...Option,
) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if fetcher == nil {
		return nil, ErrFetcherRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if uploader == nil {
		return nil, ErrUploaderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:       store,
		fetcher:     fetcher,
		extractor:   extractor,
		uploader:    uploader,
		pool:        pool,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// DiscoverSummary reports the outcome of one discovery pass.
type DiscoverSummary struct {
	Feed       string
	Candidates int
	New        int
	Unchanged  int
	Superseded int
}

// Discover registers every candidate from the feed with the store.
// Registration is idempotent: known candidates with unchanged metadata
// are no-ops, changed metadata supersedes the current version.
func (p *Pipeline) Discover(ctx context.Context, feed discover.Feed) (*DiscoverSummary, error) {
	candidates, err := feed.Discover(ctx)
	if err != nil {
		return nil, err
	}

	summary := &DiscoverSummary{Feed: feed.Name(), Candidates: len(candidates)}
	for _, candidate := range candidates {
		record, changed, err := p.store.UpsertDiscovered(ctx, candidate.Id, candidate.SourceURL, candidate.Metadata, candidate.Language)
		if err != nil {
			return nil, err
		}
		switch {
		case !changed:
			summary.Unchanged++
		case record.Version > 1:
			summary.Superseded++
			p.logger.Info("document superseded", "id", record.Id, "version", record.Version)
		default:
			summary.New++
			p.logger.Info("document discovered", "id", record.Id)
		}
	}
	return summary, nil
}

// SweepSummary reports the outcome of one stage sweep.
type SweepSummary struct {
	Stage string

	// Processed is the number of records picked up by the sweep.
	Processed int
	// Advanced is the number that moved to the next stage.
	Advanced int
	// Skipped is the number another worker advanced first.
	Skipped int
	// Retryable is the number left in place after a transient failure.
	Retryable int
	// Failed is the number marked failed, with their ids.
	Failed    int
	FailedIDs []string
}

// FetchSweep downloads every discovered document.
func (p *Pipeline) FetchSweep(ctx context.Context) (*SweepSummary, error) {
	return p.sweep(ctx, "fetch", core.StatusDiscovered, core.StatusDownloaded,
		func(ctx context.Context, record *core.DocumentRecord) (func(*core.DocumentRecord), error) {
			path, err := p.fetcher.Fetch(ctx, record.Id, record.SourceURL)
			if err != nil {
				return nil, err
			}
			return func(r *core.DocumentRecord) {
				r.LocalPath = path
			}, nil
		})
}

// ExtractSweep OCRs every downloaded document.
func (p *Pipeline) ExtractSweep(ctx context.Context) (*SweepSummary, error) {
	return p.sweep(ctx, "extract", core.StatusDownloaded, core.StatusExtracted,
		func(ctx context.Context, record *core.DocumentRecord) (func(*core.DocumentRecord), error) {
			text, pages, err := p.extractor.ExtractText(ctx, record.LocalPath, record.Language)
			if err != nil {
				return nil, err
			}
			p.logger.Debug("extracted document", "id", record.Id, "pages", pages)
			return func(r *core.DocumentRecord) {
				r.ExtractedText = text
			}, nil
		})
}

// UploadSweep embeds and uploads every extracted document.
func (p *Pipeline) UploadSweep(ctx context.Context) (*SweepSummary, error) {
	return p.sweep(ctx, "upload", core.StatusExtracted, core.StatusUploaded,
		func(ctx context.Context, record *core.DocumentRecord) (func(*core.DocumentRecord), error) {
			chunks, err := p.uploader.EmbedAndUpsert(ctx, record)
			if err != nil {
				return nil, err
			}
			return func(r *core.DocumentRecord) {
				r.ChunkCount = chunks
			}, nil
		})
}

// sweep runs op over every record at from, advancing successes to to.
func (p *Pipeline) sweep(
	ctx context.Context,
	stage string,
	from, to core.Status,
	op func(context.Context, *core.DocumentRecord) (func(*core.DocumentRecord), error),
) (*SweepSummary, error) {
	ids, err := p.store.ListIDsByStatus(ctx, from)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Stage: stage, Processed: len(ids)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		id := id
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			outcome := p.processOne(ctx, id, from, to, op)
			mu.Lock()
			switch outcome {
			case outcomeAdvanced:
				summary.Advanced++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeRetryable:
				summary.Retryable++
			case outcomeFailed:
				summary.Failed++
				summary.FailedIDs = append(summary.FailedIDs, id)
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, submitErr
		}
	}
	wg.Wait()

	p.logger.Info("sweep complete", "stage", stage,
		"processed", summary.Processed, "advanced", summary.Advanced,
		"skipped", summary.Skipped, "retryable", summary.Retryable,
		"failed", summary.Failed)
	return summary, nil
}

type outcome int

const (
	outcomeAdvanced outcome = iota + 1
	outcomeSkipped
	outcomeRetryable
	outcomeFailed
)

// processOne runs one record through a stage. Failures never leak out:
// a record that cannot advance either stays put with a bumped attempt
// counter or is marked failed, and the rest of the sweep continues.
func (p *Pipeline) processOne(
	ctx context.Context,
	id string,
	from, to core.Status,
	op func(context.Context, *core.DocumentRecord) (func(*core.DocumentRecord), error),
) outcome {
	record, err := p.store.Get(ctx, id)
	if err != nil {
		p.logger.Error("failed to load record", "id", id, "err", err)
		return outcomeSkipped
	}
	if record.Status != from {
		return outcomeSkipped
	}

	apply, opErr := op(ctx, record)
	if opErr != nil {
		return p.recordStageError(ctx, id, from, to, opErr)
	}

	if _, err := p.store.Transition(ctx, id, from, to, apply); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return outcomeSkipped
		}
		p.logger.Error("failed to advance record", "id", id, "to", to, "err", err)
		return outcomeSkipped
	}
	return outcomeAdvanced
}

// recordStageError books a stage failure against the record. Permanent
// errors and exhausted retry budgets mark it failed; anything else
// bumps the attempt counter and leaves the record for the next sweep.
func (p *Pipeline) recordStageError(ctx context.Context, id string, from, to core.Status, opErr error) outcome {
	record, err := p.store.Get(ctx, id)
	if err != nil || record.Status != from {
		return outcomeSkipped
	}

	if isPermanent(opErr) || record.AttemptsFor(to)+1 >= p.maxAttempts {
		_, err := p.store.Transition(ctx, id, from, core.StatusFailed, func(r *core.DocumentRecord) {
			r.IncrementAttempts(to)
			r.FailureReason = opErr.Error()
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return outcomeSkipped
			}
			p.logger.Error("failed to mark record failed", "id", id, "err", err)
			return outcomeSkipped
		}
		p.logger.Warn("document failed", "id", id, "stage", from, "err", opErr)
		return outcomeFailed
	}

	record.IncrementAttempts(to)
	if err := p.store.Update(ctx, record); err != nil {
		p.logger.Error("failed to record attempt", "id", id, "err", err)
		return outcomeSkipped
	}
	p.logger.Warn("transient failure, will retry next sweep",
		"id", id, "stage", from, "attempts", record.AttemptsFor(to), "err", opErr)
	return outcomeRetryable
}

// isPermanent reports whether the error can never succeed on retry.
func isPermanent(err error) bool {
	var pe *fetch.PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var xe *ocr.ExtractionError
	return errors.As(err, &xe)
}

// RetrySummary reports the outcome of a retry sweep.
type RetrySummary struct {
	Failed  int
	Retried int
}

// RetrySweep returns every failed record to the stage it failed from,
// with a fresh attempt budget. The next regular sweeps pick them up.
func (p *Pipeline) RetrySweep(ctx context.Context) (*RetrySummary, error) {
	records, err := p.store.ListByStatus(ctx, core.StatusFailed)
	if err != nil {
		return nil, err
	}

	summary := &RetrySummary{Failed: len(records)}
	for _, record := range records {
		back := record.FailedFrom
		_, err := p.store.Transition(ctx, record.Id, core.StatusFailed, back, func(r *core.DocumentRecord) {
			r.ResetAttempts(back.Next())
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return nil, err
		}
		summary.Retried++
		p.logger.Info("document queued for retry", "id", record.Id, "stage", back)
	}
	return summary, nil
}

// RunSummary aggregates one full pipeline run.
type RunSummary struct {
	Discover *DiscoverSummary
	Fetch    *SweepSummary
	Extract  *SweepSummary
	Upload   *SweepSummary
}

// Failures returns the number of records that failed during the run.
func (s *RunSummary) Failures() int {
	n := 0
	for _, sweep := range []*SweepSummary{s.Fetch, s.Extract, s.Upload} {
		if sweep != nil {
			n += sweep.Failed
		}
	}
	return n
}

// Run executes discovery (when feed is non-nil) followed by the three
// processing sweeps in order.
func (p *Pipeline) Run(ctx context.Context, feed discover.Feed) (*RunSummary, error) {
	summary := &RunSummary{}

	if feed != nil {
		ds, err := p.Discover(ctx, feed)
		if err != nil {
			return nil, err
		}
		summary.Discover = ds
	}

	var err error
	if summary.Fetch, err = p.FetchSweep(ctx); err != nil {
		return nil, err
	}
	if summary.Extract, err = p.ExtractSweep(ctx); err != nil {
		return nil, err
	}
	if summary.Upload, err = p.UploadSweep(ctx); err != nil {
		return nil, err
	}
	return summary, nil
}
