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


// Package validate reconciles the local record store against the remote
// vector index.
//
// The local store is the source of truth for what should be indexed.
// Reconcile reports where the remote side disagrees: documents marked
// uploaded whose chunks are gone, uploads carrying a stale metadata
// hash, and remote chunks belonging to no uploaded document.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/index"
	"github.com/poiesic/regdex/indexer"
	"github.com/poiesic/regdex/storage"
)

// Classification labels one reconciliation finding.
type Classification int

const (
	Consistent Classification = iota + 1
	MissingRemote
	MetadataMismatch
	OrphanRemote
)

func (c Classification) String() string {
	switch c {
	case Consistent:
		return "consistent"
	case MissingRemote:
		return "missing-remote"
	case MetadataMismatch:
		return "metadata-mismatch"
	case OrphanRemote:
		return "orphan-remote"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Finding is one document's reconciliation result.
type Finding struct {
	DocID  string
	Class  Classification
	Detail string
}

// Report aggregates the findings of one reconciliation pass.
type Report struct {
	Findings []Finding
}

// Count returns the number of findings with the given classification.
func (r *Report) Count(class Classification) int {
	n := 0
	for _, f := range r.Findings {
		if f.Class == class {
			n++
		}
	}
	return n
}

// Clean reports whether every uploaded document checked out and no
// orphans were found.
func (r *Report) Clean() bool {
	return r.Count(Consistent) == len(r.Findings)
}

// String renders a one-line summary.
func (r *Report) String() string {
	return fmt.Sprintf("%d consistent, %d missing remote, %d metadata mismatch, %d orphan remote",
		r.Count(Consistent), r.Count(MissingRemote), r.Count(MetadataMismatch), r.Count(OrphanRemote))
}

// Reconciler compares uploaded records against the vector index.
type Reconciler struct {
	store  storage.RecordStore
	idx    index.VectorIndex
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store storage.RecordStore, idx index.VectorIndex) *Reconciler {
	return &Reconciler{
		store:  store,
		idx:    idx,
		logger: slog.Default().With("component", "validate"),
	}
}

// Reconcile checks every uploaded document against the index and scans
// the index for chunks no uploaded document accounts for.
func (v *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	records, err := v.store.ListByStatus(ctx, core.StatusUploaded)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded documents: %w", err)
	}

	report := &Report{}
	uploaded := make(map[string]bool, len(records))
	for _, record := range records {
		uploaded[record.Id] = true
		report.Findings = append(report.Findings, v.checkRecord(ctx, record))
	}

	orphans, err := v.findOrphans(ctx, uploaded)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, orphans...)

	v.logger.Info("reconciliation complete", "summary", report.String())
	return report, nil
}

// checkRecord fetches every chunk of one uploaded document. A partial
// result means remote chunks went missing, endpoints included.
func (v *Reconciler) checkRecord(ctx context.Context, record *core.DocumentRecord) Finding {
	ids := make([]string, record.ChunkCount)
	for n := range ids {
		ids[n] = indexer.ChunkID(record.Id, n)
	}

	points, err := v.idx.Fetch(ctx, ids)
	if err != nil {
		return Finding{
			DocID:  record.Id,
			Class:  MissingRemote,
			Detail: fmt.Sprintf("fetch failed: %v", err),
		}
	}
	if len(points) != len(ids) {
		return Finding{
			DocID:  record.Id,
			Class:  MissingRemote,
			Detail: fmt.Sprintf("%d of %d chunks present", len(points), len(ids)),
		}
	}

	wantHash := strconv.FormatUint(record.MetadataHash, 16)
	for _, p := range points {
		if got := p.Payload["meta_hash"]; got != wantHash {
			return Finding{
				DocID:  record.Id,
				Class:  MetadataMismatch,
				Detail: fmt.Sprintf("remote hash %s, local hash %s", got, wantHash),
			}
		}
	}
	return Finding{DocID: record.Id, Class: Consistent}
}

// findOrphans scans the whole index for chunks whose document is not in
// the uploaded set.
func (v *Reconciler) findOrphans(ctx context.Context, uploaded map[string]bool) ([]Finding, error) {
	orphanDocs := make(map[string]int)
	err := v.idx.Scroll(ctx, func(p index.Point) error {
		docID := p.Payload["doc_id"]
		if docID == "" {
			docID = chunkDoc(p.ID)
		}
		if docID != "" && !uploaded[docID] {
			orphanDocs[docID]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index for orphans: %w", err)
	}

	var findings []Finding
	for docID, chunks := range orphanDocs {
		findings = append(findings, Finding{
			DocID:  docID,
			Class:  OrphanRemote,
			Detail: fmt.Sprintf("%d remote chunks with no uploaded record", chunks),
		})
	}
	return findings, nil
}

// chunkDoc strips the chunk suffix from a chunk ID.
func chunkDoc(chunkID string) string {
	if i := strings.LastIndex(chunkID, "#"); i >= 0 {
		return chunkID[:i]
	}
	return chunkID
}
