// Package discover finds regulatory documents to ingest.
//
// A Feed yields candidate records with their stable ID, source URL, and
// metadata. The pipeline registers every candidate through the record
// store, which decides whether each one is new, unchanged, or a
// superseding version.
package discover

import (
	"context"

	"github.com/poiesic/regdex/core"
)

// Feed is a source of document candidates.
type Feed interface {
	// Name identifies the feed in logs and summaries.
	Name() string

	// Discover returns the current set of candidate documents.
	Discover(ctx context.Context) ([]*core.DocumentRecord, error)
}
