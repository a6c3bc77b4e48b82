package core

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Status is the processing stage of a document record.
// Stages only advance forward; StatusFailed is reachable from any
// non-terminal stage and a retry returns the record to the stage that failed.
type Status int

const (
	// StatusDiscovered means the descriptor has been recorded but the file
	// has not been downloaded yet.
	StatusDiscovered Status = iota + 1
	// StatusDownloaded means the source PDF is on local disk.
	StatusDownloaded
	// StatusExtracted means OCR produced text for the document.
	StatusExtracted
	// StatusUploaded means embeddings for every chunk are in the vector index.
	StatusUploaded
	// StatusFailed means the document gave up at some stage; FailedFrom
	// records which one.
	StatusFailed
)

// String returns the canonical upper-case name used in logs and summaries.
func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "DISCOVERED"
	case StatusDownloaded:
		return "DOWNLOADED"
	case StatusExtracted:
		return "EXTRACTED"
	case StatusUploaded:
		return "UPLOADED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further automatic processing applies.
func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusFailed
}

// Next returns the stage that follows s in the pipeline, or 0 for
// terminal stages.
func (s Status) Next() Status {
	switch s {
	case StatusDiscovered:
		return StatusDownloaded
	case StatusDownloaded:
		return StatusExtracted
	case StatusExtracted:
		return StatusUploaded
	default:
		return 0
	}
}

// StageAttempts counts processing attempts per stage. Counters cap retries
// and drive backoff; they reset when the record is superseded or when the
// operator requests a retry sweep.
type StageAttempts struct {
	Fetch   int
	Extract int
	Upload  int
}

// Transition is one entry in a record's status audit trail.
type Transition struct {
	From Status
	To   Status
	At   time.Time
}

// DocumentRecord is the unit of work driven through the pipeline.
// The record store is the single source of truth for what has been done;
// every field except Id, SourceURL and Metadata is owned by the pipeline.
type DocumentRecord struct {
	Id            string
	SourceURL     string
	LocalPath     string
	Metadata      map[string]string
	MetadataHash  uint64
	ExtractedText string
	Language      string
	Status        Status
	FailedFrom    Status
	FailureReason string
	Attempts      StageAttempts
	Version       int
	ChunkCount    int
	Transitions   []Transition
	InsertedAt    time.Time
	UpdatedAt     time.Time
}

// AttemptsFor returns the attempt counter for the stage that produces the
// given status (StatusDownloaded -> fetch attempts, and so on).
func (r *DocumentRecord) AttemptsFor(to Status) int {
	switch to {
	case StatusDownloaded:
		return r.Attempts.Fetch
	case StatusExtracted:
		return r.Attempts.Extract
	case StatusUploaded:
		return r.Attempts.Upload
	default:
		return 0
	}
}

// IncrementAttempts bumps the attempt counter for the stage producing the
// given status.
func (r *DocumentRecord) IncrementAttempts(to Status) {
	switch to {
	case StatusDownloaded:
		r.Attempts.Fetch++
	case StatusExtracted:
		r.Attempts.Extract++
	case StatusUploaded:
		r.Attempts.Upload++
	}
}

// ResetAttempts clears the attempt counter for the stage producing the
// given status. Used by retry sweeps to restore the retry budget.
func (r *DocumentRecord) ResetAttempts(to Status) {
	switch to {
	case StatusDownloaded:
		r.Attempts.Fetch = 0
	case StatusExtracted:
		r.Attempts.Extract = 0
	case StatusUploaded:
		r.Attempts.Upload = 0
	}
}

// HashMetadata computes a deterministic BLAKE2b content hash over metadata
// fields. Keys are visited in sorted order so map iteration order does not
// leak into the hash. Re-discovery compares this hash to decide whether a
// record was materially changed and must be reprocessed.
func HashMetadata(metadata map[string]string) uint64 {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(metadata[k]))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}
