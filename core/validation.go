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


package core

import "fmt"

// ValidateDocumentRecord validates a DocumentRecord according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - SourceURL must not be empty
//   - Status must be a known value
//   - an uploaded record must carry extracted text, a local path and at
//     least one chunk
//
// NOT validated (populated by pipeline stages):
//   - LocalPath, ExtractedText below StatusUploaded
//   - FailureReason (only meaningful when Status is StatusFailed)
func ValidateDocumentRecord(record *DocumentRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	if record.Id == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyID)
	}

	if record.SourceURL == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptySourceURL)
	}

	if err := ValidateStatus(record.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if record.Status == StatusUploaded {
		if record.ExtractedText == "" || record.LocalPath == "" || record.ChunkCount < 1 {
			return fmt.Errorf("%w: uploaded record missing text, local path or chunks", ErrInvalidRecord)
		}
	}

	return nil
}

// ValidateStatus validates that a Status has a known value.
func ValidateStatus(status Status) error {
	if status < StatusDiscovered || status > StatusFailed {
		return fmt.Errorf("%w: value %d", ErrInvalidStatus, status)
	}
	return nil
}

// CanTransition reports whether a record may move from one status to
// another. Stages advance one at a time; any non-terminal stage may fail;
// a failed record may only return to the stage recorded in FailedFrom,
// which the caller checks separately.
func CanTransition(from, to Status) bool {
	if ValidateStatus(from) != nil || ValidateStatus(to) != nil {
		return false
	}
	if to == StatusFailed {
		return from != StatusUploaded && from != StatusFailed
	}
	if from == StatusFailed {
		// Retry: back to a pending stage; the store additionally enforces
		// to == FailedFrom.
		return !to.Terminal()
	}
	return from.Next() == to
}
