package core

import (
	"errors"
	"testing"
)

func TestValidateDocumentRecord(t *testing.T) {
	base := func() *DocumentRecord {
		return &DocumentRecord{
			Id:        "c-1/2024",
			SourceURL: "http://x/c1.pdf",
			Status:    StatusDiscovered,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*DocumentRecord)
		wantErr error
	}{
		{
			name:   "valid discovered record",
			mutate: func(r *DocumentRecord) {},
		},
		{
			name:    "empty id",
			mutate:  func(r *DocumentRecord) { r.Id = "" },
			wantErr: ErrEmptyID,
		},
		{
			name:    "empty source url",
			mutate:  func(r *DocumentRecord) { r.SourceURL = "" },
			wantErr: ErrEmptySourceURL,
		},
		{
			name:    "unknown status",
			mutate:  func(r *DocumentRecord) { r.Status = Status(42) },
			wantErr: ErrInvalidStatus,
		},
		{
			name: "uploaded without extracted text",
			mutate: func(r *DocumentRecord) {
				r.Status = StatusUploaded
				r.LocalPath = "/tmp/c1.pdf"
				r.ChunkCount = 1
			},
			wantErr: ErrInvalidRecord,
		},
		{
			name: "uploaded with all fields",
			mutate: func(r *DocumentRecord) {
				r.Status = StatusUploaded
				r.LocalPath = "/tmp/c1.pdf"
				r.ExtractedText = "some text"
				r.ChunkCount = 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base()
			tt.mutate(rec)
			err := ValidateDocumentRecord(rec)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateDocumentRecord(nil); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("nil record: got %v, want ErrInvalidRecord", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"discovered to downloaded", StatusDiscovered, StatusDownloaded, true},
		{"downloaded to extracted", StatusDownloaded, StatusExtracted, true},
		{"extracted to uploaded", StatusExtracted, StatusUploaded, true},
		{"skipping a stage", StatusDiscovered, StatusExtracted, false},
		{"backwards", StatusExtracted, StatusDownloaded, false},
		{"discovered to failed", StatusDiscovered, StatusFailed, true},
		{"extracted to failed", StatusExtracted, StatusFailed, true},
		{"uploaded to failed", StatusUploaded, StatusFailed, false},
		{"failed to failed", StatusFailed, StatusFailed, false},
		{"failed back to discovered", StatusFailed, StatusDiscovered, true},
		{"failed back to extracted", StatusFailed, StatusExtracted, true},
		{"failed straight to uploaded", StatusFailed, StatusUploaded, false},
		{"unknown status", Status(42), StatusDownloaded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
