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


package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/poiesic/regdex/core"
)

// fileEntry is one candidate in a manifest file.
type fileEntry struct {
	ID        string            `json:"id"`
	SourceURL string            `json:"source_url"`
	Metadata  map[string]string `json:"metadata"`
	Language  string            `json:"language"`
}

// FileFeed reads candidates from a JSON manifest, an array of objects
// with id, source_url, and metadata fields. Useful for backfills and
// for sources without a crawlable listing.
type FileFeed struct {
	path string
}

// NewFileFeed creates a feed backed by the manifest at path.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// Name identifies the feed.
func (f *FileFeed) Name() string {
	return "file:" + f.path
}

// Discover parses the manifest and returns its candidates.
func (f *FileFeed) Discover(ctx context.Context) ([]*core.DocumentRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", f.path, err)
	}

	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", f.path, err)
	}

	records := make([]*core.DocumentRecord, 0, len(entries))
	for i, entry := range entries {
		if entry.ID == "" || entry.SourceURL == "" {
			return nil, fmt.Errorf("manifest %s entry %d: id and source_url are required", f.path, i)
		}
		records = append(records, &core.DocumentRecord{
			Id:        entry.ID,
			SourceURL: entry.SourceURL,
			Metadata:  entry.Metadata,
			Language:  entry.Language,
		})
	}
	return records, nil
}
