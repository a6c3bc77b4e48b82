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


// Package index abstracts the remote vector collection that holds
// embedded document chunks.
//
// Point IDs are the pipeline's own chunk identifiers; backends that
// restrict ID formats (Qdrant) derive a stable internal ID and keep the
// chunk identifier in the payload.
package index

import "context"

// Point is one embedded chunk with its payload.
type Point struct {
	// ID is the chunk identifier, "<docID>#NNN".
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Match is a scored query result.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// VectorIndex is the remote collection of embedded chunks.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// EnsureCollection creates the backing collection with the given
	// vector width if it does not exist yet.
	EnsureCollection(ctx context.Context, dims int) error

	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, points []Point) error

	// Fetch retrieves points by chunk ID with payloads. Missing IDs are
	// simply absent from the result.
	Fetch(ctx context.Context, ids []string) ([]Point, error)

	// DeleteByDoc removes every chunk belonging to a document.
	DeleteByDoc(ctx context.Context, docID string) error

	// Query performs similarity search, optionally restricted to
	// payload fields matching every entry of filters.
	Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]Match, error)

	// Scroll visits the payload of every point in the collection.
	// Iteration stops at the first error from fn.
	Scroll(ctx context.Context, fn func(Point) error) error

	// Close releases the backend connection.
	Close() error
}
