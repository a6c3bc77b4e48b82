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


// Package qdrant implements index.VectorIndex against a Qdrant server
// over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/poiesic/regdex/index"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// chunkIDKey is the payload field holding the pipeline's chunk ID.
// Qdrant point IDs must be integers or UUIDs, so the real ID lives in
// the payload and the point ID is derived from it.
const chunkIDKey = "chunk_id"

const scrollPageSize = 256

// pointNamespace seeds the deterministic UUIDv5 derivation of point IDs.
var pointNamespace = uuid.MustParse("e12c63f4-9b1a-4e07-8c55-31d9e4c7a6b2")

// Index is the sole owner of all Qdrant operations.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates an Index connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *Index) Close() error {
	return q.conn.Close()
}

// PointUUID returns the Qdrant point ID for a chunk ID.
func PointUUID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *Index) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert writes points, replacing any existing point with the same ID.
func (q *Index) Upsert(ctx context.Context, points []index.Point) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		payload[chunkIDKey] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: p.ID}}

		pbPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointUUID(p.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Fetch retrieves points by chunk ID with payloads.
func (q *Index) Fetch(ctx context.Context, ids []string) ([]index.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pbIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointUUID(id)},
		}
	}

	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collection,
		Ids:            pbIDs,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: fetch %d points: %w", len(ids), err)
	}

	points := make([]index.Point, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		points = append(points, pointFromPayload(r.GetPayload()))
	}
	return points, nil
}

// DeleteByDoc removes all points whose doc_id payload matches.
func (q *Index) DeleteByDoc(ctx context.Context, docID string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("doc_id", docID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by doc_id %s: %w", docID, err)
	}
	return nil
}

// Query performs similarity search with optional payload filters.
func (q *Index) Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]index.Match, error) {
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	matches := make([]index.Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		p := pointFromPayload(r.GetPayload())
		matches[i] = index.Match{
			ID:      p.ID,
			Score:   r.GetScore(),
			Payload: p.Payload,
		}
	}
	return matches, nil
}

// Scroll visits the payload of every point in the collection, one page
// at a time.
func (q *Index) Scroll(ctx context.Context, fn func(index.Point) error) error {
	limit := uint32(scrollPageSize)
	var offset *pb.PointId

	for {
		req := &pb.ScrollPoints{
			CollectionName: q.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		}
		resp, err := q.points.Scroll(ctx, req)
		if err != nil {
			return fmt.Errorf("qdrant: scroll: %w", err)
		}

		for _, r := range resp.GetResult() {
			if err := fn(pointFromPayload(r.GetPayload())); err != nil {
				return err
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// pointFromPayload rebuilds an index.Point from the stored payload. The
// chunk ID comes back out of the payload field it was written to.
func pointFromPayload(pbPayload map[string]*pb.Value) index.Point {
	p := index.Point{Payload: make(map[string]string, len(pbPayload))}
	for k, v := range pbPayload {
		if k == chunkIDKey {
			p.ID = v.GetStringValue()
			continue
		}
		p.Payload[k] = v.GetStringValue()
	}
	return p
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
