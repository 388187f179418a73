// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
)

// Store implements vectorstore.Store against a Qdrant server over gRPC.
// Point IDs are the chunk IDs, so upserts are naturally idempotent.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	logger      *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// New connects to a Qdrant server and ensures the collection exists with
// the given vector dimension and cosine distance.
func New(ctx context.Context, host string, port int, collection string, dimension int) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		logger:      slog.Default().With("component", "vectorstore.qdrant"),
	}

	if err := s.ensureCollection(ctx, dimension); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, dimension int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range list.Collections {
		if c.Name == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", s.collection, err)
	}

	s.logger.Info("collection created", "collection", s.collection, "dimension", dimension)

	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Upsert writes records; existing points with the same chunk ID are replaced.
func (s *Store) Upsert(ctx context.Context, records []*vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(records))
	for _, r := range records {
		if err := core.ValidateChunk(&r.Chunk); err != nil {
			return err
		}
		points = append(points, &pb.PointStruct{
			Id:      pointId(r.Chunk.Id),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding.Vector}}},
			Payload: toPayload(r),
		})
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	return nil
}

// Query returns up to limit chunks ranked by cosine similarity.
func (s *Store) Query(ctx context.Context, vector []float32, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorstore.ErrEmptyVector
	}
	if limit <= 0 {
		limit = 10
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         toQdrantFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	hits := make([]*vectorstore.Hit, 0, len(resp.Result))
	for _, pt := range resp.Result {
		chunk, err := fromPayload(pt.Id, pt.Payload)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &vectorstore.Hit{Chunk: chunk, Score: pt.Score})
	}

	return hits, nil
}

// KeywordQuery scrolls matching points and scores term overlap client-side.
// Qdrant has no native term-overlap scoring, so this pages through the
// filtered collection.
func (s *Store) KeywordQuery(ctx context.Context, terms []string, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []*vectorstore.Hit
	err := s.scroll(ctx, filter, false, func(pt *pb.RetrievedPoint) error {
		chunk, err := fromPayload(pt.Id, pt.Payload)
		if err != nil {
			return err
		}
		if score := vectorstore.TermScore(chunk.Text, terms); score > 0 {
			hits = append(hits, &vectorstore.Hit{Chunk: chunk, Score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// Delete removes the given chunks.
func (s *Store) Delete(ctx context.Context, chunkIds []core.ID) error {
	if len(chunkIds) == 0 {
		return nil
	}

	ids := make([]*pb.PointId, 0, len(chunkIds))
	for _, id := range chunkIds {
		ids = append(ids, pointId(id))
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	return nil
}

// DeleteDocument removes every chunk belonging to documentId with a single
// filtered delete.
func (s *Store) DeleteDocument(ctx context.Context, documentId core.ID) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{matchInt("document_id", int64(documentId))},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting document %d points: %w", documentId, err)
	}

	return nil
}

// Scan visits every record, including vectors.
func (s *Store) Scan(ctx context.Context, fn func(*vectorstore.Record) error) error {
	return s.scroll(ctx, nil, true, func(pt *pb.RetrievedPoint) error {
		chunk, err := fromPayload(pt.Id, pt.Payload)
		if err != nil {
			return err
		}

		record := &vectorstore.Record{Chunk: *chunk}
		record.Embedding.ChunkId = chunk.Id
		if v := pt.Vectors.GetVector(); v != nil {
			record.Embedding.Vector = v.Data
		}
		if mv, ok := pt.Payload["model_version"]; ok {
			record.Embedding.ModelVersion = mv.GetStringValue()
		}

		return fn(record)
	})
}

const scrollPageSize = 256

func (s *Store) scroll(ctx context.Context, filter *vectorstore.Filter, withVectors bool, fn func(*pb.RetrievedPoint) error) error {
	limit := uint32(scrollPageSize)
	req := &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         toQdrantFilter(filter),
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if withVectors {
		req.WithVectors = &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
	}

	for {
		resp, err := s.points.Scroll(ctx, req)
		if err != nil {
			return fmt.Errorf("scrolling points: %w", err)
		}

		for _, pt := range resp.Result {
			if err := fn(pt); err != nil {
				return err
			}
		}

		if resp.NextPageOffset == nil {
			return nil
		}
		req.Offset = resp.NextPageOffset
	}
}

func sortHits(hits []*vectorstore.Hit) {
	slices.SortFunc(hits, func(a, b *vectorstore.Hit) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.Chunk.Id < b.Chunk.Id {
			return -1
		}
		if a.Chunk.Id > b.Chunk.Id {
			return 1
		}
		return 0
	})
}
