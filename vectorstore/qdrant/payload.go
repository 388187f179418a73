package qdrant

import (
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
)

func pointId(id core.ID) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}
}

// toPayload flattens a record's chunk fields into a Qdrant payload.
func toPayload(r *vectorstore.Record) map[string]*pb.Value {
	tags := make([]*pb.Value, 0, len(r.Chunk.Metadata.Tags))
	for _, tag := range r.Chunk.Metadata.Tags {
		tags = append(tags, stringValue(tag))
	}

	return map[string]*pb.Value{
		"document_id":   intValue(int64(r.Chunk.DocumentId)),
		"ordinal":       intValue(int64(r.Chunk.Ordinal)),
		"text":          stringValue(r.Chunk.Text),
		"span_start":    intValue(int64(r.Chunk.Span.Start)),
		"span_end":      intValue(int64(r.Chunk.Span.End)),
		"title":         stringValue(r.Chunk.Metadata.Title),
		"source":        stringValue(r.Chunk.Metadata.Source),
		"vendor":        stringValue(r.Chunk.Metadata.Vendor),
		"doc_type":      stringValue(r.Chunk.Metadata.DocType),
		"tags":          {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: tags}}},
		"model_version": stringValue(r.Embedding.ModelVersion),
	}
}

// fromPayload rebuilds a chunk from a point's payload.
func fromPayload(id *pb.PointId, payload map[string]*pb.Value) (*core.DocumentChunk, error) {
	if id == nil {
		return nil, fmt.Errorf("point missing id")
	}

	chunk := &core.DocumentChunk{
		Id:         core.ID(id.GetNum()),
		DocumentId: core.ID(payload["document_id"].GetIntegerValue()),
		Ordinal:    int(payload["ordinal"].GetIntegerValue()),
		Text:       payload["text"].GetStringValue(),
		Span: core.SourceSpan{
			Start: int(payload["span_start"].GetIntegerValue()),
			End:   int(payload["span_end"].GetIntegerValue()),
		},
		Metadata: core.ChunkMetadata{
			Title:   payload["title"].GetStringValue(),
			Source:  payload["source"].GetStringValue(),
			Vendor:  payload["vendor"].GetStringValue(),
			DocType: payload["doc_type"].GetStringValue(),
		},
	}

	if list := payload["tags"].GetListValue(); list != nil {
		for _, v := range list.Values {
			chunk.Metadata.Tags = append(chunk.Metadata.Tags, v.GetStringValue())
		}
	}

	return chunk, nil
}

func matchKeyword(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func matchInt(key string, value int64) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: value}},
			},
		},
	}
}

// toQdrantFilter translates the store filter into Qdrant must-conditions.
// Tag conditions are one keyword match each, so every listed tag must be
// present on the point.
func toQdrantFilter(f *vectorstore.Filter) *pb.Filter {
	if f.Empty() {
		return nil
	}

	var must []*pb.Condition
	if f.DocumentId != 0 {
		must = append(must, matchInt("document_id", int64(f.DocumentId)))
	}
	if f.Vendor != "" {
		must = append(must, matchKeyword("vendor", f.Vendor))
	}
	if f.DocType != "" {
		must = append(must, matchKeyword("doc_type", f.DocType))
	}
	for _, tag := range f.Tags {
		must = append(must, matchKeyword("tags", tag))
	}

	return &pb.Filter{Must: must}
}
