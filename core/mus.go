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

package core

import (
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the types that cross a storage boundary. Field order
// is part of the on-disk format; append new fields, never reorder.
var (
	IDMUS              = idSer{}
	SourceSpanMUS      = sourceSpanSer{}
	ChunkMetadataMUS   = chunkMetadataSer{}
	DocumentChunkMUS   = documentChunkSer{}
	EmbeddingVectorMUS = embeddingVectorSer{}
	IngestionJobMUS    = ingestionJobSer{}
	DocumentMUS        = documentSer{}
)

type idSer struct{}

var _ mus.Serializer[ID] = idSer{}

func (idSer) Marshal(id ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(id), bs)
}

func (idSer) Unmarshal(bs []byte) (ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return ID(v), n, err
}

func (idSer) Size(id ID) int {
	return varint.Uint64.Size(uint64(id))
}

func (idSer) Skip(bs []byte) (int, error) {
	return varint.Uint64.Skip(bs)
}

type sourceSpanSer struct{}

var _ mus.Serializer[SourceSpan] = sourceSpanSer{}

func (sourceSpanSer) Marshal(s SourceSpan, bs []byte) int {
	n := varint.Int.Marshal(s.Start, bs)
	return n + varint.Int.Marshal(s.End, bs[n:])
}

func (sourceSpanSer) Unmarshal(bs []byte) (SourceSpan, int, error) {
	var s SourceSpan
	start, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return s, n, err
	}
	end, n1, err := varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return s, n, err
	}
	return SourceSpan{Start: start, End: end}, n, nil
}

func (sourceSpanSer) Size(s SourceSpan) int {
	return varint.Int.Size(s.Start) + varint.Int.Size(s.End)
}

func (sourceSpanSer) Skip(bs []byte) (int, error) {
	n, err := varint.Int.Skip(bs)
	if err != nil {
		return n, err
	}
	n1, err := varint.Int.Skip(bs[n:])
	return n + n1, err
}

// marshalStrings writes a length-prefixed string slice.
func marshalStrings(vals []string, bs []byte) int {
	n := varint.Int.Marshal(len(vals), bs)
	for _, v := range vals {
		n += ord.String.Marshal(v, bs[n:])
	}
	return n
}

func unmarshalStrings(bs []byte) ([]string, int, error) {
	count, n, err := varint.Int.Unmarshal(bs)
	if err != nil || count == 0 {
		return nil, n, err
	}
	vals := make([]string, 0, count)
	for i := 0; i < count; i++ {
		v, n1, err := ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		vals = append(vals, v)
	}
	return vals, n, nil
}

func sizeStrings(vals []string) int {
	size := varint.Int.Size(len(vals))
	for _, v := range vals {
		size += ord.String.Size(v)
	}
	return size
}

type chunkMetadataSer struct{}

var _ mus.Serializer[ChunkMetadata] = chunkMetadataSer{}

func (chunkMetadataSer) Marshal(m ChunkMetadata, bs []byte) int {
	n := ord.String.Marshal(m.Title, bs)
	n += ord.String.Marshal(m.Source, bs[n:])
	n += ord.String.Marshal(m.Vendor, bs[n:])
	n += marshalStrings(m.Tags, bs[n:])
	n += ord.String.Marshal(m.DocType, bs[n:])
	return n
}

func (chunkMetadataSer) Unmarshal(bs []byte) (ChunkMetadata, int, error) {
	var m ChunkMetadata
	var n1 int
	var err error

	n := 0
	if m.Title, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return m, n + n1, err
	}
	n += n1
	if m.Source, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return m, n + n1, err
	}
	n += n1
	if m.Vendor, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return m, n + n1, err
	}
	n += n1
	if m.Tags, n1, err = unmarshalStrings(bs[n:]); err != nil {
		return m, n + n1, err
	}
	n += n1
	if m.DocType, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return m, n + n1, err
	}
	n += n1

	return m, n, nil
}

func (chunkMetadataSer) Size(m ChunkMetadata) int {
	return ord.String.Size(m.Title) +
		ord.String.Size(m.Source) +
		ord.String.Size(m.Vendor) +
		sizeStrings(m.Tags) +
		ord.String.Size(m.DocType)
}

func (s chunkMetadataSer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type documentChunkSer struct{}

var _ mus.Serializer[DocumentChunk] = documentChunkSer{}

func (documentChunkSer) Marshal(c DocumentChunk, bs []byte) int {
	n := IDMUS.Marshal(c.Id, bs)
	n += IDMUS.Marshal(c.DocumentId, bs[n:])
	n += varint.Int.Marshal(c.Ordinal, bs[n:])
	n += ord.String.Marshal(c.Text, bs[n:])
	n += SourceSpanMUS.Marshal(c.Span, bs[n:])
	n += ChunkMetadataMUS.Marshal(c.Metadata, bs[n:])
	return n
}

func (documentChunkSer) Unmarshal(bs []byte) (DocumentChunk, int, error) {
	var c DocumentChunk
	var n1 int
	var err error

	n := 0
	if c.Id, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.DocumentId, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Ordinal, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Span, n1, err = SourceSpanMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Metadata, n1, err = ChunkMetadataMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1

	return c, n, nil
}

func (documentChunkSer) Size(c DocumentChunk) int {
	return IDMUS.Size(c.Id) +
		IDMUS.Size(c.DocumentId) +
		varint.Int.Size(c.Ordinal) +
		ord.String.Size(c.Text) +
		SourceSpanMUS.Size(c.Span) +
		ChunkMetadataMUS.Size(c.Metadata)
}

func (s documentChunkSer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type embeddingVectorSer struct{}

var _ mus.Serializer[EmbeddingVector] = embeddingVectorSer{}

func (embeddingVectorSer) Marshal(v EmbeddingVector, bs []byte) int {
	n := IDMUS.Marshal(v.ChunkId, bs)
	n += ord.String.Marshal(v.ModelVersion, bs[n:])
	n += varint.Int.Marshal(len(v.Vector), bs[n:])
	for _, f := range v.Vector {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func (embeddingVectorSer) Unmarshal(bs []byte) (EmbeddingVector, int, error) {
	var v EmbeddingVector
	var n1 int
	var err error

	n := 0
	if v.ChunkId, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.ModelVersion, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1

	count, n1, err := varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return v, n, err
	}
	if count > 0 {
		v.Vector = make([]float32, 0, count)
		for i := 0; i < count; i++ {
			f, n1, err := raw.Float32.Unmarshal(bs[n:])
			n += n1
			if err != nil {
				return v, n, err
			}
			v.Vector = append(v.Vector, f)
		}
	}

	return v, n, nil
}

func (embeddingVectorSer) Size(v EmbeddingVector) int {
	size := IDMUS.Size(v.ChunkId) +
		ord.String.Size(v.ModelVersion) +
		varint.Int.Size(len(v.Vector))
	for _, f := range v.Vector {
		size += raw.Float32.Size(f)
	}
	return size
}

func (s embeddingVectorSer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type documentSer struct{}

var _ mus.Serializer[Document] = documentSer{}

func (documentSer) Marshal(d Document, bs []byte) int {
	n := IDMUS.Marshal(d.Id, bs)
	n += ord.String.Marshal(d.FileName, bs[n:])
	n += ord.String.Marshal(d.FilePath, bs[n:])
	n += ord.String.Marshal(d.MimeType, bs[n:])
	n += varint.Int64.Marshal(d.SizeBytes, bs[n:])
	n += ord.String.Marshal(d.Vendor, bs[n:])
	n += marshalStrings(d.Tags, bs[n:])
	n += varint.Int64.Marshal(d.UploadedAt.UnixMicro(), bs[n:])
	return n
}

func (documentSer) Unmarshal(bs []byte) (Document, int, error) {
	var d Document
	var n1 int
	var err error

	n := 0
	if d.Id, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.FileName, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.FilePath, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.MimeType, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.SizeBytes, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.Vendor, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.Tags, n1, err = unmarshalStrings(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1

	uploaded, n1, err := varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return d, n, err
	}
	d.UploadedAt = time.UnixMicro(uploaded).UTC()

	return d, n, nil
}

func (documentSer) Size(d Document) int {
	return IDMUS.Size(d.Id) +
		ord.String.Size(d.FileName) +
		ord.String.Size(d.FilePath) +
		ord.String.Size(d.MimeType) +
		varint.Int64.Size(d.SizeBytes) +
		ord.String.Size(d.Vendor) +
		sizeStrings(d.Tags) +
		varint.Int64.Size(d.UploadedAt.UnixMicro())
}

func (s documentSer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type ingestionJobSer struct{}

var _ mus.Serializer[IngestionJob] = ingestionJobSer{}

func (ingestionJobSer) Marshal(j IngestionJob, bs []byte) int {
	n := IDMUS.Marshal(j.Id, bs)
	n += IDMUS.Marshal(j.DocumentId, bs[n:])
	n += varint.Int.Marshal(int(j.Status), bs[n:])
	n += varint.Int.Marshal(j.Attempts, bs[n:])
	n += ord.String.Marshal(j.LastError, bs[n:])
	n += varint.Int.Marshal(len(j.FailedChunkIds), bs[n:])
	for _, id := range j.FailedChunkIds {
		n += IDMUS.Marshal(id, bs[n:])
	}
	n += varint.Int.Marshal(j.Progress, bs[n:])
	n += varint.Int64.Marshal(j.CreatedAt.UnixMicro(), bs[n:])
	n += varint.Int64.Marshal(j.UpdatedAt.UnixMicro(), bs[n:])
	return n
}

func (ingestionJobSer) Unmarshal(bs []byte) (IngestionJob, int, error) {
	var j IngestionJob
	var n1 int
	var err error

	n := 0
	if j.Id, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return j, n + n1, err
	}
	n += n1
	if j.DocumentId, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return j, n + n1, err
	}
	n += n1

	status, n1, err := varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return j, n, err
	}
	j.Status = JobStatus(status)

	if j.Attempts, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return j, n + n1, err
	}
	n += n1
	if j.LastError, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return j, n + n1, err
	}
	n += n1

	count, n1, err := varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return j, n, err
	}
	if count > 0 {
		j.FailedChunkIds = make([]ID, 0, count)
		for i := 0; i < count; i++ {
			id, n1, err := IDMUS.Unmarshal(bs[n:])
			n += n1
			if err != nil {
				return j, n, err
			}
			j.FailedChunkIds = append(j.FailedChunkIds, id)
		}
	}

	if j.Progress, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return j, n + n1, err
	}
	n += n1

	created, n1, err := varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return j, n, err
	}
	updated, n1, err := varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return j, n, err
	}
	j.CreatedAt = time.UnixMicro(created).UTC()
	j.UpdatedAt = time.UnixMicro(updated).UTC()

	return j, n, nil
}

func (ingestionJobSer) Size(j IngestionJob) int {
	size := IDMUS.Size(j.Id) +
		IDMUS.Size(j.DocumentId) +
		varint.Int.Size(int(j.Status)) +
		varint.Int.Size(j.Attempts) +
		ord.String.Size(j.LastError) +
		varint.Int.Size(len(j.FailedChunkIds))
	for _, id := range j.FailedChunkIds {
		size += IDMUS.Size(id)
	}
	size += varint.Int.Size(j.Progress)
	size += varint.Int64.Size(j.CreatedAt.UnixMicro())
	size += varint.Int64.Size(j.UpdatedAt.UnixMicro())
	return size
}

func (s ingestionJobSer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}
