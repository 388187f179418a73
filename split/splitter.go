// Copyright 2025 Opsgrid Labs
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


package split

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/opsgrid/docbase/core"
)

// Config controls chunk sizing.
type Config struct {
	// MaxChunkLen is the maximum chunk length in bytes.
	MaxChunkLen int
	// MinChunkLen is the threshold below which a trailing fragment is merged
	// into its neighbor instead of being emitted.
	MinChunkLen int
	// Overlap is the overlap window in bytes applied when an oversized
	// atomic unit has to be cut; the tail of each cut piece is repeated at
	// the start of the next to preserve context across the cut.
	Overlap int
}

// DefaultConfig returns chunk sizing suitable for technical documents.
func DefaultConfig() Config {
	return Config{
		MaxChunkLen: 2000,
		MinChunkLen: 200,
		Overlap:     120,
	}
}

// Validate checks the sizing invariants.
func (c Config) Validate() error {
	if c.MaxChunkLen <= 0 {
		return fmt.Errorf("split config: MaxChunkLen must be positive")
	}
	if c.MinChunkLen < 0 || c.MinChunkLen >= c.MaxChunkLen {
		return fmt.Errorf("split config: MinChunkLen must be in [0, MaxChunkLen)")
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkLen {
		return fmt.Errorf("split config: Overlap must be in [0, MaxChunkLen)")
	}
	return nil
}

// Splitter turns a parsed document into ordered retrieval chunks.
//
// Boundary rules:
//   - headings prefer to start a new chunk
//   - atomic units (tables, formulas, figures) are never split when they fit
//     within MaxChunkLen
//   - oversized units are cut at the least-disruptive internal boundary (row
//     boundary for tables, sentence boundary otherwise) with the configured
//     overlap window repeated across each cut
//   - a trailing fragment smaller than MinChunkLen is merged into its
//     neighbor instead of being emitted
//
// Each chunk records a source span into ParsedDocument.Text() such that
// chunk text equals the spanned slice, spans tile the document in order, and
// overlap between consecutive spans never exceeds the overlap window.
type Splitter struct {
	config Config
	logger *slog.Logger
}

// Option configures a Splitter.
type Option func(*Splitter) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Splitter) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSplitter creates a splitter with the given sizing config.
func NewSplitter(config Config, opts ...Option) (*Splitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Splitter{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// segment is a candidate piece of the canonical text: a block that fits, or
// one cut of an oversized block. Solo segments become chunks on their own.
type segment struct {
	start    int // canonical offset, before overlap extension
	end      int
	overlap  int  // bytes the span start is pulled back across a cut
	solo     bool // emit as its own chunk, never packed with neighbors
	boundary bool // prefer starting a new chunk here (heading)
}

// Split turns a parsed document into ordered chunks carrying provenance spans
// and stable ordinals. Chunk ids derive from (documentId, ordinal), so
// re-splitting the same document yields the same ids and indexing stays
// idempotent.
func (s *Splitter) Split(documentId core.ID, doc *ParsedDocument, meta core.ChunkMetadata) ([]*core.DocumentChunk, error) {
	if documentId == 0 {
		return nil, ErrDocumentIdRequired
	}
	if doc == nil || len(doc.Blocks) == 0 {
		return nil, ErrEmptyDocument
	}
	if meta.Title == "" {
		meta.Title = doc.Title
	}

	text := doc.Text()
	segments := s.segment(doc)
	chunks := s.pack(documentId, text, segments, meta)

	s.logger.Debug("document split into chunks",
		"documentId", documentId, "blocks", len(doc.Blocks), "chunks", len(chunks))
	return chunks, nil
}

// segment walks the blocks and produces candidate segments with canonical
// offsets. Oversized blocks are cut here; packing happens later.
func (s *Splitter) segment(doc *ParsedDocument) []segment {
	var segments []segment
	offset := 0
	for i, block := range doc.Blocks {
		if i > 0 {
			offset += len(blockSeparator)
		}
		start, end := offset, offset+len(block.Text)
		offset = end

		if len(block.Text) <= s.config.MaxChunkLen {
			segments = append(segments, segment{
				start:    start,
				end:      end,
				boundary: block.Kind == BlockHeading,
			})
			continue
		}

		// Oversized block: cut at internal boundaries with overlap.
		cuts := cutPoints(block.Text, block.Kind, s.config.MaxChunkLen-s.config.Overlap)
		prev := 0
		for _, cut := range cuts {
			seg := segment{start: start + prev, end: start + cut, solo: true}
			if prev > 0 {
				overlap := s.config.Overlap
				if overlap > prev {
					overlap = prev
				}
				seg.overlap = overlap
			}
			segments = append(segments, seg)
			prev = cut
		}
	}
	return segments
}

// pack assembles segments into chunks no longer than MaxChunkLen, flushing at
// heading boundaries and around solo segments, then merges a trailing
// fragment below MinChunkLen into the previous chunk. Spans tile the text:
// each chunk's span starts where the previous one ended, so separator bytes
// belong to the following chunk. Only deliberate cut overlap pulls a span
// start backwards.
func (s *Splitter) pack(documentId core.ID, text string, segments []segment, meta core.ChunkMetadata) []*core.DocumentChunk {
	var chunks []*core.DocumentChunk
	tileEnd := 0 // end of the last emitted span

	emit := func(spanStart, spanEnd int) {
		if spanEnd <= spanStart {
			return
		}
		chunks = append(chunks, &core.DocumentChunk{
			DocumentId: documentId,
			Text:       text[spanStart:spanEnd],
			Span:       core.SourceSpan{Start: spanStart, End: spanEnd},
			Metadata:   meta,
		})
		tileEnd = spanEnd
	}

	open := false
	curStart, curEnd := 0, 0
	for _, seg := range segments {
		if seg.solo {
			if open {
				emit(curStart, curEnd)
				open = false
			}
			start := seg.start - seg.overlap
			if seg.overlap == 0 && tileEnd < start {
				start = tileEnd // first cut of a block absorbs the separator
			}
			emit(start, seg.end)
			continue
		}

		if !open {
			curStart = tileEnd
			open = true
		} else if seg.boundary && curEnd-curStart >= s.config.MinChunkLen {
			emit(curStart, curEnd)
			curStart = tileEnd
		} else if seg.end-curStart > s.config.MaxChunkLen {
			emit(curStart, curEnd)
			curStart = tileEnd
		}
		curEnd = seg.end
	}
	if open {
		emit(curStart, curEnd)
	}

	chunks = s.mergeTrailing(text, chunks)

	for i, chunk := range chunks {
		chunk.Ordinal = i
		chunk.Id = core.IDFromContent(fmt.Sprintf("%d:%d", documentId, i))
	}
	return chunks
}

// mergeTrailing folds a final fragment below MinChunkLen into the previous
// chunk when the merged chunk still fits within MaxChunkLen plus the
// fragment; a near-empty chunk is worse than a slightly long one.
func (s *Splitter) mergeTrailing(text string, chunks []*core.DocumentChunk) []*core.DocumentChunk {
	n := len(chunks)
	if n < 2 {
		return chunks
	}
	last, prev := chunks[n-1], chunks[n-2]
	if last.Span.Len() >= s.config.MinChunkLen {
		return chunks
	}
	merged := &core.DocumentChunk{
		DocumentId: prev.DocumentId,
		Text:       text[prev.Span.Start:last.Span.End],
		Span:       core.SourceSpan{Start: prev.Span.Start, End: last.Span.End},
		Metadata:   prev.Metadata,
	}
	return append(chunks[:n-2], merged)
}

// sentencePattern matches sentence-ish units ending in punctuation.
var sentencePattern = regexp.MustCompile(`(?s)[^.!?\n]*[.!?\n]+|[^.!?\n]+$`)

// cutPoints returns end offsets (into blockText) of pieces no longer than
// target, cutting at row boundaries for tables and sentence boundaries for
// everything else. A single unit longer than target is hard-cut at target.
func cutPoints(blockText string, kind BlockKind, target int) []int {
	if target <= 0 {
		target = 1
	}

	var units []int // end offset of each indivisible unit
	if kind == BlockTable {
		pos := 0
		for {
			idx := strings.IndexByte(blockText[pos:], '\n')
			if idx < 0 {
				break
			}
			pos += idx + 1
			units = append(units, pos)
		}
		if len(units) == 0 || units[len(units)-1] != len(blockText) {
			units = append(units, len(blockText))
		}
	} else {
		for _, loc := range sentencePattern.FindAllStringIndex(blockText, -1) {
			units = append(units, loc[1])
		}
		if len(units) == 0 {
			units = append(units, len(blockText))
		}
	}

	var cuts []int
	pieceStart := 0
	prevUnit := 0
	for _, unitEnd := range units {
		if unitEnd-pieceStart > target {
			if prevUnit > pieceStart {
				cuts = append(cuts, prevUnit)
				pieceStart = prevUnit
			}
			// Hard-cut a single unit that alone exceeds the target.
			for unitEnd-pieceStart > target {
				cut := pieceStart + target
				cuts = append(cuts, cut)
				pieceStart = cut
			}
		}
		prevUnit = unitEnd
	}
	if len(cuts) == 0 || cuts[len(cuts)-1] != len(blockText) {
		cuts = append(cuts, len(blockText))
	}
	return cuts
}
