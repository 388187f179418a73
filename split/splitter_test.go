package split

import (
	"fmt"
	"strings"
	"testing"

	"github.com/opsgrid/docbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSplitter(t *testing.T, config Config) *Splitter {
	t.Helper()
	s, err := NewSplitter(config)
	require.NoError(t, err)
	return s
}

// requireSpansValid checks the provenance invariants: every chunk's text is the
// spanned slice of the canonical text, ordinals are sequential, and consecutive
// spans overlap by at most the configured window.
func requireSpansValid(t *testing.T, doc *ParsedDocument, chunks []*core.DocumentChunk, config Config) {
	t.Helper()
	text := doc.Text()
	prevEnd := 0
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Ordinal)
		require.GreaterOrEqual(t, chunk.Span.Start, 0)
		require.LessOrEqual(t, chunk.Span.End, len(text))
		assert.Equal(t, text[chunk.Span.Start:chunk.Span.End], chunk.Text,
			"chunk %d text must equal its spanned slice", i)
		if i > 0 {
			assert.LessOrEqual(t, chunk.Span.Start, prevEnd,
				"chunk %d must start at or before its predecessor's end, leaving no gap", i)
			overlap := prevEnd - chunk.Span.Start
			assert.LessOrEqual(t, overlap, config.Overlap,
				"chunk %d overlaps its predecessor beyond the window", i)
			assert.Greater(t, chunk.Span.End, prevEnd, "spans must advance")
		}
		prevEnd = chunk.Span.End
	}
	if len(chunks) > 0 {
		assert.Equal(t, len(text), chunks[len(chunks)-1].Span.End,
			"spans must cover the document to its end")
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	assert.Error(t, Config{MaxChunkLen: 0}.Validate())
	assert.Error(t, Config{MaxChunkLen: 100, MinChunkLen: 100}.Validate())
	assert.Error(t, Config{MaxChunkLen: 100, MinChunkLen: -1}.Validate())
	assert.Error(t, Config{MaxChunkLen: 100, Overlap: 100}.Validate())
	assert.Error(t, Config{MaxChunkLen: 100, Overlap: -1}.Validate())
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	s := testSplitter(t, DefaultConfig())
	doc := &ParsedDocument{Blocks: []Block{{Kind: BlockParagraph, Text: "text"}}}

	_, err := s.Split(0, doc, core.ChunkMetadata{})
	assert.ErrorIs(t, err, ErrDocumentIdRequired)

	_, err = s.Split(1, nil, core.ChunkMetadata{})
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = s.Split(1, &ParsedDocument{}, core.ChunkMetadata{})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestSplitSingleSmallBlock(t *testing.T) {
	s := testSplitter(t, DefaultConfig())
	doc := &ParsedDocument{
		Title:  "Release Notes",
		Blocks: []Block{{Kind: BlockParagraph, Text: "Firmware 4.2 fixes the PoE negotiation bug."}},
	}

	chunks, err := s.Split(7, doc, core.ChunkMetadata{Source: "notes.pdf"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, core.ID(7), chunk.DocumentId)
	assert.Equal(t, doc.Blocks[0].Text, chunk.Text)
	assert.Equal(t, "Release Notes", chunk.Metadata.Title, "empty title falls back to the document title")
	assert.Equal(t, "notes.pdf", chunk.Metadata.Source)
	requireSpansValid(t, doc, chunks, s.config)
}

func TestSplitPacksSmallBlocks(t *testing.T) {
	config := Config{MaxChunkLen: 200, MinChunkLen: 20, Overlap: 10}
	s := testSplitter(t, config)

	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockParagraph, Text: strings.Repeat("a", 80)},
		{Kind: BlockParagraph, Text: strings.Repeat("b", 80)},
		{Kind: BlockParagraph, Text: strings.Repeat("c", 80)},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	require.Len(t, chunks, 2, "first two blocks pack together, third flushes a new chunk")
	assert.LessOrEqual(t, chunks[0].Span.Len(), config.MaxChunkLen)
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitHeadingStartsNewChunk(t *testing.T) {
	config := Config{MaxChunkLen: 500, MinChunkLen: 20, Overlap: 0}
	s := testSplitter(t, config)

	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockParagraph, Text: strings.Repeat("intro ", 10)},
		{Kind: BlockHeading, Text: "2. Installation", Level: 1},
		{Kind: BlockParagraph, Text: strings.Repeat("steps ", 10)},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(strings.TrimLeft(chunks[1].Text, "\n"), "2. Installation"),
		"the heading must start the second chunk")
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitAtomicBlockKeptWhole(t *testing.T) {
	config := Config{MaxChunkLen: 300, MinChunkLen: 20, Overlap: 10}
	s := testSplitter(t, config)

	table := "col1\tcol2\nval1\tval2\nval3\tval4"
	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockParagraph, Text: strings.Repeat("before ", 40)}, // 280 bytes
		{Kind: BlockTable, Text: table},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)

	var found bool
	for _, chunk := range chunks {
		if strings.Contains(chunk.Text, table) {
			found = true
		}
		assert.False(t, strings.Contains(chunk.Text, "val1") && !strings.Contains(chunk.Text, "val4"),
			"a fitting table must never be split")
	}
	assert.True(t, found, "the whole table must appear in some chunk")
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitOversizedTableCutAtRows(t *testing.T) {
	config := Config{MaxChunkLen: 100, MinChunkLen: 10, Overlap: 20}
	s := testSplitter(t, config)

	var rows []string
	for i := 0; i < 12; i++ {
		rows = append(rows, fmt.Sprintf("row%02d\tvalue%02d\tdetail%02d", i, i, i))
	}
	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockTable, Text: strings.Join(rows, "\n")},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "an oversized table must be cut")

	for i, chunk := range chunks {
		if i == 0 {
			continue
		}
		// Cut pieces repeat the overlap window from the previous piece.
		overlap := chunks[i-1].Span.End - chunk.Span.Start
		assert.LessOrEqual(t, overlap, config.Overlap)
	}
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitOversizedProseCutAtSentences(t *testing.T) {
	config := Config{MaxChunkLen: 120, MinChunkLen: 10, Overlap: 20}
	s := testSplitter(t, config)

	var sentences []string
	for i := 0; i < 10; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d covers one troubleshooting step.", i))
	}
	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockParagraph, Text: strings.Join(sentences, " ")},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitHardCutsUnbreakableRun(t *testing.T) {
	config := Config{MaxChunkLen: 50, MinChunkLen: 5, Overlap: 10}
	s := testSplitter(t, config)

	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockParagraph, Text: strings.Repeat("x", 200)}, // no sentence boundaries
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitMergesTrailingFragment(t *testing.T) {
	config := Config{MaxChunkLen: 200, MinChunkLen: 50, Overlap: 0}
	s := testSplitter(t, config)

	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockParagraph, Text: strings.Repeat("a", 195)},
		{Kind: BlockParagraph, Text: "tiny tail."},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	require.Len(t, chunks, 1, "a trailing fragment below MinChunkLen merges into its neighbor")
	assert.Contains(t, chunks[0].Text, "tiny tail.")
	requireSpansValid(t, doc, chunks, config)
}

func TestSplitDeterministicChunkIds(t *testing.T) {
	s := testSplitter(t, DefaultConfig())
	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockHeading, Text: "Overview"},
		{Kind: BlockParagraph, Text: strings.Repeat("stable content. ", 30)},
	}}

	first, err := s.Split(42, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	second, err := s.Split(42, doc, core.ChunkMetadata{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Id, second[i].Id, "re-splitting must yield identical chunk ids")
	}

	other, err := s.Split(43, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Id, other[0].Id, "ids are scoped to the document")
}

func TestSplitChunksPassValidation(t *testing.T) {
	s := testSplitter(t, DefaultConfig())
	doc := &ParsedDocument{Blocks: []Block{
		{Kind: BlockHeading, Text: "Safety"},
		{Kind: BlockParagraph, Text: strings.Repeat("Disconnect power before servicing. ", 80)},
		{Kind: BlockFormula, Text: "P = V * I"},
	}}

	chunks, err := s.Split(1, doc, core.ChunkMetadata{})
	require.NoError(t, err)
	for _, chunk := range chunks {
		require.NoError(t, core.ValidateChunk(chunk))
	}
}

func TestCutPoints(t *testing.T) {
	t.Run("fits in one piece", func(t *testing.T) {
		cuts := cutPoints("short text.", BlockParagraph, 100)
		assert.Equal(t, []int{11}, cuts)
	})

	t.Run("last cut always ends the block", func(t *testing.T) {
		text := "First sentence. Second sentence. Third sentence."
		cuts := cutPoints(text, BlockParagraph, 20)
		assert.Equal(t, len(text), cuts[len(cuts)-1])
	})

	t.Run("table cuts land on row boundaries", func(t *testing.T) {
		text := "r1\nr2\nr3\nr4\n"
		cuts := cutPoints(text, BlockTable, 6)
		for _, cut := range cuts[:len(cuts)-1] {
			assert.Equal(t, byte('\n'), text[cut-1], "cut at %d must follow a newline", cut)
		}
	})
}
