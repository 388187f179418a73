package split

import "strings"

// BlockKind identifies the structural role of a parsed block.
type BlockKind int

const (
	// BlockHeading is a section heading.
	BlockHeading BlockKind = iota + 1
	// BlockParagraph is running prose.
	BlockParagraph
	// BlockTable is a table; treated as an atomic unit.
	BlockTable
	// BlockFormula is a formula block; treated as an atomic unit.
	BlockFormula
	// BlockFigure is a figure caption or OCR text; treated as an atomic unit.
	BlockFigure
)

// String returns the kind name.
func (k BlockKind) String() string {
	switch k {
	case BlockHeading:
		return "heading"
	case BlockParagraph:
		return "paragraph"
	case BlockTable:
		return "table"
	case BlockFormula:
		return "formula"
	case BlockFigure:
		return "figure"
	default:
		return "unknown"
	}
}

// Atomic reports whether blocks of this kind must not be split when they fit
// within the maximum chunk length.
func (k BlockKind) Atomic() bool {
	switch k {
	case BlockTable, BlockFormula, BlockFigure:
		return true
	default:
		return false
	}
}

// Block is one structural unit of a parsed document.
type Block struct {
	Kind BlockKind
	Text string
	// Level is the heading level for BlockHeading, 0 otherwise.
	Level int
}

// ParsedDocument is the structured output of the document-intelligence
// service: an ordered sequence of typed blocks plus document-level fields.
type ParsedDocument struct {
	Title  string
	Blocks []Block
}

// blockSeparator joins blocks in the canonical text. Source spans are byte
// offsets into the canonical text.
const blockSeparator = "\n\n"

// Text returns the canonical flat text of the document: block texts joined by
// the block separator. Chunk source spans index into this string.
func (d *ParsedDocument) Text() string {
	parts := make([]string, len(d.Blocks))
	for i, b := range d.Blocks {
		parts[i] = b.Text
	}
	return strings.Join(parts, blockSeparator)
}
