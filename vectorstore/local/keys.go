package local

import (
	"encoding/binary"

	"github.com/opsgrid/docbase/core"
)

// Key prefixes for the chunk records and the document index.
const (
	recordPrefix   = "vsrec"
	documentPrefix = "vsdoc"
)

// makeRecordKey generates a key for a chunk record by ID.
func makeRecordKey(id core.ID) []byte {
	prefix := recordPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeDocumentKey generates a composite key for the document index.
// Format: prefix:documentId:chunkId
func makeDocumentKey(documentId, chunkId core.ID) []byte {
	prefix := documentPrefix + ":"
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	// BigEndian so all chunks of a document are prefix-adjacent
	binary.BigEndian.PutUint64(buf[offset:], uint64(documentId))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunkId))
	return buf
}

// makePartialDocumentKey generates the iteration prefix for one document.
func makePartialDocumentKey(documentId core.ID) []byte {
	prefix := documentPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(documentId))
	return buf
}

// chunkIdFromDocumentKey extracts the chunk ID from a document index key.
func chunkIdFromDocumentKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}
