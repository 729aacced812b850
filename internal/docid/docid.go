// Package docid derives stable identifiers for documents and chunks from file paths.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

const prefix = "note:"

// chunkNamespace is the fixed UUID namespace for chunk identity. Chunk IDs
// must be stable across updates so deletes and upserts target the same rows.
var chunkNamespace = uuid.MustParse("7c9e4a2d-1f6b-4e3a-9b0c-5d8f2a714e96")

// DocID returns a stable document ID for the given absolute path.
// Same path always yields the same ID.
func DocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// ChunkID returns a deterministic ID for the chunk at index within the
// document, derived from the document ID and the chunk index only.
func ChunkID(docID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(docID+"#"+strconv.Itoa(index))).String()
}
