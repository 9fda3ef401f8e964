// internal/transfer/chunker.go
package transfer

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// DefaultChunkSize is the raw byte size of one transfer chunk before
// base64 encoding.
const DefaultChunkSize = 64 * 1024

// Chunk is one slice of a file in flight, as carried on a file_chunk event.
type Chunk struct {
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Data        string `json:"data"`
	Checksum    string `json:"checksum,omitempty"`
}

// Split cuts payload into base64-encoded chunks of at most chunkSize raw
// bytes, in index order. An empty payload yields a single empty chunk so
// the receiver still observes a complete transfer. Every chunk carries
// the SHA-256 of the whole payload; the receiver verifies it once all
// chunks are assembled.
func Split(filename string, payload []byte, chunkSize int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	sum := Checksum(payload)

	total := (len(payload) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			Filename:    filename,
			ChunkIndex:  i,
			TotalChunks: total,
			Data:        base64.StdEncoding.EncodeToString(payload[start:end]),
			Checksum:    sum,
		})
	}
	return chunks
}

// Checksum returns the hex SHA-256 of the payload.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
