// internal/transfer/assembler.go
package transfer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrTransferIncomplete reports a chunk set that never completed
	// before its session expired.
	ErrTransferIncomplete = errors.New("transfer incomplete")
	// ErrChecksumMismatch reports an assembled payload whose SHA-256
	// does not match the checksum carried on the chunks.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// session accumulates inbound chunks for one filename. Chunks are stored
// by index, so arrival order does not matter; a duplicate index simply
// overwrites.
type session struct {
	filename    string
	totalChunks int
	checksum    string
	received    map[int][]byte
	startedAt   time.Time
	lastChunkAt time.Time
}

func (s *session) complete() bool {
	return len(s.received) == s.totalChunks
}

func (s *session) assemble() ([]byte, error) {
	var buf bytes.Buffer
	for i := 0; i < s.totalChunks; i++ {
		data, ok := s.received[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing chunk %d of %d", ErrTransferIncomplete, i, s.totalChunks)
		}
		buf.Write(data)
	}
	payload := buf.Bytes()
	if s.checksum != "" && Checksum(payload) != s.checksum {
		return nil, fmt.Errorf("%w for %s", ErrChecksumMismatch, s.filename)
	}
	return payload, nil
}

// Assembler reassembles inbound chunk streams into complete payloads.
// Sessions are keyed by filename and guarded by a single mutex. Sessions
// that receive no chunk within the timeout are expired by Sweep.
type Assembler struct {
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewAssembler creates an Assembler whose sessions expire after timeout
// without progress. timeout <= 0 disables expiry.
func NewAssembler(timeout time.Duration) *Assembler {
	return &Assembler{
		timeout:  timeout,
		sessions: make(map[string]*session),
	}
}

// Add ingests one chunk. When the chunk completes its set, Add returns
// the full decoded payload and discards the session; otherwise it
// returns (nil, nil). A corrupt chunk or checksum failure discards the
// session and returns an error.
func (a *Assembler) Add(c Chunk) ([]byte, error) {
	if c.TotalChunks <= 0 {
		return nil, fmt.Errorf("invalid total_chunks %d for %s", c.TotalChunks, c.Filename)
	}
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks {
		return nil, fmt.Errorf("chunk_index %d out of range for %s", c.ChunkIndex, c.Filename)
	}

	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %d of %s: %w", c.ChunkIndex, c.Filename, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess, ok := a.sessions[c.Filename]
	if !ok {
		sess = &session{
			filename:    c.Filename,
			totalChunks: c.TotalChunks,
			checksum:    c.Checksum,
			received:    make(map[int][]byte),
			startedAt:   time.Now(),
		}
		a.sessions[c.Filename] = sess
	}

	// A chunk disagreeing with the session's recorded count would slip
	// an out-of-range index past the bounds check above and trip the
	// completion count with a gap.
	if c.TotalChunks != sess.totalChunks {
		return nil, fmt.Errorf("total_chunks %d does not match session's %d for %s",
			c.TotalChunks, sess.totalChunks, c.Filename)
	}

	sess.received[c.ChunkIndex] = data
	sess.lastChunkAt = time.Now()

	if !sess.complete() {
		return nil, nil
	}

	delete(a.sessions, c.Filename)
	payload, err := sess.assemble()
	if err != nil {
		return nil, err
	}
	slog.Info("file reassembled", "filename", c.Filename, "chunks", sess.totalChunks, "bytes", len(payload))
	return payload, nil
}

// Pending returns the filenames with an in-flight session.
func (a *Assembler) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.sessions))
	for name := range a.sessions {
		names = append(names, name)
	}
	return names
}

// Sweep drops sessions that have seen no chunk within the timeout and
// returns one ErrTransferIncomplete-wrapped error per expired session.
func (a *Assembler) Sweep() []error {
	if a.timeout <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	now := time.Now()
	for name, sess := range a.sessions {
		if now.Sub(sess.lastChunkAt) < a.timeout {
			continue
		}
		delete(a.sessions, name)
		errs = append(errs, fmt.Errorf("%w: %s expired with %d of %d chunks",
			ErrTransferIncomplete, name, len(sess.received), sess.totalChunks))
		slog.Warn("transfer session expired", "filename", name,
			"received", len(sess.received), "total", sess.totalChunks)
	}
	return errs
}
