package terminal

import (
	"sync"
)

// DefaultBufferMax is the retained-size cap for un-drained output.
// Protects against runaway producers like `yes` between polls.
const DefaultBufferMax = 1024 * 1024 // 1MB

// Sink receives every chunk of cleaned output for transcript logging.
// Implementations must be best-effort and non-blocking; a sink failure must
// never stall or corrupt the in-memory buffer.
type Sink interface {
	AppendLine(sessionID, text string)
}

// OutputBuffer accumulates cleaned session output between polls. Append runs
// on the drain path, Drain on the retrieval path; the two are safe to call
// concurrently, and every appended byte shows up in exactly one Drain result,
// in append order.
type OutputBuffer struct {
	sessionID string
	sink      Sink

	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

// NewOutputBuffer creates a buffer capped at max retained bytes (DefaultBufferMax
// when max <= 0). sink may be nil.
func NewOutputBuffer(sessionID string, max int, sink Sink) *OutputBuffer {
	if max <= 0 {
		max = DefaultBufferMax
	}
	return &OutputBuffer{sessionID: sessionID, sink: sink, max: max}
}

// Append adds text to the tail and forwards it to the sink. When the retained
// size exceeds the cap, the oldest bytes are discarded and the buffer is
// flagged truncated until the next drain.
func (b *OutputBuffer) Append(text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	b.buf = append(b.buf, text...)
	if len(b.buf) > b.max {
		excess := len(b.buf) - b.max
		copy(b.buf, b.buf[excess:])
		b.buf = b.buf[:b.max]
		b.truncated = true
	}
	b.mu.Unlock()

	// Sink write-through stays outside the lock so it cannot serialize
	// against Drain.
	if b.sink != nil {
		b.sink.AppendLine(b.sessionID, text)
	}
}

// Drain atomically returns everything accumulated since the last drain and
// clears the buffer. The second result reports whether the cap discarded
// un-drained output since the last drain; it resets alongside the content.
func (b *OutputBuffer) Drain() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := string(b.buf)
	truncated := b.truncated
	b.buf = b.buf[:0]
	b.truncated = false
	return out, truncated
}
