package sink

import (
	"io"
	"sync"
)

// syncWriter serializes concurrent writes to a shared stream. The
// process streams are shared with the host application, so every
// record line must land atomically.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSyncWriter(w io.Writer) *syncWriter {
	return &syncWriter{w: w}
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// NewSynchronizedStream returns a JSON-lines sink over an arbitrary
// stream, wrapping it so concurrent sink workers cannot interleave
// partial lines. The stream is not closed when the sink closes.
func NewSynchronizedStream(w io.Writer) *JSON {
	return NewJSONWriter(newSyncWriter(w))
}
