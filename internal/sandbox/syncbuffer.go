package sandbox

import (
	"bytes"
	"sync"
)

// syncBuffer is a bytes.Buffer safe for concurrent Write (from the
// exec.Cmd's output-copying goroutine) and Bytes (from a watchdog or
// artifact-capture goroutine reading the same output live).
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newSyncBuffer() *syncBuffer {
	return &syncBuffer{}
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out
}
