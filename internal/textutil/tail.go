package textutil

import (
	"strings"
	"sync"
)

// TailBuffer is an io.Writer that keeps only the last Limit bytes written.
type TailBuffer struct {
	Limit int

	mu        sync.Mutex
	buf       []byte
	truncated bool
}

// NewTailBuffer returns a TailBuffer keeping at most limit bytes.
func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{Limit: limit}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if t.Limit > 0 && len(t.buf) > t.Limit {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.Limit:]...)
		t.truncated = true
	}
	return len(p), nil
}

// String returns the retained bytes.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Truncated reports whether earlier output was discarded.
func (t *TailBuffer) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}

// LastLines returns up to n trailing non-empty lines joined by "; ", which
// is compact enough to embed in an error message.
func (t *TailBuffer) LastLines(n int) string {
	lines := strings.Split(strings.TrimSpace(t.String()), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "; ")
}
