package serialize

import (
	"fmt"
)

// FixedSizeWriter fills a buffer whose size was computed up front from the
// ByteSize functions. Overrunning or underfilling it is a sizing bug and
// panics.
type FixedSizeWriter struct {
	buf []byte
	n   int
}

func NewFixedSizeWriter(size int) *FixedSizeWriter {
	return &FixedSizeWriter{
		buf: make([]byte, size),
	}
}

// Next reserves the next n bytes.
func (w *FixedSizeWriter) Next(n int) []byte {
	if w.n+n > len(w.buf) {
		panic(fmt.Sprintf("serialize: write of %d bytes overruns buffer, %d left", n, len(w.buf)-w.n))
	}
	b := w.buf[w.n : w.n+n]
	w.n += n
	return b
}

func (w *FixedSizeWriter) Len() int {
	return w.n
}

func (w *FixedSizeWriter) Bytes() []byte {
	if w.n != len(w.buf) {
		panic(fmt.Sprintf("serialize: buffer underfilled by %d bytes", len(w.buf)-w.n))
	}
	return w.buf
}
