package serialize

import (
	"errors"
	"fmt"
)

var ErrShortBuffer = errors.New("reader does not contain enough data")

type Reader struct {
	bytes []byte
	rpos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{
		bytes: data,
	}
}

// Read returns the next n bytes. The slice aliases the reader's buffer.
func (r *Reader) Read(n int) ([]byte, error) {
	if n < 0 || r.rpos+n > len(r.bytes) {
		return nil, fmt.Errorf("%w: num bytes available: %d, num bytes needed: %d", ErrShortBuffer, len(r.bytes)-r.rpos, n)
	}
	bs := r.bytes[r.rpos : r.rpos+n]
	r.rpos += n
	return bs, nil
}

func (r *Reader) Remaining() int {
	return len(r.bytes) - r.rpos
}
