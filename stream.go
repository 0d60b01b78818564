package gifenc

import "fmt"

// ByteStream is the append-only output sink: an ordered sequence of byte
// values that only ever grows. It implements io.Writer and io.ByteWriter so
// the compressor can target it directly. A pure accumulator, no decoding
// semantics.
type ByteStream struct {
	data []byte
}

func NewByteStream() *ByteStream {
	return &ByteStream{}
}

// WriteByte appends a single byte.
func (s *ByteStream) WriteByte(b byte) error {
	s.data = append(s.data, b)
	return nil
}

// Write appends p whole, satisfying io.Writer.
func (s *ByteStream) Write(p []byte) (int, error) {
	s.data = append(s.data, p...)
	return len(p), nil
}

// WriteString appends the raw bytes of str. Meant for the fixed ASCII
// signatures and labels of the container; the single-byte restriction is on
// the caller.
func (s *ByteStream) WriteString(str string) error {
	s.data = append(s.data, str...)
	return nil
}

// WriteBytes appends n bytes of p starting at offset off. n < 0 means the
// rest of the slice. The bound is a count, not an end index.
func (s *ByteStream) WriteBytes(p []byte, off, n int) error {
	if n < 0 {
		n = len(p) - off
	}
	if off < 0 || n < 0 || off+n > len(p) {
		return fmt.Errorf("stream: copy [%d:+%d) out of %d bytes: %w", off, n, len(p), ErrBadBuffer)
	}
	s.data = append(s.data, p[off:off+n]...)
	return nil
}

// Bytes returns the accumulated sequence. The slice aliases the internal
// buffer and stays valid until the next write.
func (s *ByteStream) Bytes() []byte { return s.data }

// Len reports the number of bytes accumulated so far.
func (s *ByteStream) Len() int { return len(s.data) }

// Reset truncates the stream. Only Start and Continue do this: within a
// session the output grows monotonically.
func (s *ByteStream) Reset() { s.data = s.data[:0] }
