package gifenc

import (
	"compress/lzw"
	"fmt"
)

// Compressor turns the indexed pixel buffer of one frame into GIF image
// data appended to the sink: minimum code size byte, LZW-compressed data
// sub-blocks, block terminator.
type Compressor interface {
	Compress(width, height int, indexed []byte, colorDepth int, out *ByteStream) error
}

// LZW is the default Compressor. GIF uses the LSB-first variable-code-width
// LZW variant; the standard library coder produces exactly that stream,
// here chopped into 255-byte sub-blocks.
type LZW struct{}

func (LZW) Compress(width, height int, indexed []byte, colorDepth int, out *ByteStream) error {
	if len(indexed) != width*height {
		return fmt.Errorf("lzw: %d indices for %dx%d: %w", len(indexed), width, height, ErrBadBuffer)
	}
	litWidth := colorDepth
	if litWidth < 2 {
		litWidth = 2 // the format's minimum code size floor
	}
	if err := out.WriteByte(byte(litWidth)); err != nil {
		return err
	}
	bw := &blockWriter{out: out}
	lw := lzw.NewWriter(bw, lzw.LSB, litWidth)
	if _, err := lw.Write(indexed); err != nil {
		lw.Close()
		return fmt.Errorf("lzw: %w", err)
	}
	if err := lw.Close(); err != nil {
		return fmt.Errorf("lzw: %w", err)
	}
	if err := bw.flush(); err != nil {
		return err
	}
	return out.WriteByte(0) // block terminator
}

// blockWriter chops the raw LZW stream into data sub-blocks of at most 255
// bytes, each prefixed with its length.
type blockWriter struct {
	out *ByteStream
	buf [255]byte
	n   int
}

func (b *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		c := copy(b.buf[b.n:], p)
		b.n += c
		p = p[c:]
		total += c
		if b.n == len(b.buf) {
			if err := b.writeBlock(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (b *blockWriter) writeBlock() error {
	if b.n == 0 {
		return nil
	}
	if err := b.out.WriteByte(byte(b.n)); err != nil {
		return err
	}
	if err := b.out.WriteBytes(b.buf[:], 0, b.n); err != nil {
		return err
	}
	b.n = 0
	return nil
}

// flush writes out a final partial sub-block, if any.
func (b *blockWriter) flush() error { return b.writeBlock() }
