package bits

import (
	"io"

	"github.com/icza/bitio"
)

// Writer packs MSB-first bit fields, the convention FLAC metadata blocks
// use for their sub-byte layouts (STREAMINFO's 20-bit sample rate and
// 36-bit sample count, the block header's 1+7+24 split). It wraps an
// icza/bitio writer; byte-sized writes pass straight through once the
// stream is aligned.
type Writer struct {
	bw *bitio.Writer
}

// NewWriter returns a bit writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bitio.NewWriter(w)}
}

// WriteBits writes the low n bits of x, MSB-first. n must be at most 64.
func (w *Writer) WriteBits(x uint64, n byte) error {
	return w.bw.WriteBits(x, n)
}

// WriteBool writes a single flag bit.
func (w *Writer) WriteBool(b bool) error {
	return w.bw.WriteBool(b)
}

// Write emits p whole; the stream must be byte-aligned.
func (w *Writer) Write(p []byte) (int, error) {
	return w.bw.Write(p)
}

// Flush pads the final partial byte with zero bits and flushes it.
func (w *Writer) Flush() error {
	return w.bw.Close()
}
