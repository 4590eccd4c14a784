// Package gather implements the byte gatherer shared by every reader: it
// holds at most one in-flight prefix of a needed structure, consuming
// caller-supplied input until a requested contiguous length is available.
package gather

import (
	"errors"
	"fmt"
)

// ErrNoMemory is returned when a gather request would exceed the buffer's
// configured ceiling.
var ErrNoMemory = errors.New("gather: buffer ceiling exceeded")

// Buffer accumulates bytes until a caller-requested length is satisfied.
// It is not safe for concurrent use; each reader owns exactly one.
//
// Consume never moves bytes: it advances the buffer's start index, so a
// view delivered to the caller stays intact until the next Gather call
// compacts or grows the storage. That matches the borrowed-output
// contract: results must be consumed or copied before the next Process
// call on the owning reader.
type Buffer struct {
	buf   []byte
	start int
	cap   int // hard ceiling; 0 means no ceiling
}

// New returns a Buffer that refuses to grow past ceiling bytes. A ceiling
// of 0 means unbounded (used by formats with no documented per-chunk cap).
func New(ceiling int) *Buffer {
	return &Buffer{cap: ceiling}
}

// Reset drops all buffered bytes, as on a seek or a hard error.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.start = 0
}

// Len reports how many bytes are currently held.
func (b *Buffer) Len() int { return len(b.buf) - b.start }

// View peeks at the current holdings without consuming them. The returned
// slice is stable until the next Gather call.
func (b *Buffer) View() []byte { return b.buf[b.start:] }

// Gather appends from input until the buffer holds at least need bytes.
// It returns the number of bytes consumed from input and, when need is
// satisfied, an exact-need view (nil otherwise).
//
// When the buffer starts empty and input already holds the whole request,
// the returned view aliases input directly (the zero-copy read path); the
// bytes are still recorded internally so a partial Consume keeps the
// remainder across calls.
func (b *Buffer) Gather(input []byte, need int) (consumed int, view []byte, err error) {
	if need <= 0 {
		return 0, input[:0], nil
	}
	if b.cap != 0 && need > b.cap {
		return 0, nil, fmt.Errorf("gather: requested %d bytes exceeds ceiling %d: %w", need, b.cap, ErrNoMemory)
	}
	avail := b.Len()
	if avail >= need {
		return 0, b.View()[:need], nil
	}
	if avail == 0 && len(input) >= need {
		if err := b.store(input[:need]); err != nil {
			return 0, nil, err
		}
		return need, input[:need], nil
	}
	take := need - avail
	if take > len(input) {
		take = len(input)
	}
	if err := b.ensure(avail + take); err != nil {
		return 0, nil, err
	}
	b.buf = append(b.buf, input[:take]...)
	if b.Len() >= need {
		return take, b.View()[:need], nil
	}
	return take, nil, nil
}

// GatherHeader is the sync-scan variant used by frame-sync scanners: it
// admits up to (need-1)*2 bytes at a time, which lets a scanner look
// across a chunk boundary for a sync word without quadratic re-inspection
// of the same bytes on every call. The returned view may be longer than
// need.
func (b *Buffer) GatherHeader(input []byte, need int) (consumed int, view []byte, err error) {
	limit := (need - 1) * 2
	if limit < need {
		limit = need
	}
	avail := b.Len()
	if avail >= need {
		return 0, b.View(), nil
	}
	if avail == 0 && len(input) >= need {
		take := len(input)
		if take > limit {
			take = limit
		}
		if err := b.store(input[:take]); err != nil {
			return 0, nil, err
		}
		return take, input[:take], nil
	}
	take := limit - avail
	if take < 0 {
		take = 0
	}
	if take > len(input) {
		take = len(input)
	}
	if err := b.ensure(avail + take); err != nil {
		return 0, nil, err
	}
	b.buf = append(b.buf, input[:take]...)
	if b.Len() >= need {
		return take, b.View(), nil
	}
	return take, nil, nil
}

// Append buffers data unconditionally, for callers that carve their own
// records out of a payload stream that is already delimited elsewhere
// (the CAF packetizer).
func (b *Buffer) Append(data []byte) error {
	if err := b.ensure(b.Len() + len(data)); err != nil {
		return err
	}
	b.buf = append(b.buf, data...)
	return nil
}

// Consume drops n bytes from the front after the caller has interpreted
// them. The dropped bytes are not overwritten, so views handed out before
// the call remain readable until the next Gather.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	b.start += n
	if b.start >= len(b.buf) {
		b.buf = b.buf[:0]
		b.start = 0
	}
}

// ShiftOne drops the first held byte, used by the frame-sync engine when a
// candidate header fails validation and scanning resumes one byte further
// in.
func (b *Buffer) ShiftOne() {
	b.Consume(1)
}

// store resets the buffer to exactly data (the zero-copy fast path keeps
// an internal copy so partial consumption survives the caller's input).
func (b *Buffer) store(data []byte) error {
	if err := b.ensureEmpty(len(data)); err != nil {
		return err
	}
	b.buf = append(b.buf[:0], data...)
	b.start = 0
	return nil
}

// ensure makes room for total live bytes, compacting the consumed prefix
// away first so growth is bounded by live data, not history.
func (b *Buffer) ensure(total int) error {
	if b.cap != 0 && total > b.cap {
		return fmt.Errorf("gather: requested %d bytes exceeds ceiling %d: %w", total, b.cap, ErrNoMemory)
	}
	if b.start > 0 && len(b.buf)+(total-b.Len()) > cap(b.buf) {
		n := copy(b.buf, b.buf[b.start:])
		b.buf = b.buf[:n]
		b.start = 0
	}
	need := b.start + total
	if cap(b.buf) >= need {
		return nil
	}
	grown := cap(b.buf) * 2
	if grown < need {
		grown = need
	}
	if b.cap != 0 && grown > b.cap {
		grown = b.cap
		if grown < need {
			grown = need
		}
	}
	nb := make([]byte, len(b.buf), grown)
	copy(nb, b.buf)
	b.buf = nb
	return nil
}

func (b *Buffer) ensureEmpty(n int) error {
	if b.cap != 0 && n > b.cap {
		return fmt.Errorf("gather: requested %d bytes exceeds ceiling %d: %w", n, b.cap, ErrNoMemory)
	}
	return nil
}
