// Package container implements the hierarchical box/chunk traversal engine
// shared by the MP4, AVI, CAF, WAV, and Matroska readers. A format package
// supplies a declarative Descriptor table describing the chunks it expects
// at each nesting level plus a header-parsing hook for its on-disk header
// layout; Engine drives the gather discipline, enforces the
// size/uniqueness/ordering invariants, skips unknown chunks, and hands
// payloads back as a stream of events.
package container

import (
	"fmt"

	"github.com/pchchv/avpack/internal/gather"
)

// Flags describe how a chunk id is handled once found in its parent's
// children table.
type Flags uint16

const (
	// Required means the chunk must appear before the parent closes.
	Required Flags = 1 << iota
	// Unique means the chunk must not appear twice under the same parent;
	// a duplicate is reported as a warning and skipped.
	Unique
	// IsContainer means the chunk has its own children table.
	IsContainer
	// GatherWhole means the chunk's entire payload is gathered into one
	// view before EvChunk is delivered.
	GatherWhole
	// Stream means the payload is delivered incrementally via EvData
	// events instead of being gathered.
	Stream
)

// Descriptor is a compile-time table entry describing one expected chunk.
type Descriptor struct {
	ID   uint32 // four-byte id packed big-endian, or an EBML element id
	Name string // for log messages and error text
	Flags Flags
	// MinSize, when set on a non-GatherWhole chunk, is the number of
	// leading payload bytes gathered before EvChunk fires; the remainder
	// is then descended into (IsContainer), streamed (Stream), or skipped.
	// On a GatherWhole chunk it is the smallest payload size accepted.
	MinSize  int64
	Priority int // ordering priority; 0 means unordered
	// Tag is an opaque format-defined semantic tag, typically binding the
	// chunk to a payload handler or a normalized tag identifier.
	Tag      int
	Children []Descriptor
}

// Node is a stack entry describing one chunk currently open on the path
// from the root to the chunk being parsed.
type Node struct {
	Desc      *Descriptor // nil for unknown (skipped) chunks
	ID        uint32
	Size      int64 // declared payload size; sizeUnbounded when it extends to EOF
	Remaining int64
	Offset    int64 // absolute offset of the payload's first byte
	seen      map[uint32]bool
	maxPrio   int
	pad       bool
}

const sizeUnbounded = int64(1)<<62 - 1

// SizeToEOF is the Node.Size value of a chunk that extends to the end of a
// stream whose total size is unknown.
const SizeToEOF = sizeUnbounded

// Header is one parsed chunk header.
type Header struct {
	ID uint32
	// Size is the payload size excluding the header; -1 means the chunk
	// extends to the end of the stream.
	Size int64
	// Ext, when positive, asks the engine to gather Ext more header bytes
	// and call ParseHeader again (MP4 largesize, EBML variable-length
	// ids and sizes).
	Ext int
}

// Config parameterizes an Engine for one format's header layout.
type Config struct {
	// HeaderLen is the initial number of header bytes gathered before
	// ParseHeader runs (8 for RIFF/MP4, 12 for CAF, 2 for EBML).
	HeaderLen int
	// ParseHeader decodes a chunk header from exactly the gathered bytes.
	ParseHeader func(hdr []byte) (Header, error)
	// Pad, for RIFF formats, consumes one padding byte after every
	// odd-sized chunk.
	Pad bool
	// Ceiling bounds the gather buffer; 0 means unbounded.
	Ceiling int
	// TotalSize is the stream's byte length, 0 if unknown.
	TotalSize int64
	// Seekable lets the engine skip large unknown chunks by requesting a
	// seek instead of consuming their bytes.
	Seekable bool
	// StrictRoot makes an unknown chunk directly under the root a magic
	// error instead of a silent skip (RIFF formats: the first chunk must
	// be RIFF).
	StrictRoot bool
	// StartOffset is the absolute stream offset of the first chunk, for
	// formats with a fixed file header before the chunk sequence (CAF).
	StartOffset int64
}

// skipSeekMin is the smallest skip worth a seek request; anything shorter
// is cheaper to read through.
const skipSeekMin = 16 * 1024

// Event is what one Engine.Process step produced.
type Event int

const (
	// EvMore means all input was consumed and more is needed.
	EvMore Event = iota
	// EvChunk means a declared chunk's header (and its gathered payload
	// prefix, per flags) is ready: Node and View describe it.
	EvChunk
	// EvData delivers one slice of a Stream chunk's payload.
	EvData
	// EvPop means a declared chunk has been fully traversed.
	EvPop
	// EvSeek asks the caller to reposition the stream at SeekOffset.
	EvSeek
	// EvWarning reports a recoverable violation (duplicate singleton);
	// traversal continues.
	EvWarning
	// EvErr reports a fatal structural error.
	EvErr
	// EvFin means the root context is complete.
	EvFin
)

type engState int

const (
	esNext engState = iota
	esHeader
	esWhole
	esSkip
	esPad
	esStream
	esDone
	esErr
)

// Engine traverses one chunk hierarchy.
type Engine struct {
	cfg   Config
	gb    *gather.Buffer
	stack []*Node

	state   engState
	need    int
	pending int // bytes to consume before the next step (view stability)

	off     int64 // absolute offset of the gather buffer's front
	view    []byte
	seekOff int64
	err     error
	popped  *Node
	fin     bool
}

// New returns an Engine rooted at a synthetic node holding children as its
// table.
func New(cfg Config, children []Descriptor) *Engine {
	root := &Node{
		Desc:      &Descriptor{Name: "root", Flags: IsContainer, Children: children},
		Size:      sizeUnbounded,
		Remaining: sizeUnbounded,
		seen:      map[uint32]bool{},
	}
	return &Engine{
		cfg:   cfg,
		gb:    gather.New(cfg.Ceiling),
		stack: []*Node{root},
		state: esNext,
		off:   cfg.StartOffset,
	}
}

// Node returns the chunk the last EvChunk/EvData/EvPop event refers to.
func (e *Engine) Node() *Node {
	if e.popped != nil {
		return e.popped
	}
	return e.top()
}

// View returns the payload bytes of the last EvChunk or EvData event. The
// slice is valid only until the next Process call.
func (e *Engine) View() []byte { return e.view }

// SeekOffset returns the target of the last EvSeek event.
func (e *Engine) SeekOffset() int64 { return e.seekOff }

// Offset returns the absolute stream offset of the next unparsed byte.
func (e *Engine) Offset() int64 { return e.off + int64(e.gb.Len()) }

// Err returns the error behind the last EvErr or EvWarning event.
func (e *Engine) Err() error { return e.err }

// Finish tells the engine no bytes beyond those already fed will arrive.
func (e *Engine) Finish() { e.fin = true }

// SkipRest abandons the current chunk after an EvChunk event: its
// remaining payload is skipped instead of descended into or streamed.
func (e *Engine) SkipRest() {
	if e.state == esNext || e.state == esStream {
		e.state = esSkip
	}
}

// JumpWithin repositions the engine inside the current Stream chunk, as
// after a caller-serviced seek: the gather buffer is dropped and the
// chunk's remaining size is adjusted by the distance jumped.
func (e *Engine) JumpWithin(off int64) {
	if e.pending > 0 {
		e.consume(e.pending)
		e.pending = 0
	}
	node := e.top()
	delta := off - e.Offset()
	e.gb.Reset()
	e.off = off
	if node.Remaining != sizeUnbounded {
		node.Remaining -= delta
	}
}

// InStream reports whether the engine is currently delivering a Stream
// chunk's payload, and if so which chunk.
func (e *Engine) InStream() (*Node, bool) {
	if e.state != esStream {
		return nil, false
	}
	return e.top(), true
}

// Depth reports the current nesting depth (0 at root level).
func (e *Engine) Depth() int { return len(e.stack) - 1 }

func (e *Engine) top() *Node { return e.stack[len(e.stack)-1] }

func (e *Engine) consume(n int) {
	e.gb.Consume(n)
	e.off += int64(n)
}

// atEOF reports true end of stream: Finish was called and, when the total
// size is known, the offset has reached it.
func (e *Engine) atEOF() bool {
	if !e.fin {
		return false
	}
	return e.cfg.TotalSize == 0 || e.Offset() >= e.cfg.TotalSize
}

// Process advances the traversal over in, returning how many input bytes
// were consumed and what happened. The caller loops until EvMore, feeding
// the unconsumed remainder on the next call.
func (e *Engine) Process(in []byte) (consumed int, ev Event) {
	if e.pending > 0 {
		e.consume(e.pending)
		e.pending = 0
	}
	e.popped = nil
	e.view = nil
	total := 0
	for {
		switch e.state {
		case esNext:
			node := e.top()
			if node.Remaining > 0 {
				e.need = e.cfg.HeaderLen
				e.state = esHeader
				continue
			}
			if node.pad {
				node.pad = false
				e.state = esPad
				continue
			}
			if len(e.stack) == 1 {
				if e.atEOF() && e.gb.Len() == 0 {
					e.state = esDone
					continue
				}
				// The synthetic root never runs out by size; wait for
				// EOF or more chunks.
				e.need = e.cfg.HeaderLen
				e.state = esHeader
				continue
			}
			e.stack = e.stack[:len(e.stack)-1]
			if node.Desc != nil {
				if miss := MissingRequired(node); miss != "" {
					return total, e.fail(fmt.Errorf("%w: %q closed without required child %q", errInvariant, node.Desc.Name, miss))
				}
				e.popped = node
				return total, EvPop
			}
			continue

		case esHeader:
			n, view, err := e.gb.Gather(in[total:], e.need)
			total += n
			if err != nil {
				return total, e.fail(err)
			}
			if view == nil {
				if e.atEOF() {
					if e.gb.Len() == 0 && len(e.stack) == 1 {
						e.state = esDone
						continue
					}
					return total, e.fail(fmt.Errorf("chunk header: %w", errTruncated))
				}
				return total, EvMore
			}
			hdr, err := e.cfg.ParseHeader(view[:e.need])
			if err != nil {
				return total, e.fail(err)
			}
			if hdr.Ext > 0 {
				e.need += hdr.Ext
				continue
			}
			hlen := e.need
			e.consume(hlen)

			parent := e.top()
			sz := hdr.Size
			if sz < 0 {
				// Extends to the end of the stream; the parent gets
				// nothing after it.
				if e.cfg.TotalSize > 0 {
					sz = e.cfg.TotalSize - e.off
					if sz < 0 {
						sz = 0
					}
				} else {
					sz = sizeUnbounded
				}
				parent.Remaining = 0
			} else {
				if parent.Size != sizeUnbounded && sz+int64(hlen) > parent.Remaining {
					return total, e.fail(fmt.Errorf("%w: chunk size %d exceeds parent's remaining %d", errTruncated, sz, parent.Remaining-int64(hlen)))
				}
				if parent.Remaining != sizeUnbounded {
					parent.Remaining -= int64(hlen) + sz
				}
			}

			d := find(parent, hdr.ID)
			node := &Node{Desc: d, ID: hdr.ID, Size: sz, Remaining: sz, Offset: e.off}
			if e.cfg.Pad && hdr.Size >= 0 && sz%2 == 1 {
				node.pad = true
			}
			e.stack = append(e.stack, node)

			if d == nil {
				if e.cfg.StrictRoot && len(e.stack) == 2 {
					return total, e.fail(fmt.Errorf("%w: unrecognized top-level chunk %08x", errMagic, hdr.ID))
				}
				e.state = esSkip
				continue
			}
			if err := e.checkEnter(parent, d, node); err != nil {
				if err == errWarnDuplicate {
					e.err = fmt.Errorf("%w: %q", errWarnDuplicate, d.Name)
					e.state = esSkip
					return total, EvWarning
				}
				return total, e.fail(err)
			}

			switch {
			case d.Flags&GatherWhole != 0:
				if sz == sizeUnbounded {
					return total, e.fail(fmt.Errorf("%w: unbounded chunk %q cannot be gathered whole", errTruncated, d.Name))
				}
				e.need = int(sz)
				e.state = esWhole
			case d.MinSize > 0:
				e.need = int(d.MinSize)
				e.state = esWhole
			case d.Flags&Stream != 0:
				e.state = esStream
				return total, EvChunk
			case d.Flags&IsContainer != 0:
				e.state = esNext
				return total, EvChunk
			default:
				// Declared but neither gathered, streamed, nor descended:
				// the format only wants to know it exists.
				e.state = esSkip
				return total, EvChunk
			}
			continue

		case esWhole:
			node := e.top()
			n, view, err := e.gb.Gather(in[total:], e.need)
			total += n
			if err != nil {
				return total, e.fail(err)
			}
			if view == nil {
				if e.atEOF() {
					return total, e.fail(fmt.Errorf("chunk %q payload: %w", node.Desc.Name, errTruncated))
				}
				return total, EvMore
			}
			e.pending = e.need
			node.Remaining -= int64(e.need)
			e.view = view[:e.need]
			switch {
			case node.Desc.Flags&IsContainer != 0:
				e.state = esNext
			case node.Desc.Flags&Stream != 0:
				e.state = esStream
			default:
				e.state = esSkip
			}
			return total, EvChunk

		case esSkip:
			node := e.top()
			if node.Remaining == 0 {
				e.state = esNext
				continue
			}
			if avail := int64(e.gb.Len()); avail > 0 {
				take := avail
				if take > node.Remaining {
					take = node.Remaining
				}
				e.consume(int(take))
				node.Remaining -= take
				continue
			}
			if e.cfg.Seekable && node.Remaining >= skipSeekMin && node.Remaining != sizeUnbounded {
				e.seekOff = e.off + node.Remaining
				e.off = e.seekOff
				node.Remaining = 0
				e.gb.Reset()
				e.state = esNext
				return total, EvSeek
			}
			take := int64(len(in) - total)
			if take > node.Remaining {
				take = node.Remaining
			}
			if take == 0 {
				if node.Remaining == sizeUnbounded && e.atEOF() {
					node.Remaining = 0
					continue
				}
				if e.atEOF() {
					return total, e.fail(fmt.Errorf("skipping chunk: %w", errTruncated))
				}
				return total, EvMore
			}
			total += int(take)
			e.off += take
			node.Remaining -= take
			continue

		case esPad:
			n, view, err := e.gb.Gather(in[total:], 1)
			total += n
			if err != nil {
				return total, e.fail(err)
			}
			if view == nil {
				if e.atEOF() {
					e.state = esNext
					continue
				}
				return total, EvMore
			}
			if view[0] == 0 {
				e.consume(1)
				if parent := e.stack[len(e.stack)-2]; parent.Remaining != sizeUnbounded && parent.Remaining > 0 {
					parent.Remaining--
				}
			}
			e.state = esNext
			continue

		case esStream:
			node := e.top()
			if node.Remaining == 0 {
				e.state = esNext
				continue
			}
			if avail := int64(e.gb.Len()); avail > 0 {
				take := avail
				if take > node.Remaining {
					take = node.Remaining
				}
				e.view = e.gb.View()[:take]
				e.pending = int(take)
				node.Remaining -= take
				return total, EvData
			}
			take := int64(len(in) - total)
			if take > node.Remaining {
				take = node.Remaining
			}
			if take == 0 {
				if e.atEOF() {
					if node.Remaining == sizeUnbounded {
						node.Remaining = 0
						continue
					}
					return total, e.fail(fmt.Errorf("chunk %q data: %w", node.Desc.Name, errTruncated))
				}
				return total, EvMore
			}
			e.view = in[total : total+int(take)]
			total += int(take)
			e.off += take
			node.Remaining -= take
			return total, EvData

		case esDone:
			return total, EvFin

		case esErr:
			return total, EvErr
		}
	}
}

func (e *Engine) fail(err error) Event {
	e.err = err
	e.state = esErr
	return EvErr
}

// checkEnter validates uniqueness and ordering on descent and records the
// child as seen on its parent.
func (e *Engine) checkEnter(parent *Node, d *Descriptor, node *Node) error {
	if parent.seen == nil {
		parent.seen = map[uint32]bool{}
	}
	if d.Flags&Unique != 0 && parent.seen[d.ID] {
		return errWarnDuplicate
	}
	if d.Priority != 0 && d.Priority < parent.maxPrio {
		return fmt.Errorf("%w: chunk %q appears out of order", errInvariant, d.Name)
	}
	parent.seen[d.ID] = true
	if d.Priority > parent.maxPrio {
		parent.maxPrio = d.Priority
	}
	if d.MinSize > 0 && node.Size != sizeUnbounded && node.Size < d.MinSize {
		return fmt.Errorf("%w: chunk %q of %d bytes is too small", errInvariant, d.Name, node.Size)
	}
	return nil
}

// find looks up id in a node's children table. Returns nil if not declared.
func find(n *Node, id uint32) *Descriptor {
	if n.Desc == nil {
		return nil
	}
	for i := range n.Desc.Children {
		if n.Desc.Children[i].ID == id {
			return &n.Desc.Children[i]
		}
	}
	return nil
}

// MissingRequired reports the first required child of node not yet seen,
// or "" if none is missing; checked when node is popped.
func MissingRequired(node *Node) string {
	if node.Desc == nil {
		return ""
	}
	for i := range node.Desc.Children {
		c := &node.Desc.Children[i]
		if c.Flags&Required != 0 && !node.seen[c.ID] {
			return c.Name
		}
	}
	return ""
}

// FourCC packs a four-character chunk id the way descriptor tables store it.
func FourCC(s string) uint32 {
	return uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])
}
