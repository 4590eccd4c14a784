// Package ape implements a push-model reader for Monkey's Audio (.ape)
// files: the MAC descriptor and header, the block seek table, compressed
// blocks delivered on their 4-byte alignment, and trailing APEv2/ID3v1
// tags.
package ape

import (
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/apev2"
	"github.com/pchchv/avpack/tag/id3v1"
)

// descSize/hdrMinSize are the minimum on-disk descriptor and header lengths.
const (
	descSize   = 52
	hdrMinSize = 24
	hdrMin     = descSize + hdrMinSize
)

// Info is the decoded stream header.
type Info struct {
	Version         uint16
	BlockSamples    uint32
	LastFrameBlocks uint32
	TotalFrames     uint32
	Bits            uint16
	Channels        uint16
	SampleRate      uint32
	SeekPoints      int
}

// TotalSamples derives the stream length from the frame counts.
func (i Info) TotalSamples() uint64 {
	if i.TotalFrames == 0 {
		return 0
	}
	return uint64(i.TotalFrames-1)*uint64(i.BlockSamples) + uint64(i.LastFrameBlocks)
}

type rdState int

const (
	rsTailSeek rdState = iota
	rsTail
	rsApeBodySeek
	rsApeBody
	rsHdrSeek
	rsHdr
	rsSeekTab
	rsBlockNext
	rsBlock
	rsDone
	rsErr
)

// Reader is a push-model .ape reader.
type Reader struct {
	cfg avpack.Config
	gb  *gather.Buffer

	state    rdState
	off      int64
	hdrLen   int
	info     Info
	seektab  []uint32
	iblock   int
	align4   int
	blockLen int

	apeFooter   apev2.Footer
	tailEnd     int64
	pendingTags []tag.Record
	tagIdx      int

	seekReq    bool
	seekTarget uint64

	fin    bool
	closed bool
}

// NewReader returns an .ape reader. With a known total size and seeking
// allowed, the trailing tags are visited before the header is parsed, the
// way the block seek table expects the data region's bounds to be known.
func NewReader(cfg avpack.Config) *Reader {
	r := &Reader{cfg: cfg, gb: gather.New(0), tailEnd: cfg.TotalSize}
	if cfg.TotalSize == 0 || cfg.Flags&avpack.NoSeek != 0 {
		r.state = rsHdr
	}
	return r
}

// Seek records a deferred seek to sampleIndex.
func (r *Reader) Seek(sampleIndex uint64) {
	r.seekReq = true
	r.seekTarget = sampleIndex
}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() { r.fin = true }

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	r.seektab = nil
	return nil
}

// Info returns the decoded stream parameters (valid after StatusHeader).
func (r *Reader) Info() Info { return r.info }

func (r *Reader) fail(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.off}
	r.state = rsErr
	return avpack.StatusError
}

// parseHeader decodes the MAC descriptor plus header from view; returns
// the total header length, or 0 when more bytes are needed.
func (r *Reader) parseHeader(view []byte) (int, error) {
	if string(view[0:4]) != "MAC " {
		return 0, fmt.Errorf("ape: %w", avpack.ErrMagic)
	}
	ver := binary.LittleEndian.Uint16(view[4:6])
	if ver < 3980 {
		return 0, fmt.Errorf("ape: version %d: %w", ver, avpack.ErrUnsupported)
	}
	dsz := int(binary.LittleEndian.Uint32(view[8:12]))
	hsz := int(binary.LittleEndian.Uint32(view[12:16]))
	if dsz < descSize || hsz < hdrMinSize {
		return 0, fmt.Errorf("ape: descriptor sizes %d/%d: %w", dsz, hsz, avpack.ErrCorrupt)
	}
	if dsz+hsz > len(view) {
		return dsz + hsz, nil // caller gathers the rest
	}
	h := view[dsz:]
	r.info = Info{
		Version:         ver,
		SeekPoints:      int(binary.LittleEndian.Uint32(view[16:20])) / 4,
		BlockSamples:    binary.LittleEndian.Uint32(h[4:8]),
		LastFrameBlocks: binary.LittleEndian.Uint32(h[8:12]),
		TotalFrames:     binary.LittleEndian.Uint32(h[12:16]),
		Bits:            binary.LittleEndian.Uint16(h[16:18]),
		Channels:        binary.LittleEndian.Uint16(h[18:20]),
		SampleRate:      binary.LittleEndian.Uint32(h[20:24]),
	}
	r.hdrLen = dsz + hsz
	return 0, nil
}

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed || r.state == rsErr {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	need := hdrMin
	for {
		if r.tagIdx < len(r.pendingTags) {
			out.Tag = r.pendingTags[r.tagIdx]
			r.tagIdx++
			return total, avpack.StatusMeta
		}

		switch r.state {
		case rsTailSeek:
			n := int64(apev2.FooterSize + 128)
			if n > r.cfg.TotalSize {
				n = r.cfg.TotalSize
			}
			r.gb.Reset()
			r.off = r.cfg.TotalSize - n
			r.state = rsTail
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsTail:
			want := int(r.cfg.TotalSize - r.off)
			n, view, err := r.gb.Gather(in[total:], want)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			if len(view) >= 128 {
				if recs, ok := id3v1.Decode(view[len(view)-128:], r.cfg.CodePage); ok {
					r.queueTags(recs)
					r.tailEnd = r.cfg.TotalSize - 128
				}
			}
			ftrOff := int(int64(len(view)) - (r.cfg.TotalSize - r.tailEnd) - apev2.FooterSize)
			if ftrOff >= 0 {
				if f, ferr := apev2.ParseFooter(view[ftrOff : ftrOff+apev2.FooterSize]); ferr == nil {
					r.apeFooter = f
					r.gb.Reset()
					r.state = rsApeBodySeek
					continue
				}
			}
			r.gb.Reset()
			r.state = rsHdrSeek
			continue

		case rsApeBodySeek:
			start := r.tailEnd - int64(r.apeFooter.TagSize)
			if start < 0 {
				r.state = rsHdrSeek
				continue
			}
			r.off = start
			r.state = rsApeBody
			out.SeekOffset = r.off
			return total, avpack.StatusSeek

		case rsApeBody:
			want := int(r.apeFooter.TagSize) - apev2.FooterSize
			n, view, err := r.gb.Gather(in[total:], want)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				return total, avpack.StatusMore
			}
			if recs, derr := apev2.Decode(view[:want], r.apeFooter.ItemCount); derr == nil {
				r.queueTags(recs)
			}
			r.tailEnd -= r.apeFooter.TotalSize()
			r.gb.Reset()
			r.state = rsHdrSeek
			continue

		case rsHdrSeek:
			r.off = 0
			r.state = rsHdr
			out.SeekOffset = 0
			return total, avpack.StatusSeek

		case rsHdr:
			n, view, err := r.gb.Gather(in[total:], need)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.fin {
					return total, r.fail(out, fmt.Errorf("ape: header: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			more, herr := r.parseHeader(view)
			if herr != nil {
				return total, r.fail(out, herr)
			}
			if more > 0 {
				need = more
				continue
			}
			r.gb.Consume(r.hdrLen)
			r.off += int64(r.hdrLen)
			r.state = rsSeekTab
			out.Header = avpack.HeaderInfo{
				Codec:        "ape",
				SampleRate:   r.info.SampleRate,
				Channels:     uint8(r.info.Channels),
				Bits:         uint8(r.info.Bits),
				TotalSamples: r.info.TotalSamples(),
			}
			return total, avpack.StatusHeader

		case rsSeekTab:
			want := r.info.SeekPoints * 4
			n, view, err := r.gb.Gather(in[total:], want)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.fin {
					return total, r.fail(out, fmt.Errorf("ape: seek table: %w", avpack.ErrTruncated))
				}
				return total, avpack.StatusMore
			}
			if err := r.parseSeekTab(view[:want]); err != nil {
				return total, r.fail(out, err)
			}
			r.gb.Consume(want)
			r.off += int64(want)
			r.state = rsBlockNext
			continue

		case rsBlockNext:
			if r.seekReq {
				r.seekReq = false
				if r.info.BlockSamples == 0 {
					return total, r.fail(out, fmt.Errorf("ape: %w", avpack.ErrNoSeek))
				}
				ib := int(r.seekTarget / uint64(r.info.BlockSamples))
				if ib >= len(r.seektab)-1 {
					return total, r.fail(out, fmt.Errorf("ape: %w: sample beyond the stream", avpack.ErrNoSeek))
				}
				r.iblock = ib
				off1, _ := r.blockBounds()
				r.gb.Reset()
				r.off = off1
				r.state = rsBlock
				out.SeekOffset = r.off
				return total, avpack.StatusSeek
			}
			if r.iblock >= len(r.seektab)-1 {
				r.state = rsDone
				continue
			}
			if off1, _ := r.blockBounds(); r.off != off1 {
				// A wav-header blob may sit between the seek table and the
				// first block.
				if r.cfg.TotalSize != 0 && r.cfg.Flags&avpack.NoSeek == 0 {
					r.gb.Reset()
					r.off = off1
					r.state = rsBlock
					out.SeekOffset = off1
					return total, avpack.StatusSeek
				}
				skip := off1 - r.off - int64(r.gb.Len())
				if skip > 0 {
					take := int64(len(in) - total)
					if take > skip {
						take = skip
					}
					total += int(take)
					r.off += take
					if take == 0 {
						return total, avpack.StatusMore
					}
					continue
				}
			}
			r.state = rsBlock
			continue

		case rsBlock:
			off1, off2 := r.blockBounds()
			r.blockLen = int(off2 - off1)
			n, view, err := r.gb.Gather(in[total:], r.blockLen)
			total += n
			if err != nil {
				return total, r.fail(out, err)
			}
			if view == nil {
				if r.fin {
					// The last block may fall short of its padded bound.
					rest := r.gb.View()
					if len(rest) == 0 {
						return total, avpack.StatusFin
					}
					return total, r.emitBlock(out, rest)
				}
				return total, avpack.StatusMore
			}
			return total, r.emitBlock(out, view[:r.blockLen])

		case rsDone:
			return total, avpack.StatusFin
		}
	}
}

// blockBounds returns the 4-byte-aligned byte range of the current block.
func (r *Reader) blockBounds() (off1, off2 int64) {
	first := int64(r.seektab[0])
	off1 = int64(r.seektab[r.iblock])
	r.align4 = int((off1 - first) % 4)
	off1 -= int64(r.align4)
	off2 = int64(r.seektab[r.iblock+1])
	if r.iblock+1 != len(r.seektab)-1 {
		if a := (off2 - first) % 4; a != 0 {
			off2 += 4 - a
		}
	}
	return off1, off2
}

// emitBlock delivers one compressed block (alignment bytes included).
func (r *Reader) emitBlock(out *avpack.Result, view []byte) avpack.Status {
	pos := uint64(r.iblock) * uint64(r.info.BlockSamples)
	samples := r.info.BlockSamples
	if r.iblock == len(r.seektab)-2 {
		samples = r.info.LastFrameBlocks
	}
	out.Frame = avpack.Frame{
		Bytes:    view,
		Pos:      pos,
		EndPos:   pos + uint64(samples),
		Duration: uint64(samples),
	}
	r.gb.Consume(len(view))
	r.off += int64(len(view))
	r.iblock++
	r.state = rsBlockNext
	return avpack.StatusData
}

// parseSeekTab validates the strictly growing block offsets and appends
// the data region's end as a final bound.
func (r *Reader) parseSeekTab(data []byte) error {
	end := r.tailEnd
	if end == 0 {
		end = 1<<62 - 1
	}
	n := len(data) / 4
	tab := make([]uint32, 0, n+1)
	var prev uint32
	for i := 0; i < n; i++ {
		off := binary.LittleEndian.Uint32(data[i*4:])
		if off <= prev {
			break
		}
		tab = append(tab, off)
		prev = off
	}
	if len(tab) == 0 || int64(prev) >= end {
		return fmt.Errorf("ape: %w: bad block table", avpack.ErrCorrupt)
	}
	tab = append(tab, uint32(end))
	r.seektab = tab
	return nil
}

func (r *Reader) queueTags(recs []tag.Record) {
	if len(recs) == 0 {
		return
	}
	r.pendingTags = append(r.pendingTags, recs...)
}
