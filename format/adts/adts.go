// Package adts implements a push-model reader for raw AAC streams framed
// by ADTS headers, built on the shared two-header frame-sync engine.
package adts

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/framesync"
	"github.com/pchchv/avpack/internal/bits"
	"github.com/pchchv/avpack/internal/gather"
)

// headerSize is the ADTS fixed header without the optional CRC.
const headerSize = 7

// frameSamples is the number of audio samples one AAC raw data block
// decodes to.
const frameSamples = 1024

var sampleRates = [13]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// header is one parsed ADTS frame header.
type header struct {
	AOT        int
	RateIndex  int
	SampleRate uint32
	ChanConf   int
	FrameLen   int
	HaveCRC    bool
}

// parseHeader decodes the 7 fixed header bytes, validating the reserved
// fields up front (layer must be zero; sampling-frequency index and
// channel configuration must be in range).
func parseHeader(d []byte) (header, error) {
	br := bits.NewReader(bytes.NewReader(d))
	read := func(n uint) int {
		v, _ := br.Read(n)
		return int(v)
	}
	bit := func() int {
		v, _ := br.ReadBit()
		return int(v)
	}
	if read(12) != 0x0FFF {
		return header{}, framesync.ErrLostSync
	}
	bit() // MPEG id
	if read(2) != 0 {
		return header{}, framesync.ErrLostSync // layer must be 0
	}
	var h header
	h.HaveCRC = bit() == 0
	h.AOT = read(2) + 1
	h.RateIndex = read(4)
	if h.RateIndex >= len(sampleRates) {
		return header{}, framesync.ErrLostSync
	}
	h.SampleRate = sampleRates[h.RateIndex]
	bit() // private bit
	h.ChanConf = read(3)
	if h.ChanConf == 0 {
		return header{}, framesync.ErrLostSync
	}
	read(4) // original, home, copyright id/start
	h.FrameLen = read(13)
	hdrLen := headerSize
	if h.HaveCRC {
		hdrLen += 2
	}
	if h.FrameLen < hdrLen {
		return header{}, framesync.ErrLostSync
	}
	return h, nil
}

// channels maps the channel configuration onto a channel count.
func (h header) channels() uint8 {
	if h.ChanConf == 7 {
		return 8
	}
	return uint8(h.ChanConf)
}

// headerLen is the header length including the optional CRC.
func (h header) headerLen() int {
	if h.HaveCRC {
		return headerSize + 2
	}
	return headerSize
}

// invariant masks the bits that never change between frames of one
// stream: everything through the channel configuration except the
// protection-absent and private bits.
func invariant(d []byte) uint32 {
	return binary.BigEndian.Uint32(d) & 0xFFFEFDC0
}

// format adapts ADTS to the shared frame-sync engine.
type format struct{}

func (format) SyncByte() byte  { return 0xFF }
func (format) HeaderSize() int { return headerSize }

func (format) ParseHeader(data []byte) (framesync.Header, error) {
	h, err := parseHeader(data)
	if err != nil {
		return framesync.Header{}, err
	}
	return framesync.Header{
		FrameSize:     h.FrameLen,
		InvariantMask: invariant(data),
		Raw:           data[:headerSize],
	}, nil
}

// Reader is a push-model ADTS/AAC reader.
type Reader struct {
	cfg  avpack.Config
	gb   *gather.Buffer
	sync *framesync.Scanner

	info      header
	haveInfo  bool
	cursample uint64
	asc       [2]byte

	fin    bool
	closed bool
}

// NewReader returns an ADTS reader ready to accept bytes anywhere within
// an AAC stream (it synchronizes on the first two consecutive frames).
func NewReader(cfg avpack.Config) *Reader {
	gb := gather.New(0)
	return &Reader{cfg: cfg, gb: gb, sync: framesync.New(format{}, gb)}
}

// Seek is unsupported: raw ADTS has no time-to-offset index.
func (r *Reader) Seek(sampleIndex uint64) {}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() { r.fin = true }

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.gb = nil
	r.sync = nil
	return nil
}

// FrameSamples reports the per-frame sample count.
func (r *Reader) FrameSamples() uint32 { return frameSamples }

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		n, res, hdr, err := r.sync.Step(in[total:])
		total += n
		if err != nil {
			out.Error = avpack.ErrorInfo{Err: err}
			return total, avpack.StatusError
		}
		switch res {
		case framesync.ResultMore:
			if r.fin {
				return total, avpack.StatusFin
			}
			return total, avpack.StatusMore
		case framesync.ResultWarning:
			out.Error = avpack.ErrorInfo{Err: fmt.Errorf("adts: lost frame sync: %w", avpack.ErrCorrupt)}
			return total, avpack.StatusWarning
		}

		n2, view, gerr := r.gb.Gather(in[total:], hdr.FrameSize)
		total += n2
		if gerr != nil {
			out.Error = avpack.ErrorInfo{Err: gerr}
			return total, avpack.StatusError
		}
		if view == nil {
			if r.fin {
				return total, avpack.StatusFin
			}
			return total, avpack.StatusMore
		}

		h, herr := parseHeader(view[:headerSize])
		if herr != nil {
			// Cannot happen for a header the scanner just validated.
			out.Error = avpack.ErrorInfo{Err: herr}
			return total, avpack.StatusError
		}

		if !r.haveInfo {
			r.haveInfo = true
			r.info = h
			r.asc = ascFrom(h)
			out.Header = avpack.HeaderInfo{
				Codec:      "aac",
				SampleRate: h.SampleRate,
				Channels:   h.channels(),
				CodecConf:  r.asc[:],
			}
			return total, avpack.StatusHeader
		}

		frame := view[:hdr.FrameSize]
		if r.cfg.Flags&avpack.AACWholeFrames == 0 {
			frame = frame[h.headerLen():]
		}
		pos := r.cursample
		r.cursample += frameSamples
		out.Frame = avpack.Frame{
			Bytes:    frame,
			Pos:      pos,
			EndPos:   r.cursample,
			Duration: frameSamples,
		}
		r.gb.Consume(hdr.FrameSize)
		return total, avpack.StatusData
	}
}

// ascFrom builds the two-byte AudioSpecificConfig matching the stream.
func ascFrom(h header) [2]byte {
	b0 := byte(h.AOT)<<3 | byte(h.RateIndex)>>1
	b1 := byte(h.RateIndex)<<7 | byte(h.ChanConf)<<3
	return [2]byte{b0, b1}
}
