package flac

import (
	"bytes"
	"encoding/binary"

	"github.com/pchchv/avpack/internal/bits"
	"github.com/pchchv/avpack/internal/hashutil/crc8"
	"github.com/pchchv/avpack/internal/utf8"
)

var crc8Table = crc8.MakeTable(crc8.FLAC)

// maxFrameHeaderLen bounds a frame header: 4-byte base, up to 7 bytes for
// the UTF-8 coded frame/sample number, up to 2 more for an explicit
// block-size or sample-rate field, and 1 CRC-8 byte.
const maxFrameHeaderLen = 4 + utf8.MaxLen + 2 + 1

// frameHeader is one parsed, validated FLAC frame header.
type frameHeader struct {
	Num              uint64 // frame number, meaningful only if !VariableBlocking
	Pos              uint64 // absolute sample position
	VariableBlocking bool
	Samples          uint32
	Rate             uint32
	Channels         uint8
	Bits             uint8

	// identity is the subset of header bits that must stay constant across
	// every frame of a stream: sync, reserved bits, blocking strategy, and
	// the sample rate code.
	identity uint32
}

var rateTable = [12]uint32{0, 88200, 176400, 192000, 8000, 16000, 22050, 24000, 32000, 44100, 48000, 96000}
var bpsTable = [7]uint8{0, 8, 12, 0, 16, 20, 24}

// parseFrameHeader validates and decodes a candidate frame header at the
// front of d. ok is false if d is too short to decide or the header fails
// validation (bad sync, reserved field, or CRC mismatch); hdrLen is the
// total header length (including the trailing CRC-8 byte) when ok.
func parseFrameHeader(d []byte, streamInfo StreamInfo) (fh frameHeader, hdrLen int, ok bool) {
	if len(d) < 6 {
		return frameHeader{}, 0, false
	}
	// 14-bit sync, 1 reserved bit, blocking strategy, then the four
	// size/rate/channel/bps codes and a final reserved bit.
	br := bits.NewReader(bytes.NewReader(d[:4]))
	read := func(n uint) uint32 {
		v, _ := br.Read(n)
		return uint32(v)
	}
	bit := func() uint32 {
		v, _ := br.ReadBit()
		return uint32(v)
	}
	if read(14) != 0x3FFE || bit() != 0 {
		return frameHeader{}, 0, false
	}
	fh.VariableBlocking = bit() == 1
	sizeCode := read(4)
	rateCode := read(4)
	ch := read(4)
	bps := read(3)
	if bit() != 0 {
		return frameHeader{}, 0, false // reserved
	}
	fh.identity = binary.BigEndian.Uint32(d[0:4]) & 0xffff0f0f

	i := 4
	num, n, err := utf8.Decode(d[i:])
	if err != nil {
		return frameHeader{}, 0, false
	}
	i += n
	if fh.VariableBlocking {
		fh.Pos = num
		fh.Num = ^uint64(0)
	} else {
		fh.Num = num
	}

	samples, n2, ok2 := decodeBlockSize(sizeCode, d[i:])
	if !ok2 {
		return frameHeader{}, 0, false
	}
	fh.Samples = samples
	i += n2

	rate, n3, ok3 := decodeSampleRate(rateCode, d[i:], streamInfo.SampleRate)
	if !ok3 {
		return frameHeader{}, 0, false
	}
	fh.Rate = rate
	i += n3

	switch {
	case ch >= 0x0b:
		return frameHeader{}, 0, false // reserved
	case ch&0x08 != 0:
		fh.Channels = 2 // stereo decorrelation modes
	default:
		fh.Channels = uint8(ch) + 1
	}

	if bps&3 == 3 {
		return frameHeader{}, 0, false // reserved
	}
	fh.Bits = bpsTable[bps]
	if fh.Bits == 0 {
		fh.Bits = streamInfo.Bits
	}

	if i >= len(d) {
		return frameHeader{}, 0, false
	}
	if d[i] != crc8.Checksum(d[:i], crc8Table) {
		return frameHeader{}, 0, false
	}
	i++

	if !fh.VariableBlocking {
		fh.Pos = fh.Num * uint64(streamInfo.MinBlock)
	}
	return fh, i, true
}

// decodeBlockSize decodes the 4-bit block-size code into a sample count,
// consuming an extra 1 or 2 bytes from d for the explicit-size variants.
func decodeBlockSize(code uint32, d []byte) (samples uint32, n int, ok bool) {
	switch code {
	case 0:
		return 0, 0, false // reserved
	case 1:
		return 192, 0, true
	case 6:
		if len(d) < 1 {
			return 0, 0, false
		}
		return uint32(d[0]) + 1, 1, true
	case 7:
		if len(d) < 2 {
			return 0, 0, false
		}
		return uint32(binary.BigEndian.Uint16(d)) + 1, 2, true
	default:
		if code&0x08 != 0 {
			return 256 << (code &^ 0x08), 0, true
		}
		return 576 << (code - 2), 0, true
	}
}

// decodeSampleRate decodes the 4-bit sample-rate code, consuming an extra 1
// or 2 bytes from d for the explicit-rate variants.
func decodeSampleRate(code uint32, d []byte, streamRate uint32) (rate uint32, n int, ok bool) {
	switch code {
	case 0:
		return streamRate, 0, true
	case 0x0c:
		if len(d) < 1 {
			return 0, 0, false
		}
		return uint32(d[0]) * 1000, 1, true
	case 0x0d:
		if len(d) < 2 {
			return 0, 0, false
		}
		return uint32(binary.BigEndian.Uint16(d)), 2, true
	case 0x0e:
		if len(d) < 2 {
			return 0, 0, false
		}
		return uint32(binary.BigEndian.Uint16(d)) * 10, 2, true
	case 0x0f:
		return 0, 0, false
	default:
		return rateTable[code], 0, true
	}
}

// findFrame scans window for the first syntactically valid frame header, at
// or after offset start. found reports whether one was located; needMore
// reports that the scan ran off the end of window without enough trailing
// bytes left to validate a candidate, so the caller should gather more
// input and retry rather than treat this as a definitive miss.
func findFrame(window []byte, start int, streamInfo StreamInfo) (pos int, fh frameHeader, hdrLen int, found bool, needMore bool) {
	for i := start; i < len(window); i++ {
		if window[i] != 0xFF {
			continue
		}
		if len(window)-i < maxFrameHeaderLen {
			if h, n, ok := parseFrameHeader(window[i:], streamInfo); ok {
				return i, h, n, true, false
			}
			return 0, frameHeader{}, 0, false, true
		}
		if window[i+1]&0xFE != 0xF8 {
			continue
		}
		h, n, ok := parseFrameHeader(window[i:], streamInfo)
		if !ok {
			continue
		}
		return i, h, n, true, false
	}
	return 0, frameHeader{}, 0, false, false
}

// sameIdentity reports whether two headers carry the same invariant bits;
// a stream's sync/reserved/blocking-strategy/sample-rate bits never change
// frame to frame.
func sameIdentity(a, b frameHeader) bool { return a.identity == b.identity }
