// Package mpeg1 implements a push-model MP3 reader (MPEG-1/2/2.5 layer
// 1-3 frames, ID3v2/ID3v1/APEv2 tags, Xing/VBRI/LAME headers) and an MP3
// writer.
package mpeg1

import (
	"encoding/binary"

	"github.com/pchchv/avpack/framesync"
)

// decoderDelay is the fixed decoder startup delay every MP3 decoder adds.
const decoderDelay = 528 + 1

// invariantMask covers the MPEG header bits that must not change across
// frames of one stream: sync, version, layer, sample rate. The protection
// bit is left out.
const invariantMask = 0xfffe0c00

// valid reports whether h begins with a well-formed 4-byte MPEG header.
func valid(h []byte) bool {
	return h[0] == 0xFF && h[1]&0xE0 == 0xE0 &&
		h[1]&0x18 != 0x08 && // reserved version
		h[1]&0x06 != 0 && // reserved layer
		h[2]&0xF0 != 0 && h[2]&0xF0 != 0xF0 && // bad bitrate
		h[2]&0x0C != 0x0C // bad sample rate
}

var kbyterate = [2][3][16]byte{
	{ // MPEG-1
		{0, 32 / 8, 40 / 8, 48 / 8, 56 / 8, 64 / 8, 80 / 8, 96 / 8, 112 / 8, 128 / 8, 160 / 8, 192 / 8, 224 / 8, 256 / 8, 320 / 8, 0},  // L3
		{0, 32 / 8, 48 / 8, 56 / 8, 64 / 8, 80 / 8, 96 / 8, 112 / 8, 128 / 8, 160 / 8, 192 / 8, 224 / 8, 256 / 8, 320 / 8, 384 / 8, 0}, // L2
		{0, 32 / 8, 64 / 8, 96 / 8, 128 / 8, 160 / 8, 192 / 8, 224 / 8, 256 / 8, 288 / 8, 320 / 8, 352 / 8, 384 / 8, 416 / 8, 448 / 8, 0}, // L1
	},
	{ // MPEG-2/2.5
		{0, 8 / 8, 16 / 8, 24 / 8, 32 / 8, 40 / 8, 48 / 8, 56 / 8, 64 / 8, 80 / 8, 96 / 8, 112 / 8, 128 / 8, 144 / 8, 160 / 8, 0},     // L3
		{0, 8 / 8, 16 / 8, 24 / 8, 32 / 8, 40 / 8, 48 / 8, 56 / 8, 64 / 8, 80 / 8, 96 / 8, 112 / 8, 128 / 8, 144 / 8, 160 / 8, 0},     // L2
		{0, 32 / 8, 48 / 8, 56 / 8, 64 / 8, 80 / 8, 96 / 8, 112 / 8, 128 / 8, 144 / 8, 160 / 8, 176 / 8, 192 / 8, 224 / 8, 256 / 8, 0}, // L1
	},
}

// bitrate returns the frame's bitrate in bits per second.
func bitrate(h []byte) uint32 {
	v2 := 0
	if h[1]&0x18 != 0x18 {
		v2 = 1
	}
	l := (h[1] & 0x06) >> 1
	if l == 0 {
		return 0
	}
	br := (h[2] & 0xF0) >> 4
	return uint32(kbyterate[v2][l-1][br]) * 8 * 1000
}

var rateTable = [4][4]uint16{
	{44100 / 4, 48000 / 4, 32000 / 4, 0}, // MPEG-2.5
	{0, 0, 0, 0},
	{44100 / 2, 48000 / 2, 32000 / 2, 0}, // MPEG-2
	{44100, 48000, 32000, 0},             // MPEG-1
}

// sampleRate returns the frame's sample rate in Hz.
func sampleRate(h []byte) uint32 {
	v := (h[1] & 0x18) >> 3
	sr := (h[2] & 0x0C) >> 2
	return uint32(rateTable[v][sr])
}

// channels returns 1 for mono, 2 otherwise.
func channels(h []byte) uint8 {
	if h[3]&0xC0 == 0xC0 {
		return 1
	}
	return 2
}

var frameSamples = [2][4]uint16{
	{0, 1152, 1152, 384}, // MPEG-1
	{0, 576, 1152, 384},  // MPEG-2/2.5
}

// samples returns the number of audio samples one frame decodes to.
func samples(h []byte) uint32 {
	v2 := 0
	if h[1]&0x18 != 0x18 {
		v2 = 1
	}
	l := (h[1] & 0x06) >> 1
	return uint32(frameSamples[v2][l])
}

// frameSize returns the whole frame's byte length, header included.
func frameSize(h []byte) int {
	l := (h[1] & 0x06) >> 1
	pad := int((h[2] & 0x02) >> 1)
	if l == 3 { // layer 1 pads in 4-byte slots
		pad *= 4
	}
	return int(samples(h)/8*bitrate(h)/sampleRate(h)) + pad
}

// format adapts the MPEG-1 header layout to the shared frame-sync engine.
type format struct{}

func (format) SyncByte() byte  { return 0xFF }
func (format) HeaderSize() int { return 4 }

func (format) ParseHeader(data []byte) (framesync.Header, error) {
	if !valid(data) {
		return framesync.Header{}, framesync.ErrLostSync
	}
	return framesync.Header{
		FrameSize:     frameSize(data),
		InvariantMask: binary.BigEndian.Uint32(data) & invariantMask,
		Raw:           data[:4],
	}, nil
}

// xingInfo is the parsed Xing/Info/VBRI tag of the first frame.
type xingInfo struct {
	Frames   uint32
	Bytes    uint32
	Delay    uint32
	VBRScale int // -1 CBR; 0..100 VBR
	TOC      [100]byte
	HasTOC   bool
}

// xingOffset is where the Xing magic sits inside the first frame, after
// the side-information block.
func xingOffset(h []byte) int {
	v2 := 0
	if h[1]&0x18 != 0x18 {
		v2 = 1
	}
	off := [2][2]int{{17, 32}, {9, 17}}
	return 4 + off[v2][channels(h)-1]
}

// Xing tag flag bits.
const (
	xingFrames   = 1
	xingBytes    = 2
	xingTOC      = 4
	xingVBRScale = 8
)

// parseXing decodes a Xing or Info tag from the first frame. Returns the
// offset just past the tag (where LAME's extension begins), or -1 when
// the frame carries none.
func parseXing(info *xingInfo, frame []byte) int {
	i := xingOffset(frame)
	if i+8 > len(frame) {
		return -1
	}
	switch string(frame[i : i+4]) {
	case "Xing":
		info.VBRScale = 0
	case "Info":
		info.VBRScale = -1
	default:
		return -1
	}
	i += 4
	flags := binary.BigEndian.Uint32(frame[i:])
	i += 4
	if flags&xingFrames != 0 {
		if i+4 > len(frame) {
			return -1
		}
		info.Frames = binary.BigEndian.Uint32(frame[i:])
		i += 4
	}
	if flags&xingBytes != 0 {
		if i+4 > len(frame) {
			return -1
		}
		info.Bytes = binary.BigEndian.Uint32(frame[i:])
		i += 4
	}
	if flags&xingTOC != 0 {
		if i+100 > len(frame) {
			return -1
		}
		copy(info.TOC[:], frame[i:i+100])
		info.HasTOC = info.TOC[98] != 0
		i += 100
	}
	if flags&xingVBRScale != 0 {
		if i+4 > len(frame) {
			return -1
		}
		if info.VBRScale == 0 {
			info.VBRScale = int(binary.BigEndian.Uint32(frame[i:]))
		}
		i += 4
	}
	return i
}

// parseLame decodes the LAME extension that follows a Xing tag, yielding
// the encoder delay and padding.
func parseLame(data []byte) (delay, padding uint32, ok bool) {
	// 9-byte version id, 12 bytes of fields, then delay[12] padding[12].
	if len(data) < 9+12+3+12 {
		return 0, 0, false
	}
	n := binary.BigEndian.Uint32(data[21:25])
	return n >> 20, (n >> 8) & 0x0FFF, true
}

// parseVBRI decodes the Fraunhofer VBRI tag at its fixed offset.
func parseVBRI(info *xingInfo, frame []byte) bool {
	const off = 4 + 32
	if off+26 > len(frame) {
		return false
	}
	d := frame[off:]
	if string(d[0:4]) != "VBRI" || binary.BigEndian.Uint16(d[4:6]) != 1 {
		return false
	}
	info.Bytes = binary.BigEndian.Uint32(d[10:14])
	info.Frames = binary.BigEndian.Uint32(d[14:18])
	info.VBRScale = 0
	return true
}

// xingSeek maps a sample position to a byte offset through the Xing TOC's
// 100-slot percent table.
func xingSeek(toc []byte, sample, totalSamples, totalSize uint64) uint64 {
	d := float64(sample) * 100 / float64(totalSamples)
	i := int(d)
	if i > 99 {
		i = 99
	}
	d -= float64(i)
	i1 := float64(toc[i])
	i2 := float64(256)
	if i != 99 {
		i2 = float64(toc[i+1])
	}
	return uint64((i1 + (i2-i1)*d) * float64(totalSize) / 256)
}
