// Package wav implements a push-model reader and writer for RIFF/WAVE
// files: RIFF(WAVE fmt data LIST(INFO ...)).
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format codes from the fmt chunk.
const (
	fmtPCM       = 1
	fmtIEEEFloat = 3
	fmtExtended  = 0xfffe
)

// fmtChunkSize is the fixed part of the fmt chunk.
const fmtChunkSize = 16

// Info is the decoded fmt chunk plus the data-derived sample count.
type Info struct {
	SampleRate   uint32
	Channels     uint16
	Bits         uint16
	Float        bool
	Bitrate      uint32
	TotalSamples uint64
}

// SampleSize is the byte length of one interleaved sample across all
// channels.
func (i Info) SampleSize() int { return int(i.Bits) / 8 * int(i.Channels) }

var errBadFmt = errors.New("wav: unsupported fmt chunk")

// parseFmt decodes a fmt chunk payload (16-byte base, optionally the
// WAVE_FORMAT_EXTENSIBLE extension carrying the real format code).
func parseFmt(data []byte) (Info, error) {
	if len(data) < fmtChunkSize {
		return Info{}, fmt.Errorf("%w: %d bytes", errBadFmt, len(data))
	}
	format := binary.LittleEndian.Uint16(data[0:2])
	if format == fmtExtended {
		// 16-byte base + 2-byte ext size + 6 bytes + 16-byte subformat GUID,
		// whose first two bytes are the real format code.
		if len(data) < fmtChunkSize+24 {
			return Info{}, fmt.Errorf("%w: short extension", errBadFmt)
		}
		format = binary.LittleEndian.Uint16(data[24:26])
	}
	info := Info{
		Channels:   binary.LittleEndian.Uint16(data[2:4]),
		SampleRate: binary.LittleEndian.Uint32(data[4:8]),
		Bitrate:    binary.LittleEndian.Uint32(data[8:12]) * 8,
		Bits:       binary.LittleEndian.Uint16(data[14:16]),
	}
	switch format {
	case fmtPCM:
		switch info.Bits {
		case 8, 16, 24, 32:
		default:
			return Info{}, fmt.Errorf("%w: %d-bit PCM", errBadFmt, info.Bits)
		}
	case fmtIEEEFloat:
		info.Float = true
		info.Bits = 32
	default:
		return Info{}, fmt.Errorf("%w: format code %d", errBadFmt, format)
	}
	if info.Channels == 0 || info.SampleRate == 0 {
		return Info{}, fmt.Errorf("%w: zero channels or sample rate", errBadFmt)
	}
	return info, nil
}

// writeFmt appends the 16-byte fmt chunk payload for info.
func writeFmt(dst []byte, info Info) []byte {
	format := uint16(fmtPCM)
	if info.Float {
		format = fmtIEEEFloat
	}
	var b [fmtChunkSize]byte
	binary.LittleEndian.PutUint16(b[0:2], format)
	binary.LittleEndian.PutUint16(b[2:4], info.Channels)
	binary.LittleEndian.PutUint32(b[4:8], info.SampleRate)
	binary.LittleEndian.PutUint32(b[8:12], info.SampleRate*uint32(info.Bits)/8*uint32(info.Channels))
	binary.LittleEndian.PutUint16(b[12:14], uint16(info.Bits)/8*info.Channels)
	binary.LittleEndian.PutUint16(b[14:16], info.Bits)
	return append(dst, b[:]...)
}

// writeChunkHeader appends a RIFF chunk header: four-char id and a 32-bit
// little-endian size.
func writeChunkHeader(dst []byte, id string, size uint32) []byte {
	dst = append(dst, id...)
	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], size)
	return append(dst, sz[:]...)
}
