// Package flac implements a push-model reader and writer for native FLAC
// streams: the fLaC sync word, metadata blocks, then the frame stream.
package flac

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pchchv/avpack/internal/bits"
)

// Sync is the 4-byte signature every FLAC stream starts with.
var Sync = [4]byte{'f', 'L', 'a', 'C'}

// Metadata block type codes.
const (
	blockStreamInfo  = 0
	blockPadding     = 1
	blockApplication = 2
	blockSeekTable   = 3
	blockVorbisTags  = 4
	blockCueSheet    = 5
	blockPicture     = 6
)

// blockHeaderSize is a 1-bit last flag, 7-bit type, and 24-bit body size.
const blockHeaderSize = 4

// streamInfoSize is the fixed STREAMINFO block body length.
const streamInfoSize = 2 + 2 + 3 + 3 + 8 + 16

// MinHeaderSize is the number of bytes needed to hold the sync word, the
// metadata block header, and a full STREAMINFO block.
const MinHeaderSize = 4 + blockHeaderSize + streamInfoSize

// StreamInfo is the decoded STREAMINFO metadata block.
type StreamInfo struct {
	MinBlock, MaxBlock uint16
	MinFrame, MaxFrame uint32
	SampleRate         uint32
	Channels           uint8
	Bits               uint8
	TotalSamples       uint64
	MD5                [16]byte
}

// parseBlockHeader reads the 4-byte metadata block header at the front of
// data.
func parseBlockHeader(data []byte) (typ int, size int, last bool) {
	br := bits.NewReader(bytes.NewReader(data[:blockHeaderSize]))
	lastBit, _ := br.ReadBit()
	t, _ := br.Read(7)
	n, _ := br.Read(24)
	return int(t), int(n), lastBit == 1
}

// writeBlockHeader appends a 4-byte metadata block header to dst.
func writeBlockHeader(dst []byte, typ int, last bool, size int) []byte {
	var buf bytes.Buffer
	bw := bits.NewWriter(&buf)
	bw.WriteBool(last)
	bw.WriteBits(uint64(typ), 7)
	bw.WriteBits(uint64(size), 24)
	bw.Flush()
	return append(dst, buf.Bytes()...)
}

// ParseStreamInfo parses data's leading MinHeaderSize bytes as "fLaC" plus a
// STREAMINFO metadata block, returning whether the block was marked last
// (meaning no further metadata blocks follow).
func ParseStreamInfo(data []byte) (si StreamInfo, last bool, err error) {
	if len(data) < MinHeaderSize {
		return StreamInfo{}, false, fmt.Errorf("flac: short stream info: %w", errShort)
	}
	if !bytes.Equal(data[0:4], Sync[:]) {
		return StreamInfo{}, false, errBadSync
	}
	typ, size, isLast := parseBlockHeader(data[4:8])
	if typ != blockStreamInfo || size < streamInfoSize {
		return StreamInfo{}, false, errBadSync
	}

	body := data[8 : 8+streamInfoSize]
	br := bits.NewReader(bytes.NewReader(body))
	read := func(n uint) uint64 {
		v, _ := br.Read(n)
		return v
	}
	si.MinBlock = uint16(read(16))
	si.MaxBlock = uint16(read(16))
	si.MinFrame = uint32(read(24))
	si.MaxFrame = uint32(read(24))
	si.SampleRate = uint32(read(20))
	si.Channels = uint8(read(3)) + 1
	bps := uint8(read(5)) + 1
	switch bps {
	case 8, 16, 24:
		si.Bits = bps
	default:
		return StreamInfo{}, false, fmt.Errorf("flac: invalid bits per sample: %w", errBadSync)
	}
	si.TotalSamples = read(36)
	copy(si.MD5[:], body[18:34])
	return si, isLast, nil
}

// WriteStreamInfo appends the "fLaC" sync word and a STREAMINFO block for si
// to dst. last marks the block as the final metadata block.
func WriteStreamInfo(dst []byte, si StreamInfo, last bool) ([]byte, error) {
	if si.TotalSamples>>36 != 0 {
		return nil, errors.New("flac: total samples exceeds 36 bits")
	}
	if si.Channels == 0 || si.Channels > 8 {
		return nil, errors.New("flac: invalid channel count")
	}

	dst = append(dst, Sync[:]...)
	dst = writeBlockHeader(dst, blockStreamInfo, last, streamInfoSize)

	var buf bytes.Buffer
	bw := bits.NewWriter(&buf)
	bw.WriteBits(uint64(si.MinBlock), 16)
	bw.WriteBits(uint64(si.MaxBlock), 16)
	bw.WriteBits(uint64(si.MinFrame), 24)
	bw.WriteBits(uint64(si.MaxFrame), 24)
	bw.WriteBits(uint64(si.SampleRate), 20)
	bw.WriteBits(uint64(si.Channels-1), 3)
	bw.WriteBits(uint64(si.Bits-1), 5)
	bw.WriteBits(si.TotalSamples, 36)
	bw.Write(si.MD5[:])
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return append(dst, buf.Bytes()...), nil
}

// WritePadding appends a PADDING metadata block of n zero bytes.
func WritePadding(dst []byte, n int, last bool) []byte {
	dst = writeBlockHeader(dst, blockPadding, last, n)
	return append(dst, make([]byte, n)...)
}

var (
	errBadSync = errors.New("flac: bad stream signature")
	errShort   = errors.New("flac: need more data")
)
