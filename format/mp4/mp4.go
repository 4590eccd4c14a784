// Package mp4 implements a push-model reader and writer for ISO BMFF
// (MP4/M4A) audio files: box traversal, sample tables, ilst metadata, and
// an AAC-in-MP4 writer.
package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pchchv/avpack/container"
)

// Codec ids found in stsd sample entries.
const (
	CodecUnknown = iota
	CodecAAC
	CodecALAC
	CodecMP3
	CodecAVC1
)

func codecName(c int) string {
	switch c {
	case CodecAAC:
		return "aac"
	case CodecALAC:
		return "alac"
	case CodecMP3:
		return "mpeg1"
	case CodecAVC1:
		return "avc1"
	default:
		return "unknown"
	}
}

// esds decoder-config object types.
const (
	esdsDecMPEG4Audio = 0x40
	esdsDecMPEG1Audio = 0x6b
)

// esds block tags.
const (
	esdsTag        = 3
	esdsDecTag     = 4
	esdsDecSpecTag = 5
	esdsSLTag      = 6
)

var errBadBox = errors.New("mp4: malformed box")

// parseBoxHeader decodes an ISO BMFF box header: 32-bit big-endian size
// (header included), four-char type. Size 1 switches to the 64-bit
// largesize following the type; size 0 extends the box to EOF (mdat).
func parseBoxHeader(hdr []byte) (container.Header, error) {
	size := int64(binary.BigEndian.Uint32(hdr[0:4]))
	id := binary.BigEndian.Uint32(hdr[4:8])
	switch {
	case size == 1:
		if len(hdr) < 16 {
			return container.Header{Ext: 16 - len(hdr)}, nil
		}
		large := int64(binary.BigEndian.Uint64(hdr[8:16]))
		if large < 16 {
			return container.Header{}, fmt.Errorf("%w: largesize %d", errBadBox, large)
		}
		return container.Header{ID: id, Size: large - 16}, nil
	case size == 0:
		return container.Header{ID: id, Size: -1}, nil
	case size < 8:
		return container.Header{}, fmt.Errorf("%w: size %d", errBadBox, size)
	default:
		return container.Header{ID: id, Size: size - 8}, nil
	}
}

// aformat is the fixed part of an stsd audio sample entry (mp4a/alac).
type aformat struct {
	Channels uint16
	Bits     uint16
	Rate     uint32
}

// afmtSize is the audio sample entry's fixed length; versions 1 and 2
// append 16 or 36 more bytes before any child boxes.
const afmtSize = 28

// parseAFmt decodes the audio sample entry and returns how many payload
// bytes it occupied (version-dependent) so the caller can find the child
// boxes that follow.
func parseAFmt(data []byte) (aformat, int, error) {
	if len(data) < afmtSize {
		return aformat{}, 0, fmt.Errorf("%w: audio sample entry of %d bytes", errBadBox, len(data))
	}
	f := aformat{
		Channels: binary.BigEndian.Uint16(data[16:18]),
		Bits:     binary.BigEndian.Uint16(data[18:20]),
		Rate:     uint32(binary.BigEndian.Uint16(data[24:26])),
	}
	n := afmtSize
	switch ver := binary.BigEndian.Uint16(data[8:10]); ver {
	case 1:
		if afmtSize+16 <= len(data) {
			n += 16
		}
	case 2:
		if afmtSize+36 <= len(data) {
			n += 36
		}
	}
	return f, n, nil
}

// writeAFmt appends the 28-byte audio sample entry for f.
func writeAFmt(dst []byte, f aformat) []byte {
	var b [afmtSize]byte
	b[7] = 1 // data reference index
	binary.BigEndian.PutUint16(b[16:18], f.Channels)
	binary.BigEndian.PutUint16(b[18:20], f.Bits)
	if f.Rate <= 0xffff {
		binary.BigEndian.PutUint16(b[24:26], uint16(f.Rate))
	}
	return append(dst, b[:]...)
}

// acodec is the decoded esds box content.
type acodec struct {
	Type     int // esdsDec* object type
	MaxBrate uint32
	AvgBrate uint32
	Conf     []byte
}

// esdsBlock reads one esds descriptor header at data[i], returning the tag,
// body start, and body size. The size is either one byte or the 0x80-tagged
// four-byte form.
func esdsBlock(data []byte, i int) (tag, start, size int, ok bool) {
	if i+2 > len(data) {
		return 0, 0, 0, false
	}
	tag = int(data[i])
	if data[i+1] != 0x80 {
		return tag, i + 2, int(data[i+1]), true
	}
	if i+5 > len(data) {
		return 0, 0, 0, false
	}
	return tag, i + 5, int(data[i+4]), true
}

// parseEsds walks the nested esds descriptors down to the decoder-specific
// config (the AudioSpecificConfig for AAC).
func parseEsds(data []byte) (acodec, error) {
	tag, i, _, ok := esdsBlock(data, 0)
	if !ok || tag != esdsTag {
		return acodec{}, fmt.Errorf("%w: esds descriptor", errBadBox)
	}
	i += 3 // ES id + priority
	tag, i, _, ok = esdsBlock(data, i)
	if !ok || tag != esdsDecTag {
		return acodec{}, fmt.Errorf("%w: esds decoder config", errBadBox)
	}
	if i+13 > len(data) {
		return acodec{}, fmt.Errorf("%w: short esds decoder config", errBadBox)
	}
	ac := acodec{
		Type:     int(data[i]),
		MaxBrate: binary.BigEndian.Uint32(data[i+5 : i+9]),
		AvgBrate: binary.BigEndian.Uint32(data[i+9 : i+13]),
	}
	tag, start, size, ok := esdsBlock(data, i+13)
	if ok && tag == esdsDecSpecTag && start+size <= len(data) {
		ac.Conf = data[start : start+size]
	}
	return ac, nil
}

// writeEsds appends a complete esds box payload (fullbox header included).
func writeEsds(dst []byte, ac acodec) []byte {
	block := func(dst []byte, tag, size int) []byte {
		return append(dst, byte(tag), 0x80, 0x80, 0x80, byte(size))
	}
	dst = append(dst, 0, 0, 0, 0) // fullbox version+flags
	total := 3 + 5 + 13 + 5 + len(ac.Conf) + 5 + 1
	dst = block(dst, esdsTag, total)
	dst = append(dst, 0, 0, 0) // ES id, priority
	dst = block(dst, esdsDecTag, 13+5+len(ac.Conf))
	dst = append(dst, byte(ac.Type), 0x15, 0, 0, 0)
	var u [4]byte
	binary.BigEndian.PutUint32(u[:], ac.MaxBrate)
	dst = append(dst, u[:]...)
	binary.BigEndian.PutUint32(u[:], ac.AvgBrate)
	dst = append(dst, u[:]...)
	dst = block(dst, esdsDecSpecTag, len(ac.Conf))
	dst = append(dst, ac.Conf...)
	dst = block(dst, esdsSLTag, 1)
	return append(dst, 0x02)
}

// samplePoint is one entry of the per-track sample map: the frame's audio
// position, byte size, and owning chunk.
type samplePoint struct {
	AudioPos uint64
	Size     uint32
	ChunkID  uint32
}

// parseStts fills each sample's audio position from the time-to-sample
// box and returns the total sample count in track timescale units.
func parseStts(sk []samplePoint, data []byte) (uint64, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: stts", errBadBox)
	}
	cnt := int(binary.BigEndian.Uint32(data[0:4]))
	if len(data) < 4+cnt*8 {
		return 0, fmt.Errorf("%w: stts with %d entries", errBadBox, cnt)
	}
	var pos uint64
	isk := 0
	for i := 0; i < cnt; i++ {
		ent := data[4+i*8:]
		nsamples := binary.BigEndian.Uint32(ent[0:4])
		delta := binary.BigEndian.Uint32(ent[4:8])
		if isk+int(nsamples) >= len(sk)+1 {
			return 0, fmt.Errorf("%w: stts overruns the sample table", errBadBox)
		}
		for k := uint32(0); k < nsamples; k++ {
			sk[isk].AudioPos = pos + uint64(delta)*uint64(k)
			isk++
		}
		pos += uint64(nsamples) * uint64(delta)
	}
	if isk != len(sk) {
		return 0, fmt.Errorf("%w: stts covers %d of %d samples", errBadBox, isk, len(sk))
	}
	return pos, nil
}

// parseStsc fills each sample's chunk index from the sample-to-chunk box.
func parseStsc(sk []samplePoint, data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: stsc", errBadBox)
	}
	cnt := int(binary.BigEndian.Uint32(data[0:4]))
	if cnt == 0 || len(data) < 4+cnt*12 {
		return fmt.Errorf("%w: stsc with %d entries", errBadBox, cnt)
	}
	ent := func(i int) (first, samples uint32) {
		e := data[4+i*12:]
		return binary.BigEndian.Uint32(e[0:4]), binary.BigEndian.Uint32(e[4:8])
	}
	prevFirst, nsamples := ent(0)
	if prevFirst == 0 {
		return fmt.Errorf("%w: stsc first chunk 0", errBadBox)
	}
	isk := 0
	for i := 1; i < cnt; i++ {
		first, _ := ent(i)
		if prevFirst >= first || isk+int(first-prevFirst)*int(nsamples) > len(sk) {
			return fmt.Errorf("%w: stsc chunk run", errBadBox)
		}
		for ch := prevFirst; ch < first; ch++ {
			for k := uint32(0); k < nsamples; k++ {
				sk[isk].ChunkID = ch - 1
				isk++
			}
		}
		prevFirst, nsamples = ent(i)
	}
	for ch := prevFirst; isk < len(sk); ch++ {
		for k := uint32(0); k < nsamples && isk < len(sk); k++ {
			sk[isk].ChunkID = ch - 1
			isk++
		}
	}
	return nil
}

// parseStsz returns the sample count and fills sizes when sk is non-nil.
func parseStsz(data []byte, sk []samplePoint) (int, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: stsz", errBadBox)
	}
	defSize := binary.BigEndian.Uint32(data[0:4])
	cnt := int(binary.BigEndian.Uint32(data[4:8]))
	if sk == nil {
		return cnt, nil
	}
	if defSize != 0 {
		for i := range sk {
			sk[i].Size = defSize
		}
		return cnt, nil
	}
	if len(data) < 8+cnt*4 {
		return 0, fmt.Errorf("%w: stsz with %d sizes", errBadBox, cnt)
	}
	for i := 0; i < cnt && i < len(sk); i++ {
		sk[i].Size = binary.BigEndian.Uint32(data[8+i*4:])
	}
	return cnt, nil
}

// parseStco decodes chunk offsets (stco 32-bit, co64 64-bit); offsets must
// be strictly growing.
func parseStco(data []byte, wide bool) ([]uint64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: stco", errBadBox)
	}
	cnt := int(binary.BigEndian.Uint32(data[0:4]))
	esz := 4
	if wide {
		esz = 8
	}
	if len(data) < 4+cnt*esz {
		return nil, fmt.Errorf("%w: stco with %d offsets", errBadBox, cnt)
	}
	out := make([]uint64, cnt)
	var last uint64
	for i := 0; i < cnt; i++ {
		var off uint64
		if wide {
			off = binary.BigEndian.Uint64(data[4+i*8:])
		} else {
			off = uint64(binary.BigEndian.Uint32(data[4+i*4:]))
		}
		if off < last {
			return nil, fmt.Errorf("%w: chunk offsets not growing", errBadBox)
		}
		out[i] = off
		last = off
	}
	return out, nil
}

// findSample returns the index i of the last entry with sk[i].AudioPos <=
// sample, or -1 when sk is empty or sample precedes sk[0].AudioPos. A
// sample at or past the last entry's position maps to the last entry.
func findSample(sk []samplePoint, sample uint64) int {
	lo, hi := 0, len(sk)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if sample < sk[mid].AudioPos {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 || lo > len(sk) {
		return -1
	}
	return lo - 1
}

// parseSmpb decodes the iTunSMPB value: space-separated hex fields, the
// second and third being the encoder delay and end padding, the fourth the
// true sample count.
func parseSmpb(val string) (delay, padding uint32, samples uint64, ok bool) {
	var fields []uint64
	cur := uint64(0)
	digits := 0
	flush := func() {
		if digits > 0 {
			fields = append(fields, cur)
		}
		cur, digits = 0, 0
	}
	for i := 0; i < len(val); i++ {
		c := val[i]
		switch {
		case c >= '0' && c <= '9':
			cur = cur<<4 | uint64(c-'0')
			digits++
		case c >= 'a' && c <= 'f':
			cur = cur<<4 | uint64(c-'a'+10)
			digits++
		case c >= 'A' && c <= 'F':
			cur = cur<<4 | uint64(c-'A'+10)
			digits++
		case c == ' ':
			flush()
		default:
			return 0, 0, 0, false
		}
	}
	flush()
	if len(fields) < 4 {
		return 0, 0, 0, false
	}
	return uint32(fields[1]), uint32(fields[2]), fields[3], true
}

// box appends an ISO BMFF box with the given payload.
func box(dst []byte, typ string, payload []byte) []byte {
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(8+len(payload)))
	dst = append(dst, sz[:]...)
	dst = append(dst, typ...)
	return append(dst, payload...)
}

// fullbox wraps payload in a box with a leading version+flags word.
func fullbox(dst []byte, typ string, version byte, payload []byte) []byte {
	body := make([]byte, 0, 4+len(payload))
	body = append(body, version, 0, 0, 0)
	body = append(body, payload...)
	return box(dst, typ, body)
}
