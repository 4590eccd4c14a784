package flac

import (
	"bytes"
	"encoding/binary"

	"github.com/pchchv/avpack/internal/bits"
)

// seekPointSize is one on-disk seek point: 8-byte sample number,
// 8-byte stream offset, 2-byte frame sample count.
const seekPointSize = 8 + 8 + 2

// seekPointPlaceholder marks an unused trailing seek table slot.
const seekPointPlaceholder = ^uint64(0)

// SeekPoint is one (sample, byte offset) anchor, relative to the first
// audio frame.
type SeekPoint struct {
	Sample uint64
	Offset uint64
}

// ParseSeekTable decodes a SEEKTABLE metadata block body into a sorted,
// deduplicated list of seek points, discarding placeholder entries. An
// explicit entry for sample 0 is synthesized if the table doesn't start
// with one, and the final entry is left for the caller to complete with
// the frame stream's total byte length once known.
func ParseSeekTable(body []byte, totalSamples uint64) ([]SeekPoint, bool) {
	n := len(body) / seekPointSize
	var prevSample, prevOff uint64
	have0 := false
	count := 0
	for i := 0; i < n; i++ {
		rec := body[i*seekPointSize:]
		sample := binary.BigEndian.Uint64(rec[0:8])
		off := binary.BigEndian.Uint64(rec[8:16])
		if prevSample >= sample || prevOff >= off {
			if sample == seekPointPlaceholder {
				n = i
				break
			}
			if i == 0 {
				have0 = true
				count++
				continue
			}
			return nil, false // not sorted/unique
		}
		prevSample, prevOff = sample, off
		count++
	}
	if have0 {
		count--
	}
	if count == 0 {
		return nil, true
	}
	if prevSample >= totalSamples {
		return nil, false
	}

	pts := make([]SeekPoint, 1, count+2)
	pts[0] = SeekPoint{Sample: 0, Offset: 0}
	start := 0
	if have0 {
		start = 1
	}
	for i := start; i < n; i++ {
		rec := body[i*seekPointSize:]
		pts = append(pts, SeekPoint{
			Sample: binary.BigEndian.Uint64(rec[0:8]),
			Offset: binary.BigEndian.Uint64(rec[8:16]),
		})
	}
	pts = append(pts, SeekPoint{Sample: totalSamples})
	return pts, true
}

// FinishSeekTable fills in the trailing placeholder point's offset once the
// frame stream's total size is known, or discards the table if that point's
// predecessor already lies past the actual frame data (a corrupt table).
func FinishSeekTable(pts []SeekPoint, framesSize uint64) []SeekPoint {
	if len(pts) < 2 {
		return pts
	}
	if pts[len(pts)-2].Offset >= framesSize {
		return nil
	}
	pts[len(pts)-1].Offset = framesSize
	return pts
}

// FindSeekPoint returns the index i such that pts[i].Sample <= sample <
// pts[i+1].Sample, or -1 if sample falls outside every bracket.
func FindSeekPoint(pts []SeekPoint, sample uint64) int {
	lo, hi, found := 0, len(pts), -1
	for lo != hi {
		mid := lo + (hi-lo)/2
		switch {
		case sample == pts[mid].Sample:
			found = mid
			lo, hi = mid, mid
		case sample < pts[mid].Sample:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	if found < 0 {
		found = lo - 1
	}
	if found < 0 || found >= len(pts)-1 {
		return -1
	}
	return found
}

// BuildSeekTable returns evenly spaced (by sample) seek points for a writer
// emitting a stream of totalSamples at interval-sample granularity.
func BuildSeekTable(totalSamples uint64, interval uint32) []SeekPoint {
	if interval == 0 || totalSamples/uint64(interval) == 0 {
		return nil
	}
	n := totalSamples / uint64(interval)
	if totalSamples%uint64(interval) == 0 {
		n--
	}
	pts := make([]SeekPoint, 0, n)
	pos := uint64(interval)
	for i := uint64(0); i < n; i++ {
		pts = append(pts, SeekPoint{Sample: pos})
		pos += uint64(interval)
	}
	return pts
}

// WriteSeekTable appends a complete SEEKTABLE metadata block for pts, using
// blockSize as every point's stored frame-sample-count field (the nominal
// minimum block size).
func WriteSeekTable(dst []byte, pts []SeekPoint, blockSize uint16, last bool) []byte {
	dst = writeBlockHeader(dst, blockSeekTable, last, len(pts)*seekPointSize)
	var buf bytes.Buffer
	bw := bits.NewWriter(&buf)
	lastSample := seekPointPlaceholder
	for _, p := range pts {
		if p.Sample == lastSample {
			continue
		}
		bw.WriteBits(p.Sample, 64)
		bw.WriteBits(p.Offset, 64)
		bw.WriteBits(uint64(blockSize), 16)
		lastSample = p.Sample
	}
	bw.Flush()
	return append(dst, buf.Bytes()...)
}
