// Package ogg implements a push-model OGG reader (page and packet layer),
// a codec multiplexer recognizing Vorbis, Opus, and embedded-FLAC logical
// streams, and an OGG page writer.
package ogg

import (
	"bytes"
	"encoding/binary"

	"github.com/pchchv/avpack/internal/hashutil/crc32ogg"
)

// headerSize is the fixed part of a page header, before the segment table.
const headerSize = 27

// maxPage bounds one page: header, 255 segments, 255 bytes each.
const maxPage = headerSize + 255 + 255*255

// Page header flag bits.
const (
	flagContinued = 0x01
	flagFirst     = 0x02
	flagLast      = 0x04
)

// noGranule marks a page carrying no finished packet.
const noGranule = ^uint64(0)

// pageHeader is the decoded fixed part of an OGG page header.
type pageHeader struct {
	Flags      byte
	GranulePos uint64
	Serial     uint32
	Number     uint32
	CRC        uint32
	NSegments  int
}

var signature = []byte("OggS")

// parsePageHeader decodes the 27-byte fixed header at the front of d.
func parsePageHeader(d []byte) (pageHeader, bool) {
	if len(d) < headerSize || !bytes.HasPrefix(d, signature) || d[4] != 0 {
		return pageHeader{}, false
	}
	return pageHeader{
		Flags:      d[5],
		GranulePos: binary.LittleEndian.Uint64(d[6:14]),
		Serial:     binary.LittleEndian.Uint32(d[14:18]),
		Number:     binary.LittleEndian.Uint32(d[18:22]),
		CRC:        binary.LittleEndian.Uint32(d[22:26]),
		NSegments:  int(d[26]),
	}, true
}

// findPageHeader scans d for a syntactically valid page header prefix.
// Returns the byte offset, or -1 when no candidate fits in d.
func findPageHeader(d []byte) int {
	for i := 0; i+headerSize <= len(d); i++ {
		if d[i] != 'O' {
			continue
		}
		if _, ok := parsePageHeader(d[i:]); ok {
			return i
		}
	}
	return -1
}

// pageSize computes the total page length from a gathered header plus
// segment table.
func pageSize(hdr pageHeader, segs []byte) int {
	n := headerSize + hdr.NSegments
	for _, s := range segs[:hdr.NSegments] {
		n += int(s)
	}
	return n
}

// checksum computes the page CRC with the stored CRC field zeroed.
func checksum(page []byte) uint32 {
	var zero [4]byte
	crc := crc32ogg.Update(0, page[:22])
	crc = crc32ogg.Update(crc, zero[:])
	return crc32ogg.Update(crc, page[26:])
}

// nextPacket walks the segment table from *segOff, returning the next
// packet's body slice. complete is false when the packet continues on the
// next page; ok is false when the page has no further packets.
func nextPacket(page []byte, hdr pageHeader, segOff, bodyOff *int) (pkt []byte, complete, ok bool) {
	segs := page[headerSize : headerSize+hdr.NSegments]
	body := page[headerSize+hdr.NSegments:]
	if *segOff >= len(segs) {
		return nil, false, false
	}
	n := 0
	complete = false
	for ; *segOff < len(segs); *segOff++ {
		seg := int(segs[*segOff])
		n += seg
		if seg < 255 {
			complete = true
			*segOff++
			break
		}
	}
	pkt = body[*bodyOff : *bodyOff+n]
	*bodyOff += n
	return pkt, complete, true
}

// pageBuilder accumulates packets into one page under construction.
type pageBuilder struct {
	serial uint32
	number uint32
	segs   []byte
	body   []byte
}

// fits reports how many of n packet bytes the page can still take.
func (p *pageBuilder) fits(n int) int {
	free := 255 - len(p.segs)
	if free <= 0 {
		return 0
	}
	max := free * 255
	if n < max {
		return n
	}
	if n == max {
		// The whole packet would also need a terminating zero lacing
		// value, one more than the page has room for.
		return max - 255
	}
	return max
}

// addPacket appends as much of data as fits, extending the segment table.
// consumed < len(data) means the packet continues on the next page.
func (p *pageBuilder) addPacket(data []byte) (consumed int) {
	take := p.fits(len(data))
	rest := take
	for rest >= 255 {
		p.segs = append(p.segs, 255)
		rest -= 255
	}
	if take == len(data) {
		// The final lacing value is the short (possibly zero) remainder.
		p.segs = append(p.segs, byte(rest))
	} else if rest > 0 {
		// A partial packet must end on a full segment boundary.
		take -= rest
	}
	p.body = append(p.body, data[:take]...)
	return take
}

// empty reports whether no packet bytes have been added yet.
func (p *pageBuilder) empty() bool { return len(p.segs) == 0 }

// write assembles the complete page with the given granule position and
// flags, resets the builder, and returns the page bytes appended to dst.
func (p *pageBuilder) write(dst []byte, granule uint64, flags byte) []byte {
	start := len(dst)
	dst = append(dst, signature...)
	dst = append(dst, 0, flags)
	var u8 [8]byte
	binary.LittleEndian.PutUint64(u8[:], granule)
	dst = append(dst, u8[:]...)
	var u4 [4]byte
	binary.LittleEndian.PutUint32(u4[:], p.serial)
	dst = append(dst, u4[:]...)
	binary.LittleEndian.PutUint32(u4[:], p.number)
	dst = append(dst, u4[:]...)
	dst = append(dst, 0, 0, 0, 0) // CRC, filled below
	dst = append(dst, byte(len(p.segs)))
	dst = append(dst, p.segs...)
	dst = append(dst, p.body...)
	crc := checksum(dst[start:])
	binary.LittleEndian.PutUint32(dst[start+22:start+26], crc)
	p.number++
	p.segs = p.segs[:0]
	p.body = p.body[:0]
	return dst
}
