// Package ebmlvarint implements EBML's variable-length integer encoding,
// used by Matroska/WebM for element IDs and element sizes. Unlike the UTF-8
// coded numbers in package utf8, an EBML vint's length is signaled by the
// position of the leading 1 bit of its *first* byte, and IDs keep that
// leading marker bit as part of their value while sizes strip it.
package ebmlvarint

import "errors"

// ErrShort means data does not hold enough bytes to decode the vint; the
// caller should gather more and retry.
var ErrShort = errors.New("ebmlvarint: short buffer")

// ErrInvalid means the leading byte is 0x00, which encodes no valid length.
var ErrInvalid = errors.New("ebmlvarint: invalid length descriptor")

// lenOf returns how many bytes (including the leading one) the vint
// occupies, based on the position of the leading 1 bit in b0.
func lenOf(b0 byte) int {
	for i := 0; i < 8; i++ {
		if b0&(0x80>>uint(i)) != 0 {
			return i + 1
		}
	}
	return 0
}

// DecodeID decodes an EBML element ID: the leading length-marker bit is kept
// as part of the returned value (ids are compared byte-for-byte against the
// table, marker included, per the EBML spec).
func DecodeID(data []byte) (id uint32, n int, err error) {
	if len(data) == 0 {
		return 0, 0, ErrShort
	}
	l := lenOf(data[0])
	if l == 0 {
		return 0, 0, ErrInvalid
	}
	if l > 4 {
		return 0, 0, errors.New("ebmlvarint: element id wider than 4 bytes")
	}
	if len(data) < l {
		return 0, 0, ErrShort
	}
	var v uint32
	for i := 0; i < l; i++ {
		v = v<<8 | uint32(data[i])
	}
	return v, l, nil
}

// DecodeSize decodes an EBML element size: the leading length-marker bit is
// stripped from the value. A size whose data bits are all 1 (the "unknown
// size" sentinel, common in live-muxed Matroska) is returned as -1.
func DecodeSize(data []byte) (size int64, n int, err error) {
	if len(data) == 0 {
		return 0, 0, ErrShort
	}
	l := lenOf(data[0])
	if l == 0 {
		return 0, 0, ErrInvalid
	}
	if len(data) < l {
		return 0, 0, ErrShort
	}
	bitsInFirst := uint(8 - l)
	first := uint64(data[0]) & (uint64(1)<<bitsInFirst - 1)
	v := first
	allOnes := first == uint64(1)<<bitsInFirst-1
	for i := 1; i < l; i++ {
		v = v<<8 | uint64(data[i])
		if data[i] != 0xFF {
			allOnes = false
		}
	}
	if allOnes {
		return -1, l, nil
	}
	return int64(v), l, nil
}

// Len returns the byte length of a vint given its first byte, or 0 if data
// is empty.
func Len(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	return lenOf(data[0])
}
