// Package crc32ogg implements the CRC-32 variant used by OGG page
// checksums: polynomial 0x04c11db7, no reflection, zero initial value, no
// final XOR. This differs from the reflected IEEE CRC-32 in the standard
// library's hash/crc32 package, so it gets its own small table here.
// Unlike the sibling crc8/crc16 packages it has no hash digest type, only
// the Checksum and Update functions.
package crc32ogg

// Table is a 256-word table for the OGG CRC-32 polynomial.
type Table [256]uint32

var table = makeTable()

func makeTable() *Table {
	var t Table
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for b := 0; b < 8; b++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// Checksum returns the OGG CRC-32 of data.
func Checksum(data []byte) uint32 {
	return Update(0, data)
}

// Update folds data into a running checksum, for callers that hash a page
// in pieces (the stored CRC field is hashed as zeroes).
func Update(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ table[byte(crc>>24)^b]
	}
	return crc
}
