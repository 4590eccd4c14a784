// Package crc16 implements the non-reflected CRC-16 used by FLAC frame
// footers (polynomial 0x8005, no reflection, zero initial value).
package crc16

import "github.com/pchchv/avpack/internal/hashutil"

// Size of a CRC-16 checksum in bytes.
const Size = 2

// Predefined polynomial used by FLAC frame footer checksums.
const FLAC = 0x8005

// Table is a 256-word table representing the
// polynomial for efficient processing.
type Table [256]uint16

// MakeTable returns a Table for the given non-reflected polynomial.
func MakeTable(poly uint16) *Table {
	var t Table
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// digest represents the partial evaluation of a checksum.
type digest struct {
	crc   uint16
	table *Table
}

// New returns a new hashutil.Hash16 computing the CRC-16 checksum using table.
func New(table *Table) hashutil.Hash16 {
	return &digest{table: table}
}

func (d *digest) Reset() {
	d.crc = 0
}

func (d *digest) Write(p []byte) (int, error) {
	crc := d.crc
	for _, b := range p {
		crc = (crc << 8) ^ d.table[byte(crc>>8)^b]
	}
	d.crc = crc
	return len(p), nil
}

// Sum16 returns the 16-bit checksum of the hash.
func (d *digest) Sum16() uint16 {
	return d.crc
}

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum16()
	return append(in, byte(s>>8), byte(s))
}

func (d *digest) Size() int {
	return Size
}

func (d *digest) BlockSize() int {
	return 1
}

// Checksum returns the CRC-16 checksum of data using table.
func Checksum(data []byte, table *Table) uint16 {
	d := digest{table: table}
	d.Write(data)
	return d.Sum16()
}
