// Package crc8 implements the non-reflected CRC-8 used by FLAC frame
// headers (polynomial 0x07, no reflection, zero initial value).
package crc8

import "github.com/pchchv/avpack/internal/hashutil"

// Size of a CRC-8 checksum in bytes.
const Size = 1

// Predefined polynomial used by FLAC frame header checksums.
const FLAC = 0x07

// Table is a 256-word table representing
// the polynomial for efficient processing.
type Table [256]uint8

// MakeTable returns a Table for the given non-reflected polynomial.
func MakeTable(poly uint8) *Table {
	var t Table
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for b := 0; b < 8; b++ {
			if crc&0x80 != 0 {
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
	crc   uint8
	table *Table
}

// New returns a new hashutil.Hash8 computing the CRC-8 checksum using table.
func New(table *Table) hashutil.Hash8 {
	return &digest{table: table}
}

func (d *digest) Size() int {
	return Size
}

func (d *digest) BlockSize() int {
	return 1
}

func (d *digest) Reset() {
	d.crc = 0
}

func (d *digest) Write(p []byte) (int, error) {
	crc := d.crc
	for _, b := range p {
		crc = d.table[crc^b]
	}
	d.crc = crc
	return len(p), nil
}

// Sum8 returns the 8-bit checksum of the hash.
func (d *digest) Sum8() uint8 {
	return d.crc
}

func (d *digest) Sum(in []byte) []byte {
	return append(in, d.crc)
}

// Checksum returns the CRC-8 checksum of data using table.
func Checksum(data []byte, table *Table) uint8 {
	d := digest{table: table}
	d.Write(data)
	return d.Sum8()
}
