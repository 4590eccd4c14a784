package ts

import (
	"bytes"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
)

// tsPacket pads one 188-byte packet.
func tsPacket(pid int, start bool, payload []byte) []byte {
	p := make([]byte, packetSize)
	p[0] = 0x47
	p[1] = byte(pid >> 8)
	if start {
		p[1] |= 0x40
	}
	p[2] = byte(pid)
	p[3] = 0x10 // payload only
	n := copy(p[4:], payload)
	for i := 4 + n; i < packetSize; i++ {
		p[i] = 0xFF
	}
	return p
}

// patPayload builds a PAT section (pointer byte included) mapping the
// program to pmtPID.
func patPayload(pmtPID int) []byte {
	body := make([]byte, 13)
	// Pointer byte 0, then the section; the PMT pid sits at section
	// offset 10.
	body[11] = 0xE0 | byte(pmtPID>>8)
	body[12] = byte(pmtPID)
	return body
}

// pmtPayload builds a PMT section declaring one elementary stream.
func pmtPayload(esPID, streamType int) []byte {
	body := make([]byte, 14)
	body[9] = 0xE0 | byte(esPID>>8)
	body[10] = byte(esPID)
	// program info length stays 0 at section offset 10
	body[13] = byte(streamType)
	return body
}

// pesPayload builds a PES header with a PTS plus data.
func pesPayload(ptsMsec uint64, data []byte) []byte {
	pts := ptsMsec * 90
	hdr := []byte{0, 0, 1, 0xC0, 0, 0, 0x80, 0x80, 5}
	p := make([]byte, 5)
	p[0] = 0x20 | (byte(pts>>29) & 0x0E) | 1
	v := (uint16(pts>>15)&0x7FFF)<<1 | 1
	p[1], p[2] = byte(v>>8), byte(v)
	v = (uint16(pts)&0x7FFF)<<1 | 1
	p[3], p[4] = byte(v>>8), byte(v)
	return append(append(hdr, p...), data...)
}

func TestReadProgramAndData(t *testing.T) {
	const pmtPID, esPID = 0x100, 0x101
	var file []byte
	file = append(file, tsPacket(0, true, patPayload(pmtPID))...)
	file = append(file, tsPacket(pmtPID, true, pmtPayload(esPID, StreamAAC))...)
	file = append(file, tsPacket(esPID, true, pesPayload(1000, []byte("aac-data-1")))...)
	file = append(file, tsPacket(esPID, false, []byte("aac-data-2"))...)

	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, cs)
		r.Close()

		var header *avpack.HeaderInfo
		var data [][]byte
		for i := range events {
			e := events[i]
			switch e.Status {
			case avpack.StatusHeader:
				h := e.Header
				header = &h
			case avpack.StatusData:
				data = append(data, e.Frame)
			case avpack.StatusError:
				t.Fatalf("cs=%d: error %v", cs, e.Err)
			}
		}
		if header == nil || header.Codec != "aac" {
			t.Fatalf("cs=%d: header %+v", cs, header)
		}
		if len(data) != 2 {
			t.Fatalf("cs=%d: %d payloads, want 2", cs, len(data))
		}
		if !bytes.HasPrefix(data[0], []byte("aac-data-1")) {
			t.Fatalf("cs=%d: first payload %q", cs, data[0][:16])
		}
		if !bytes.HasPrefix(data[1], []byte("aac-data-2")) {
			t.Fatalf("cs=%d: second payload %q", cs, data[1][:16])
		}
	}

	r := NewReader(avpack.Config{})
	defer r.Close()
	drivetest.Read(t, r, file, len(file))
	if r.PosMsec() != 1000 {
		t.Fatalf("PES position %d ms, want 1000", r.PosMsec())
	}
}
