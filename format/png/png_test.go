package png

import (
	"encoding/binary"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
)

func TestReadHeader(t *testing.T) {
	file := append([]byte(nil), signature...)
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 320)
	binary.BigEndian.PutUint32(ihdr[4:8], 200)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor + alpha
	var lenb [4]byte
	binary.BigEndian.PutUint32(lenb[:], 13)
	file = append(file, lenb[:]...)
	file = append(file, "IHDR"...)
	file = append(file, ihdr...)

	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{})
		events := drivetest.Read(t, r, file, cs)
		r.Close()
		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("cs=%d: events %+v", cs, events)
		}
		h := events[0].Header
		if h.Width != 320 || h.Height != 200 || h.Depth != 32 {
			t.Fatalf("cs=%d: header %+v", cs, h)
		}
	}
}
