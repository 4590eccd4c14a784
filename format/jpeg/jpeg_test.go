package jpeg

import (
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
)

func TestReadHeader(t *testing.T) {
	var file []byte
	file = append(file, 0xFF, 0xD8)
	// An APP0 segment to skip.
	file = append(file, 0xFF, 0xE0, 0x00, 0x06, 'J', 'F', 'I', 'F')
	// SOF0: precision 8, height 64, width 48, 3 components.
	file = append(file, 0xFF, 0xC0, 0x00, 0x0B, 8, 0x00, 0x40, 0x00, 0x30, 3)

	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{})
		events := drivetest.Read(t, r, file, cs)
		r.Close()
		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("cs=%d: events %+v", cs, events)
		}
		h := events[0].Header
		if h.Width != 48 || h.Height != 64 || h.Depth != 24 {
			t.Fatalf("cs=%d: header %+v", cs, h)
		}
	}
}
