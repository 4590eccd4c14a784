package bmp

import (
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
)

func TestWriteReadHeader(t *testing.T) {
	w := NewWriter(2, 2, 24)
	defer w.Close()
	rows := make([]byte, 16) // two 8-byte rows (2px * 3B, padded to 4)
	file := drivetest.Write(t, w, []drivetest.WFrame{{Bytes: rows}})

	for _, cs := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, cs)
		r.Close()
		if len(events) == 0 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("cs=%d: events %+v", cs, events)
		}
		h := events[0].Header
		if h.Width != 2 || h.Height != 2 || h.Depth != 24 {
			t.Fatalf("cs=%d: header %+v", cs, h)
		}
		var data int
		for _, e := range events[1:] {
			if e.Status == avpack.StatusData {
				data += len(e.Frame)
			}
		}
		if data != len(rows) {
			t.Fatalf("cs=%d: %d pixel bytes, want %d", cs, data, len(rows))
		}
	}
}
