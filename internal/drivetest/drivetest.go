// Package drivetest drives readers and writers over in-memory byte slices
// for tests: it feeds input in fixed-size chunks, services StatusSeek
// requests the way a seekable file would, and collects every output other
// than MORE and SEEK so tests can assert on the full event sequence. Feeding the same
// stream at different chunk sizes must yield identical event sequences
// (the chunking-invariance property), so every format test runs at least a
// whole-buffer and a small-chunk pass through these helpers.
package drivetest

import (
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/tag"
)

// Event is one non-MORE reader output, with borrowed views copied out.
type Event struct {
	Status   avpack.Status
	Header   avpack.HeaderInfo
	Tag      tag.Record
	Frame    []byte
	Pos      uint64
	EndPos   uint64
	Duration uint64
	Err      error
	Offset   int64
}

// maxSteps caps the drive loop so a reader stuck returning MORE without
// consuming input fails the test instead of hanging it.
const maxSteps = 1 << 20

// Read feeds file to r in chunkSize-byte slices until StatusFin or
// StatusError, servicing every StatusSeek against file. StatusSeek events
// are not recorded: they are transport, not output.
func Read(t *testing.T, r avpack.Reader, file []byte, chunkSize int) []Event {
	t.Helper()
	var events []Event
	pos := 0
	finished := false
	for step := 0; ; step++ {
		if step > maxSteps {
			t.Fatalf("reader made no progress after %d steps (pos=%d)", maxSteps, pos)
		}
		end := pos + chunkSize
		if end > len(file) {
			end = len(file)
		}
		var res avpack.Result
		consumed, st := r.Process(file[pos:end], &res)
		pos += consumed
		switch st {
		case avpack.StatusMore:
			if pos >= len(file) {
				if finished {
					return events
				}
				r.Finish()
				finished = true
			}
		case avpack.StatusSeek:
			if res.SeekOffset < 0 || res.SeekOffset > int64(len(file)) {
				t.Fatalf("seek outside the stream: %d (size %d)", res.SeekOffset, len(file))
			}
			pos = int(res.SeekOffset)
		case avpack.StatusHeader:
			events = append(events, Event{Status: st, Header: res.Header})
		case avpack.StatusMeta:
			rec := res.Tag
			rec.Name = string([]byte(rec.Name))
			rec.Value = string([]byte(rec.Value))
			events = append(events, Event{Status: st, Tag: rec})
		case avpack.StatusData:
			events = append(events, Event{
				Status:   st,
				Frame:    append([]byte(nil), res.Frame.Bytes...),
				Pos:      res.Frame.Pos,
				EndPos:   res.Frame.EndPos,
				Duration: res.Frame.Duration,
			})
		case avpack.StatusWarning:
			events = append(events, Event{Status: st, Err: res.Error.Err, Offset: res.Error.Offset})
		case avpack.StatusError:
			events = append(events, Event{Status: st, Err: res.Error.Err, Offset: res.Error.Offset})
			return events
		case avpack.StatusFin:
			return events
		}
	}
}

// WFrame is one frame handed to a writer under test.
type WFrame struct {
	Bytes    []byte
	Pos      uint64
	Duration uint64
}

// Write drives w over frames (the final one flagged Last) and assembles the
// produced file, honoring StatusSeek rewrites the way a seekable sink would.
func Write(t *testing.T, w avpack.Writer, frames []WFrame) []byte {
	t.Helper()
	var file []byte
	cursor := 0
	emit := func(b []byte) {
		need := cursor + len(b)
		if need > len(file) {
			file = append(file, make([]byte, need-len(file))...)
		}
		copy(file[cursor:], b)
		cursor = need
	}
	step := func(f *avpack.Frame, flags avpack.WriteFlags) avpack.Status {
		var res avpack.Result
		st := w.Process(f, flags, &res)
		switch st {
		case avpack.StatusData:
			emit(res.Frame.Bytes)
		case avpack.StatusSeek:
			if res.SeekOffset < 0 {
				t.Fatalf("writer requested negative seek %d", res.SeekOffset)
			}
			cursor = int(res.SeekOffset)
		case avpack.StatusError:
			t.Fatalf("writer error: %v", res.Error.Err)
		}
		return st
	}

	for i := range frames {
		f := avpack.Frame{
			Bytes:    frames[i].Bytes,
			Pos:      frames[i].Pos,
			Duration: frames[i].Duration,
		}
		var flags avpack.WriteFlags
		if i == len(frames)-1 {
			flags = avpack.Last
		}
		for steps := 0; len(f.Bytes) != 0; steps++ {
			if steps > maxSteps {
				t.Fatalf("writer did not consume frame %d", i)
			}
			step(&f, flags)
		}
	}
	var empty avpack.Frame
	for steps := 0; ; steps++ {
		if steps > maxSteps {
			t.Fatalf("writer never finalized")
		}
		if st := step(&empty, avpack.Last); st == avpack.StatusFin {
			break
		}
	}
	return file
}

// Statuses projects just the status codes of events, for compact asserts.
func Statuses(events []Event) []avpack.Status {
	out := make([]avpack.Status, len(events))
	for i, e := range events {
		out[i] = e.Status
	}
	return out
}
