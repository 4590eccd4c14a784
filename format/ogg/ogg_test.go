package ogg

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/vorbiscomment"
)

// writeStream drives a page writer over packets; a packet with flush set
// closes its page immediately (header pages live alone on their page).
type wpacket struct {
	bytes  []byte
	endPos uint64
	flush  bool
}

func writeStream(t *testing.T, serial uint32, pkts []wpacket) []byte {
	t.Helper()
	w := NewWriter(serial, 0)
	defer w.Close()
	var file []byte
	var res avpack.Result
	for i, p := range pkts {
		f := avpack.Frame{Bytes: p.bytes, EndPos: p.endPos}
		var flags avpack.WriteFlags
		if p.flush {
			flags |= avpack.OggFlush
		}
		if i == len(pkts)-1 {
			flags |= avpack.Last
		}
		for len(f.Bytes) != 0 || i == len(pkts)-1 {
			st := w.Process(&f, flags, &res)
			switch st {
			case avpack.StatusData:
				file = append(file, res.Frame.Bytes...)
			case avpack.StatusError:
				t.Fatalf("writer: %v", res.Error.Err)
			case avpack.StatusMore:
				if len(f.Bytes) != 0 {
					t.Fatal("writer returned MORE with input pending")
				}
			}
			if len(f.Bytes) == 0 && (st == avpack.StatusMore || st == avpack.StatusFin) {
				break
			}
			if st == avpack.StatusFin {
				break
			}
		}
	}
	return file
}

func TestPageRoundTrip(t *testing.T) {
	file := writeStream(t, 0xBEEF, []wpacket{
		{bytes: []byte("oggframe1"), endPos: 1024},
	})

	if !bytes.HasPrefix(file, []byte("OggS")) {
		t.Fatalf("no page signature: % x", file[:8])
	}
	for _, chunk := range []int{len(file), 3} {
		r := NewReader(avpack.Config{TotalSize: int64(len(file))})
		events := drivetest.Read(t, r, file, chunk)
		r.Close()

		if len(events) < 2 || events[0].Status != avpack.StatusHeader {
			t.Fatalf("chunk=%d: events %+v", chunk, events)
		}
		if events[0].Header.TotalSamples != 1024 {
			t.Fatalf("chunk=%d: total samples %d", chunk, events[0].Header.TotalSamples)
		}
		if events[1].Status != avpack.StatusData || string(events[1].Frame) != "oggframe1" {
			t.Fatalf("chunk=%d: data %q", chunk, events[1].Frame)
		}
		if events[1].Pos != 0 || events[1].EndPos != 1024 {
			t.Fatalf("chunk=%d: pos %d..%d", chunk, events[1].Pos, events[1].EndPos)
		}
		if len(events) != 2 {
			t.Fatalf("chunk=%d: extra events %+v", chunk, events[2:])
		}
	}
}

func TestPacketSpanningPages(t *testing.T) {
	// A packet too large for one page must be continued on the next, and
	// come back out of the reader as a single packet.
	big := bytes.Repeat([]byte{0xAB}, 70000)
	file := writeStream(t, 7, []wpacket{
		{bytes: []byte("small"), endPos: 100, flush: true},
		{bytes: big, endPos: 200},
	})

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, 4096)

	var data [][]byte
	for _, e := range events {
		if e.Status == avpack.StatusData {
			data = append(data, e.Frame)
		}
	}
	if len(data) != 2 {
		t.Fatalf("got %d packets, want 2", len(data))
	}
	if string(data[0]) != "small" {
		t.Fatalf("first packet %q", data[0])
	}
	if !bytes.Equal(data[1], big) {
		t.Fatalf("reassembled packet has %d bytes, want %d", len(data[1]), len(big))
	}
}

func vorbisInfoPacket(rate uint32, channels byte) []byte {
	pkt := append([]byte("\x01vorbis"), make([]byte, 23)...)
	pkt[11] = channels
	binary.LittleEndian.PutUint32(pkt[12:16], rate)
	pkt[7+21] = 0xB8 // blocksize exponents
	pkt[7+22] = 1    // framing bit
	return pkt
}

func vorbisTagsPacket(recs []tag.Record) []byte {
	pkt := append([]byte("\x03vorbis"), vorbiscomment.Encode("testvendor", recs)...)
	return append(pkt, 1)
}

func TestCodecReaderVorbis(t *testing.T) {
	recs := []tag.Record{
		{ID: tag.Artist, Name: "ARTIST", Value: "artist"},
		{ID: tag.Title, Name: "TITLE", Value: "title"},
	}
	file := writeStream(t, 3, []wpacket{
		{bytes: vorbisInfoPacket(44100, 2), flush: true},
		{bytes: vorbisTagsPacket(recs), flush: true},
		{bytes: []byte("audio-one"), endPos: 512},
		{bytes: []byte("audio-two"), endPos: 1024},
	})

	c := NewCodecReader(avpack.Config{TotalSize: int64(len(file))})
	defer c.Close()
	events := drivetest.Read(t, c, file, len(file))

	if events[0].Status != avpack.StatusHeader {
		t.Fatalf("events %+v", events)
	}
	h := events[0].Header
	if h.Codec != "vorbis" || h.SampleRate != 44100 || h.Channels != 2 {
		t.Fatalf("header %+v", h)
	}
	if h.TotalSamples != 1024 {
		t.Fatalf("duration %d", h.TotalSamples)
	}

	var tags []tag.Record
	var data []string
	for _, e := range events[1:] {
		switch e.Status {
		case avpack.StatusMeta:
			tags = append(tags, e.Tag)
		case avpack.StatusData:
			if e.Pos != avpack.UndefinedPos {
				data = append(data, string(e.Frame))
			}
		}
	}
	if len(tags) != 3 || tags[0].ID != tag.Vendor || tags[1].Value != "artist" || tags[2].Value != "title" {
		t.Fatalf("tags %+v", tags)
	}
	if len(data) != 2 || data[0] != "audio-one" || data[1] != "audio-two" {
		t.Fatalf("audio packets %v", data)
	}
}

func TestSeekToGranule(t *testing.T) {
	var pkts []wpacket
	payload := bytes.Repeat([]byte{0x5A}, 600)
	for i := 1; i <= 50; i++ {
		pkts = append(pkts, wpacket{bytes: payload, endPos: uint64(i) * 1024, flush: true})
	}
	file := writeStream(t, 9, pkts)

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()

	var res avpack.Result
	pos := 0
	for {
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		if st == avpack.StatusHeader {
			break
		}
		switch st {
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusError:
			t.Fatalf("header: %v", res.Error.Err)
		case avpack.StatusMore:
			if pos >= len(file) {
				r.Finish()
			}
		}
	}

	const target = 30 * 1024
	r.Seek(target)
	for steps := 0; ; steps++ {
		if steps > 100000 {
			t.Fatal("seek did not converge")
		}
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		switch st {
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusData:
			if res.Frame.Pos > target {
				t.Fatalf("first packet after seek starts at %d, past %d", res.Frame.Pos, target)
			}
			return
		case avpack.StatusError:
			t.Fatalf("seek: %v", res.Error.Err)
		case avpack.StatusMore:
			if pos >= len(file) {
				r.Finish()
			}
		}
	}
}
