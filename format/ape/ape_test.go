package ape

import (
	"encoding/binary"
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/apev2"
)

// buildFile assembles a minimal .ape file: descriptor, header, a two-entry
// block table, two blocks, and a trailing APEv2 tag.
func buildFile(t *testing.T) (file []byte, blockData [][]byte) {
	t.Helper()
	desc := make([]byte, descSize)
	copy(desc[0:4], "MAC ")
	binary.LittleEndian.PutUint16(desc[4:6], 3990)
	binary.LittleEndian.PutUint32(desc[8:12], descSize)
	binary.LittleEndian.PutUint32(desc[12:16], hdrMinSize)
	binary.LittleEndian.PutUint32(desc[16:20], 8) // two seek points

	hdr := make([]byte, hdrMinSize)
	binary.LittleEndian.PutUint32(hdr[4:8], 1024)  // frame blocks
	binary.LittleEndian.PutUint32(hdr[8:12], 512)  // last frame blocks
	binary.LittleEndian.PutUint32(hdr[12:16], 2)   // total frames
	binary.LittleEndian.PutUint16(hdr[16:18], 16)  // bps
	binary.LittleEndian.PutUint16(hdr[18:20], 2)   // channels
	binary.LittleEndian.PutUint32(hdr[20:24], 44100)

	dataStart := uint32(descSize + hdrMinSize + 8)
	block1 := []byte("block-one!!!") // 12 bytes keeps the table aligned
	block2 := []byte("block-two-data")
	seektab := make([]byte, 8)
	binary.LittleEndian.PutUint32(seektab[0:4], dataStart)
	binary.LittleEndian.PutUint32(seektab[4:8], dataStart+uint32(len(block1)))

	file = append(file, desc...)
	file = append(file, hdr...)
	file = append(file, seektab...)
	file = append(file, block1...)
	file = append(file, block2...)
	file = append(file, apev2.Encode([]tag.Record{
		{ID: tag.Artist, Name: "Artist", Value: "artist"},
	})...)
	return file, [][]byte{block1, block2}
}

func TestReadBlocksAndTags(t *testing.T) {
	file, blocks := buildFile(t)

	r := NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	events := drivetest.Read(t, r, file, len(file))

	var header *avpack.HeaderInfo
	var tags []tag.Record
	var data [][]byte
	var pos []uint64
	for i := range events {
		e := events[i]
		switch e.Status {
		case avpack.StatusHeader:
			h := e.Header
			header = &h
		case avpack.StatusMeta:
			tags = append(tags, e.Tag)
		case avpack.StatusData:
			data = append(data, e.Frame)
			pos = append(pos, e.Pos)
		case avpack.StatusError:
			t.Fatalf("error: %v", e.Err)
		}
	}
	if header == nil || header.SampleRate != 44100 || header.Channels != 2 || header.Bits != 16 {
		t.Fatalf("header %+v", header)
	}
	if header.TotalSamples != 1024+512 {
		t.Fatalf("total samples %d", header.TotalSamples)
	}
	if len(tags) != 1 || tags[0].ID != tag.Artist || tags[0].Value != "artist" {
		t.Fatalf("tags %+v", tags)
	}
	if len(data) != 2 {
		t.Fatalf("%d blocks, want 2", len(data))
	}
	if string(data[0]) != string(blocks[0]) {
		t.Fatalf("block 1 = %q", data[0])
	}
	if pos[0] != 0 || pos[1] != 1024 {
		t.Fatalf("positions %v", pos)
	}
	if events[len(events)-1].Status == avpack.StatusError {
		t.Fatal("unexpected trailing error")
	}
}

func TestSeekToBlock(t *testing.T) {
	file, _ := buildFile(t)
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
	r.Seek(1024)
	for steps := 0; steps < 1000; steps++ {
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		switch st {
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusData:
			if res.Frame.Pos != 1024 {
				t.Fatalf("block pos %d, want 1024", res.Frame.Pos)
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
	t.Fatal("seek made no progress")
}
