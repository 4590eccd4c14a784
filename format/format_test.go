package format

import (
	"testing"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/internal/drivetest"
	"github.com/pchchv/avpack/tag"
)

func TestDetectAndReadWAV(t *testing.T) {
	w, err := NewWriter(avpack.FormatWAV, WriterInfo{SampleRate: 48000, Channels: 2, Bits: 16})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if tw, ok := w.(TagWriter); ok {
		tw.AddTag(tag.Title, "", "title")
	} else {
		t.Fatal("the WAV writer should accept tags")
	}
	file := drivetest.Write(t, w, []drivetest.WFrame{{Bytes: []byte("1234")}})

	r, f, err := Detect(file, avpack.Config{TotalSize: int64(len(file))})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if f != avpack.FormatWAV {
		t.Fatalf("detected %v", f)
	}
	events := drivetest.Read(t, r, file, 3)
	if len(events) == 0 || events[0].Status != avpack.StatusHeader {
		t.Fatalf("events %+v", events)
	}
	if events[0].Header.SampleRate != 48000 {
		t.Fatalf("header %+v", events[0].Header)
	}
	var data []byte
	sawTitle := false
	for _, e := range events[1:] {
		switch e.Status {
		case avpack.StatusData:
			data = append(data, e.Frame...)
		case avpack.StatusMeta:
			sawTitle = sawTitle || e.Tag.ID == tag.Title
		}
	}
	if string(data) != "1234" || !sawTitle {
		t.Fatalf("data %q, title=%v", data, sawTitle)
	}
}

func TestDetectUnknown(t *testing.T) {
	if _, _, err := Detect([]byte("garbage everywhere"), avpack.Config{}); err == nil {
		t.Fatal("expected a detection error")
	}
}

func TestEveryFormatOpens(t *testing.T) {
	formats := []avpack.Format{
		avpack.FormatFLAC, avpack.FormatWAV, avpack.FormatMPEG1,
		avpack.FormatADTS, avpack.FormatOGG, avpack.FormatMP4,
		avpack.FormatAPE, avpack.FormatMKV, avpack.FormatAVI,
		avpack.FormatCAF, avpack.FormatTS, avpack.FormatWavPack,
		avpack.FormatBMP, avpack.FormatPNG, avpack.FormatJPEG,
	}
	for _, f := range formats {
		r, err := NewReader(f, avpack.Config{})
		if err != nil {
			t.Fatalf("%v: %v", f, err)
		}
		r.Close()
	}
	if _, err := NewReader(avpack.FormatUnknown, avpack.Config{}); err == nil {
		t.Fatal("unknown format should not open")
	}
}
