package avpack_test

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/format/wav"
)

// Example writes a tiny WAV stream and reads it back, driving both state
// machines through the push protocol: feed bytes, react to the returned
// status, reposition on seek requests.
func Example() {
	w := wav.NewWriter(wav.Info{SampleRate: 48000, Channels: 2, Bits: 16})
	defer w.Close()

	var file []byte
	cursor := 0
	frame := avpack.Frame{Bytes: []byte("1234")}
	for {
		var res avpack.Result
		st := w.Process(&frame, avpack.Last, &res)
		if st == avpack.StatusFin {
			break
		}
		switch st {
		case avpack.StatusData:
			end := cursor + len(res.Frame.Bytes)
			if end > len(file) {
				file = append(file, make([]byte, end-len(file))...)
			}
			copy(file[cursor:], res.Frame.Bytes)
			cursor = end
		case avpack.StatusSeek:
			cursor = int(res.SeekOffset)
		}
	}

	r := wav.NewReader(avpack.Config{TotalSize: int64(len(file))})
	defer r.Close()
	pos := 0
	for {
		var res avpack.Result
		consumed, st := r.Process(file[pos:], &res)
		pos += consumed
		switch st {
		case avpack.StatusHeader:
			fmt.Printf("header: %d Hz, %d channels, %d bits\n",
				res.Header.SampleRate, res.Header.Channels, res.Header.Bits)
		case avpack.StatusData:
			fmt.Printf("data: %q\n", res.Frame.Bytes)
		case avpack.StatusSeek:
			pos = int(res.SeekOffset)
		case avpack.StatusMore:
			r.Finish()
		case avpack.StatusFin:
			fmt.Println("done")
			return
		}
	}

	// Output:
	// header: 48000 Hz, 2 channels, 16 bits
	// data: "1234"
	// done
}
