package mp4

import (
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/mp4ilst"
)

type wrState int

const (
	wHdr wrState = iota
	wFrames
	wMoov
	wMdatSeek
	wMdatPatch
	wDone
)

// WriterConfig describes the AAC stream an mp4.Writer will contain.
type WriterConfig struct {
	SampleRate uint32
	Channels   uint8
	Bits       uint8
	// FrameSamples is the constant frame length in samples (1024 for AAC
	// unless SBR doubles it).
	FrameSamples uint32
	// CodecConf is the AudioSpecificConfig; built from SampleRate and
	// Channels when nil.
	CodecConf []byte
	// EncoderDelay/EndPadding, when set, are written as an iTunSMPB tag.
	EncoderDelay uint32
	EndPadding   uint32
}

// Writer produces an MP4/M4A file from caller-supplied AAC frames: ftyp and
// an mdat that grows with each frame, then moov at the tail, then one
// seek-back to patch the mdat size.
type Writer struct {
	cfg   WriterConfig
	state wrState

	buf      []byte
	mdatOff  int64
	dataLen  uint64
	sizes    []uint32
	offsets  []uint64
	nsamples uint64

	ilstRecs            []tag.Record
	trackNo, trackTotal uint16

	fin    bool
	closed bool
}

// NewWriter returns an MP4 writer for the stream described by cfg.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.FrameSamples == 0 {
		cfg.FrameSamples = 1024
	}
	if cfg.CodecConf == nil {
		cfg.CodecConf = aacConfig(cfg.SampleRate, cfg.Channels)
	}
	return &Writer{cfg: cfg}
}

// AddTag queues one metadata field for the ilst box. TrackNo and TrackTotal
// are merged into a single trkn atom at finalize time.
func (w *Writer) AddTag(id tag.ID, name, value string) {
	switch id {
	case tag.TrackNo:
		w.trackNo = uint16(atoi(value))
	case tag.TrackTotal:
		w.trackTotal = uint16(atoi(value))
	default:
		w.ilstRecs = append(w.ilstRecs, tag.Record{ID: id, Name: name, Value: value})
	}
}

// Close releases the writer's buffers.
func (w *Writer) Close() error {
	w.closed = true
	w.buf = nil
	return nil
}

// Process accepts one AAC frame and returns the next chunk of file bytes;
// after the Last flag it writes moov and patches the mdat size.
func (w *Writer) Process(frame *avpack.Frame, flags avpack.WriteFlags, out *avpack.Result) avpack.Status {
	if w.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return avpack.StatusError
	}
	if flags&avpack.Last != 0 {
		w.fin = true
	}
	for {
		switch w.state {
		case wHdr:
			w.buf = w.buf[:0]
			w.buf = box(w.buf, "ftyp", []byte("M4A \x00\x00\x02\x00M4A mp42isom"))
			w.mdatOff = int64(len(w.buf))
			w.buf = append(w.buf, 0, 0, 0, 0, 'm', 'd', 'a', 't')
			w.state = wFrames
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wFrames:
			if len(frame.Bytes) == 0 {
				if !w.fin {
					return avpack.StatusMore
				}
				w.state = wMoov
				continue
			}
			dur := frame.Duration
			if dur == 0 {
				dur = uint64(w.cfg.FrameSamples)
			}
			w.sizes = append(w.sizes, uint32(len(frame.Bytes)))
			w.offsets = append(w.offsets, uint64(w.mdatOff)+8+w.dataLen)
			w.dataLen += uint64(len(frame.Bytes))
			w.nsamples += dur
			out.Frame = avpack.Frame{Bytes: frame.Bytes}
			frame.Bytes = nil
			if w.fin {
				w.state = wMoov
			}
			return avpack.StatusData

		case wMoov:
			w.buf = w.moov(w.buf[:0])
			w.state = wMdatSeek
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wMdatSeek:
			if w.dataLen+8 > 0xFFFFFFFF {
				out.Error = avpack.ErrorInfo{Err: fmt.Errorf("mp4: %w: mdat exceeds 4 GiB", avpack.ErrUnsupported)}
				return avpack.StatusError
			}
			w.state = wMdatPatch
			out.SeekOffset = w.mdatOff
			return avpack.StatusSeek

		case wMdatPatch:
			w.buf = w.buf[:0]
			var sz [4]byte
			binary.BigEndian.PutUint32(sz[:], uint32(8+w.dataLen))
			w.buf = append(w.buf, sz[:]...)
			w.buf = append(w.buf, "mdat"...)
			w.state = wDone
			out.Frame = avpack.Frame{Bytes: w.buf}
			return avpack.StatusData

		case wDone:
			return avpack.StatusFin
		}
	}
}

// moov assembles the complete movie box from the accumulated tables.
func (w *Writer) moov(dst []byte) []byte {
	rate := w.cfg.SampleRate

	var mvhd []byte
	mvhd = appendU32(mvhd, 0, 0, rate, uint32(w.nsamples))
	mvhd = append(mvhd, make([]byte, 80)...)

	var tkhd []byte
	tkhd = appendU32(tkhd, 0, 0, 1, 0, uint32(w.nsamples))
	tkhd = append(tkhd, make([]byte, 60)...)

	var mdhd []byte
	mdhd = appendU32(mdhd, 0, 0, rate, uint32(w.nsamples))
	mdhd = append(mdhd, 0, 0, 0, 0)

	hdlr := make([]byte, 20)
	copy(hdlr[4:8], "soun")

	stsd := w.stsd()
	stts := w.stts()
	stsc := appendU32(nil, 1, 1, 1, 1) // count, first chunk, one sample per chunk, desc index
	stsz := w.stsz()
	stco := w.stco()

	var stbl []byte
	stbl = fullbox(stbl, "stsd", 0, stsd)
	stbl = fullbox(stbl, "stts", 0, stts)
	stbl = fullbox(stbl, "stsc", 0, stsc)
	stbl = fullbox(stbl, "stsz", 0, stsz)
	stbl = fullbox(stbl, "stco", 0, stco)

	var dref []byte
	dref = appendU32(dref, 1)
	dref = box(dref, "url ", []byte{0, 0, 0, 1}) // self-contained data reference

	var minf []byte
	minf = fullbox(minf, "smhd", 0, []byte{0, 0, 0, 0})
	minf = box(minf, "dinf", fullbox(nil, "dref", 0, dref))
	minf = box(minf, "stbl", stbl)

	var mdia []byte
	mdia = fullbox(mdia, "mdhd", 0, mdhd)
	mdia = fullbox(mdia, "hdlr", 0, hdlr)
	mdia = box(mdia, "minf", minf)

	var trak []byte
	trak = fullbox(trak, "tkhd", 0, tkhd)
	trak = box(trak, "mdia", mdia)

	var moov []byte
	moov = fullbox(moov, "mvhd", 0, mvhd)
	moov = box(moov, "trak", trak)
	if udta := w.udta(); udta != nil {
		moov = box(moov, "udta", udta)
	}
	return box(dst, "moov", moov)
}

// stsd builds the sample description payload (after the fullbox header):
// entry count and one mp4a entry with a nested esds.
func (w *Writer) stsd() []byte {
	var entry []byte
	entry = writeAFmt(entry, aformat{
		Channels: uint16(w.cfg.Channels),
		Bits:     uint16(w.cfg.Bits),
		Rate:     w.cfg.SampleRate,
	})
	entry = box(entry, "esds", writeEsds(nil, acodec{
		Type: esdsDecMPEG4Audio,
		Conf: w.cfg.CodecConf,
	}))
	var out []byte
	out = appendU32(out, 1)
	return box(out, "mp4a", entry)
}

// stts encodes the constant frame length, with one remainder entry when the
// total is not a multiple.
func (w *Writer) stts() []byte {
	fl := uint64(w.cfg.FrameSamples)
	full := w.nsamples / fl
	rem := w.nsamples % fl
	cnt := uint32(0)
	var ents []byte
	if full != 0 {
		ents = appendU32(ents, uint32(full), uint32(fl))
		cnt++
	}
	if rem != 0 {
		ents = appendU32(ents, 1, uint32(rem))
		cnt++
	}
	return append(appendU32(nil, cnt), ents...)
}

func (w *Writer) stsz() []byte {
	out := appendU32(nil, 0, uint32(len(w.sizes)))
	for _, s := range w.sizes {
		out = appendU32(out, s)
	}
	return out
}

func (w *Writer) stco() []byte {
	out := appendU32(nil, uint32(len(w.offsets)))
	for _, o := range w.offsets {
		out = appendU32(out, uint32(o))
	}
	return out
}

// udta builds udta(meta(hdlr ilst(...))) from the queued tags, or nil when
// there are none.
func (w *Writer) udta() []byte {
	if len(w.ilstRecs) == 0 && w.trackNo == 0 && w.cfg.EncoderDelay == 0 && w.cfg.EndPadding == 0 {
		return nil
	}
	var ilst []byte
	for _, r := range w.ilstRecs {
		fourCC, ok := itemForTag(r.ID)
		if !ok {
			continue
		}
		ilst = box(ilst, fourCC, box(nil, "data", mp4ilst.EncodeData(r.Value)))
	}
	if w.trackNo != 0 || w.trackTotal != 0 {
		ilst = box(ilst, "trkn", box(nil, "data", mp4ilst.EncodeTrkn(w.trackNo, w.trackTotal)))
	}
	if w.cfg.EncoderDelay != 0 || w.cfg.EndPadding != 0 {
		var inner []byte
		inner = box(inner, "mean", append([]byte{0, 0, 0, 0}, "com.apple.iTunes"...))
		inner = box(inner, "name", append([]byte{0, 0, 0, 0}, "iTunSMPB"...))
		inner = box(inner, "data", mp4ilst.EncodeData(smpbValue(w.nsamples, w.cfg.EncoderDelay, w.cfg.EndPadding)))
		ilst = box(ilst, "----", inner)
	}

	hdlr := make([]byte, 24)
	copy(hdlr[4:8], "mdir")
	copy(hdlr[8:12], "appl")

	var meta []byte
	meta = fullbox(meta, "hdlr", 0, hdlr)
	meta = box(meta, "ilst", ilst)
	metaBody := append([]byte{0, 0, 0, 0}, meta...)
	return box(nil, "meta", metaBody)
}

// itemForTag maps a normalized tag id to its ilst atom.
func itemForTag(id tag.ID) (string, bool) {
	switch id {
	case tag.Title:
		return "\xa9nam", true
	case tag.Artist:
		return "\xa9ART", true
	case tag.AlbumArtist:
		return "aART", true
	case tag.Album:
		return "\xa9alb", true
	case tag.Date:
		return "\xa9day", true
	case tag.Composer:
		return "\xa9wrt", true
	case tag.Encoder:
		return "\xa9too", true
	case tag.Comment:
		return "\xa9cmt", true
	case tag.Genre:
		return "\xa9gen", true
	case tag.Copyright:
		return "cprt", true
	default:
		return "", false
	}
}

// smpbValue renders the iTunSMPB payload: leading space, hex fields for
// delay, padding, and the true sample count, then the customary zero runs.
func smpbValue(total uint64, delay, padding uint32) string {
	samples := total - uint64(delay) - uint64(padding)
	return fmt.Sprintf(" 00000000 %08X %08X %016X 00000000 00000000 00000000 00000000 00000000 00000000 00000000 00000000",
		delay, padding, samples)
}

// aacConfig builds a two-byte AAC-LC AudioSpecificConfig.
func aacConfig(rate uint32, channels uint8) []byte {
	freqIdx := byte(15)
	for i, r := range aacRates {
		if r == rate {
			freqIdx = byte(i)
			break
		}
	}
	b0 := byte(2)<<3 | freqIdx>>1 // object type AAC-LC
	b1 := freqIdx<<7 | channels<<3
	return []byte{b0, b1}
}

var aacRates = [13]uint32{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

func appendU32(dst []byte, vals ...uint32) []byte {
	for _, v := range vals {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		dst = append(dst, b[:]...)
	}
	return dst
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}
