package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/container"
	"github.com/pchchv/avpack/internal/gather"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/mp4ilst"
)

// Box semantic tags bound to descriptor table entries.
const (
	tFtyp = iota + 1
	tMoov
	tMvhd
	tTrak
	tTkhd
	tMdhd
	tHdlr
	tStsd
	tStts
	tStsc
	tStsz
	tStco
	tCo64
	tMdat
	tMeta
	tIlstData   // data child of a named ilst item; Name carries the item id
	tItunesMean // "----" children
	tItunesName
	tItunesData
)

// ilstItems are the named ilst atoms this reader decodes.
var ilstItems = []string{
	"\xa9nam", "\xa9ART", "aART", "\xa9alb", "\xa9day", "\xa9wrt", "\xa9too",
	"\xa9cmt", "\xa9gen", "cprt", "disk", "trkn", "gnre", "covr",
}

func ilstChildren() []container.Descriptor {
	out := make([]container.Descriptor, 0, len(ilstItems)+1)
	for _, item := range ilstItems {
		out = append(out, container.Descriptor{
			ID:    container.FourCC(item),
			Name:  item,
			Flags: container.IsContainer,
			Children: []container.Descriptor{
				{ID: container.FourCC("data"), Name: item, Flags: container.GatherWhole, Tag: tIlstData},
			},
		})
	}
	out = append(out, container.Descriptor{
		ID:    container.FourCC("----"),
		Name:  "----",
		Flags: container.IsContainer,
		Children: []container.Descriptor{
			{ID: container.FourCC("mean"), Name: "mean", Flags: container.GatherWhole, Tag: tItunesMean},
			{ID: container.FourCC("name"), Name: "name", Flags: container.GatherWhole, Tag: tItunesName},
			{ID: container.FourCC("data"), Name: "data", Flags: container.GatherWhole, Tag: tItunesData},
		},
	})
	return out
}

var stblTable = []container.Descriptor{
	{ID: container.FourCC("stsd"), Name: "stsd", Flags: container.GatherWhole | container.Unique, MinSize: 8, Tag: tStsd},
	{ID: container.FourCC("stts"), Name: "stts", Flags: container.GatherWhole | container.Unique, MinSize: 8, Tag: tStts},
	{ID: container.FourCC("stsc"), Name: "stsc", Flags: container.GatherWhole | container.Unique, MinSize: 8, Tag: tStsc},
	{ID: container.FourCC("stsz"), Name: "stsz", Flags: container.GatherWhole | container.Unique, MinSize: 12, Tag: tStsz},
	{ID: container.FourCC("stco"), Name: "stco", Flags: container.GatherWhole | container.Unique, MinSize: 8, Tag: tStco},
	{ID: container.FourCC("co64"), Name: "co64", Flags: container.GatherWhole | container.Unique, MinSize: 8, Tag: tCo64},
}

var trakTable = []container.Descriptor{
	{ID: container.FourCC("tkhd"), Name: "tkhd", Flags: container.GatherWhole | container.Unique, MinSize: 4, Tag: tTkhd},
	{ID: container.FourCC("mdia"), Name: "mdia", Flags: container.IsContainer, Children: []container.Descriptor{
		{ID: container.FourCC("mdhd"), Name: "mdhd", Flags: container.GatherWhole | container.Unique, MinSize: 24, Tag: tMdhd},
		{ID: container.FourCC("hdlr"), Name: "hdlr", Flags: container.GatherWhole | container.Unique, MinSize: 12, Tag: tHdlr},
		{ID: container.FourCC("minf"), Name: "minf", Flags: container.IsContainer, Children: []container.Descriptor{
			{ID: container.FourCC("stbl"), Name: "stbl", Flags: container.IsContainer, Children: stblTable},
		}},
	}},
}

var rootTable = []container.Descriptor{
	{ID: container.FourCC("ftyp"), Name: "ftyp", Flags: container.GatherWhole | container.Unique, MinSize: 8, Priority: 1, Tag: tFtyp},
	{ID: container.FourCC("moov"), Name: "moov", Flags: container.IsContainer | container.Unique, Tag: tMoov, Children: []container.Descriptor{
		{ID: container.FourCC("mvhd"), Name: "mvhd", Flags: container.GatherWhole | container.Unique | container.Required, MinSize: 24, Tag: tMvhd},
		{ID: container.FourCC("trak"), Name: "trak", Flags: container.IsContainer, Tag: tTrak, Children: trakTable},
		{ID: container.FourCC("udta"), Name: "udta", Flags: container.IsContainer, Children: []container.Descriptor{
			{ID: container.FourCC("meta"), Name: "meta", Flags: container.IsContainer, MinSize: 4, Tag: tMeta, Children: []container.Descriptor{
				{ID: container.FourCC("ilst"), Name: "ilst", Flags: container.IsContainer, Children: ilstChildren()},
			}},
		}},
	}},
	{ID: container.FourCC("mdat"), Name: "mdat", Tag: tMdat},
}

// track accumulates one trak box's state until the trak pops.
type track struct {
	audio     bool
	codec     int
	fmt       aformat
	conf      []byte
	timescale uint32
	duration  uint64
	avgBrate  uint32

	sttsRaw   []byte
	stscRaw   []byte
	stszRaw   []byte
	sk        []samplePoint
	chunkOffs []uint64
	offsets   []int64 // absolute file offset per sample
	total     uint64
}

type rdState int

const (
	rsBoxes rdState = iota
	rsTags
	rsData
	rsDataBody
	rsDone
	rsErr
)

// Reader is a push-model MP4/M4A reader: it walks moov, builds the active
// audio track's sample map, then delivers frames by seek-and-read against
// the chunk offsets.
type Reader struct {
	cfg avpack.Config
	eng *container.Engine
	gb  *gather.Buffer

	cur    *track
	tracks []*track
	active *track

	mean, name  string
	pendingTags []tag.Record
	tagIdx      int

	encDelay   uint32
	endPadding uint32
	smpbTotal  uint64

	state     rdState
	isamp     int
	off       int64 // absolute offset of the data-phase gather front
	seekReq   bool
	seekTo    uint64
	headerOut bool
	fin       bool
	closed    bool
}

// NewReader returns an MP4 reader ready to accept bytes from offset 0.
func NewReader(cfg avpack.Config) *Reader {
	return &Reader{
		cfg: cfg,
		eng: container.New(container.Config{
			HeaderLen:   8,
			ParseHeader: parseBoxHeader,
			TotalSize:   cfg.TotalSize,
			Seekable:    cfg.TotalSize != 0 && cfg.Flags&avpack.NoSeek == 0,
		}, rootTable),
		gb: gather.New(0),
	}
}

// Seek records a deferred seek to sampleIndex (track timescale units).
func (r *Reader) Seek(sampleIndex uint64) {
	r.seekReq = true
	r.seekTo = sampleIndex
}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() {
	r.fin = true
	if r.eng != nil {
		r.eng.Finish()
	}
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.eng = nil
	r.gb = nil
	return nil
}

// atEOF reports that Finish was called and, when the total size is known,
// the data-phase cursor has really reached it (Finish may have fired at a
// previous visit to the file's tail before a back-seek).
func (r *Reader) atEOF() bool {
	if !r.fin {
		return false
	}
	return r.cfg.TotalSize == 0 || r.off+int64(r.gb.Len()) >= r.cfg.TotalSize
}

func (r *Reader) fail(out *avpack.Result, err error, off int64) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: off}
	r.state = rsErr
	return avpack.StatusError
}

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed || r.state == rsErr {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		switch r.state {
		case rsBoxes:
			n, ev := r.eng.Process(in[total:])
			total += n
			switch ev {
			case container.EvMore:
				return total, avpack.StatusMore
			case container.EvSeek:
				out.SeekOffset = r.eng.SeekOffset()
				return total, avpack.StatusSeek
			case container.EvChunk:
				if err := r.onBox(); err != nil {
					return total, r.fail(out, err, r.eng.Offset())
				}
			case container.EvPop:
				if st, emitted := r.onPop(out); emitted {
					return total, st
				}
			case container.EvWarning:
				out.Error = avpack.ErrorInfo{Err: r.eng.Err(), Offset: r.eng.Offset()}
				return total, avpack.StatusWarning
			case container.EvErr:
				return total, r.fail(out, mapErr(r.eng.Err()), r.eng.Offset())
			case container.EvFin:
				// moov never arrived before EOF.
				if !r.headerOut {
					return total, r.fail(out, fmt.Errorf("mp4: %w: no moov box", avpack.ErrTruncated), r.eng.Offset())
				}
				return total, avpack.StatusFin
			}

		case rsTags:
			if r.tagIdx < len(r.pendingTags) {
				out.Tag = r.pendingTags[r.tagIdx]
				r.tagIdx++
				return total, avpack.StatusMeta
			}
			r.pendingTags = nil
			r.state = rsData
			continue

		case rsData:
			t := r.active
			if r.seekReq {
				r.seekReq = false
				if idx := findSample(t.sk, r.seekTo); idx >= 0 {
					r.isamp = idx
				} else if r.seekTo == 0 {
					r.isamp = 0
				} else {
					return total, r.fail(out, fmt.Errorf("mp4: %w: sample %d outside the track", avpack.ErrNoSeek, r.seekTo), r.off)
				}
			}
			if r.isamp >= len(t.sk) {
				r.state = rsDone
				continue
			}
			want := t.offsets[r.isamp]
			if r.off != want {
				r.gb.Reset()
				r.off = want
				out.SeekOffset = want
				return total, avpack.StatusSeek
			}
			r.state = rsDataBody
			continue

		case rsDataBody:
			t := r.active
			size := int(t.sk[r.isamp].Size)
			n, view, err := r.gb.Gather(in[total:], size)
			total += n
			if err != nil {
				return total, r.fail(out, fmt.Errorf("mp4: %w", err), r.off)
			}
			if view == nil {
				if r.atEOF() {
					return total, r.fail(out, fmt.Errorf("mp4: sample %d: %w", r.isamp, avpack.ErrTruncated), r.off)
				}
				return total, avpack.StatusMore
			}
			pos := t.sk[r.isamp].AudioPos
			end := t.total
			if r.isamp+1 < len(t.sk) {
				end = t.sk[r.isamp+1].AudioPos
			}
			out.Frame = avpack.Frame{
				Bytes:    view,
				Pos:      pos,
				EndPos:   end,
				Duration: end - pos,
			}
			r.gb.Consume(size)
			r.off += int64(size)
			r.isamp++
			r.state = rsData
			return total, avpack.StatusData

		case rsDone:
			return total, avpack.StatusFin
		}
	}
}

// onBox handles one gathered box payload.
func (r *Reader) onBox() error {
	node := r.eng.Node()
	view := r.eng.View()
	switch node.Desc.Tag {
	case tMoov:
		// Descend only.

	case tTrak:
		r.cur = &track{}

	case tMvhd:
		// Movie-level timescale; track mdhd overrides for audio position.

	case tMdhd:
		if r.cur == nil {
			return nil
		}
		body := view[4:]
		if view[0] == 1 {
			if len(view) < 4+8+8+4+8 {
				return fmt.Errorf("%w: mdhd v1", errBadBox)
			}
			r.cur.timescale = binary.BigEndian.Uint32(body[16:20])
			r.cur.duration = binary.BigEndian.Uint64(body[20:28])
		} else {
			if len(view) < 4+4+4+4+4 {
				return fmt.Errorf("%w: mdhd v0", errBadBox)
			}
			r.cur.timescale = binary.BigEndian.Uint32(body[8:12])
			r.cur.duration = uint64(binary.BigEndian.Uint32(body[12:16]))
		}

	case tHdlr:
		if r.cur != nil && len(view) >= 12 && string(view[8:12]) == "soun" {
			r.cur.audio = true
		}

	case tStsd:
		if r.cur == nil {
			return nil
		}
		return r.parseStsdBox(view)

	case tStts:
		if r.cur != nil {
			r.cur.sttsRaw = append([]byte(nil), view[4:]...)
		}
	case tStsc:
		if r.cur != nil {
			r.cur.stscRaw = append([]byte(nil), view[4:]...)
		}
	case tStsz:
		if r.cur != nil {
			r.cur.stszRaw = append([]byte(nil), view[4:]...)
		}
	case tStco, tCo64:
		if r.cur == nil {
			return nil
		}
		offs, err := parseStco(view[4:], node.Desc.Tag == tCo64)
		if err != nil {
			return err
		}
		r.cur.offsets = nil
		r.cur.chunkOffs = offs

	case tIlstData:
		recs := mp4ilst.DecodeData(node.Desc.Name, view)
		r.pendingTags = append(r.pendingTags, recs...)

	case tItunesMean:
		if len(view) >= 4 {
			r.mean = string(view[4:])
		}
	case tItunesName:
		if len(view) >= 4 {
			r.name = string(view[4:])
		}
	case tItunesData:
		rec := mp4ilst.DecodeMeanNameData(r.mean, r.name, view)
		if r.name == "iTunSMPB" {
			if delay, padding, samples, ok := parseSmpb(rec.Value); ok {
				r.encDelay = delay
				r.endPadding = padding
				r.smpbTotal = samples
			}
		} else if rec.Name != "" {
			r.pendingTags = append(r.pendingTags, rec)
		}
	}
	return nil
}

// parseStsdBox decodes the sample description: the first (and only
// supported) entry box and, for mp4a, its nested esds.
func (r *Reader) parseStsdBox(view []byte) error {
	body := view[8:] // fullbox + entry count
	if len(body) < 8 {
		return fmt.Errorf("%w: stsd entry", errBadBox)
	}
	entrySize := int(binary.BigEndian.Uint32(body[0:4]))
	entryType := string(body[4:8])
	if entrySize < 8 || entrySize > len(body) {
		return fmt.Errorf("%w: stsd entry size %d", errBadBox, entrySize)
	}
	payload := body[8:entrySize]
	switch entryType {
	case "mp4a":
		f, n, err := parseAFmt(payload)
		if err != nil {
			return err
		}
		r.cur.fmt = f
		r.cur.codec = CodecAAC
		// esds follows the audio sample entry.
		rest := payload[n:]
		if len(rest) >= 8 && string(rest[4:8]) == "esds" {
			ac, err := parseEsds(rest[12:]) // box header + fullbox
			if err != nil {
				return err
			}
			if ac.Type == esdsDecMPEG1Audio {
				r.cur.codec = CodecMP3
			}
			r.cur.conf = append([]byte(nil), ac.Conf...)
			r.cur.avgBrate = ac.AvgBrate
		}
	case "alac":
		f, _, err := parseAFmt(payload)
		if err != nil {
			return err
		}
		r.cur.fmt = f
		r.cur.codec = CodecALAC
	case "avc1":
		r.cur.codec = CodecAVC1
	default:
		return fmt.Errorf("mp4: codec %q: %w", entryType, errUnsupportedCodec)
	}
	return nil
}

// onPop finalizes a trak's sample map when it closes and emits the header
// once moov closes.
func (r *Reader) onPop(out *avpack.Result) (avpack.Status, bool) {
	node := r.eng.Node()
	switch node.Desc.Tag {
	case tTrak:
		t := r.cur
		r.cur = nil
		if t == nil || !t.audio || t.stszRaw == nil || t.sttsRaw == nil || t.stscRaw == nil || t.chunkOffs == nil {
			return 0, false
		}
		if err := finishTrack(t); err != nil {
			return r.fail(out, err, r.eng.Offset()), true
		}
		r.tracks = append(r.tracks, t)

	case tMoov:
		for _, t := range r.tracks {
			if t.audio {
				r.active = t
				break
			}
		}
		if r.active == nil {
			return r.fail(out, fmt.Errorf("mp4: %w: no audio track", avpack.ErrUnsupported), r.eng.Offset()), true
		}
		t := r.active
		total := t.total
		if r.smpbTotal != 0 {
			total = r.smpbTotal
		}
		r.headerOut = true
		r.state = rsTags
		r.tagIdx = 0
		r.off = r.eng.Offset()
		out.Header = avpack.HeaderInfo{
			Codec:        codecName(t.codec),
			SampleRate:   sampleRate(t),
			Channels:     uint8(t.fmt.Channels),
			Bits:         uint8(t.fmt.Bits),
			TotalSamples: total,
			EncoderDelay: r.encDelay,
			EndPadding:   r.endPadding,
			CodecConf:    t.conf,
		}
		return avpack.StatusHeader, true
	}
	return 0, false
}

// sampleRate prefers the sample entry's rate, falling back to the media
// timescale.
func sampleRate(t *track) uint32 {
	if t.fmt.Rate != 0 {
		return t.fmt.Rate
	}
	return t.timescale
}

// finishTrack builds the sample map from the raw stbl boxes: sizes, audio
// positions, chunk ids, then an absolute file offset per sample.
func finishTrack(t *track) error {
	cnt, err := parseStsz(t.stszRaw, nil)
	if err != nil {
		return err
	}
	t.sk = make([]samplePoint, cnt)
	if _, err := parseStsz(t.stszRaw, t.sk); err != nil {
		return err
	}
	total, err := parseStts(t.sk, t.sttsRaw)
	if err != nil {
		return err
	}
	t.total = total
	if err := parseStsc(t.sk, t.stscRaw); err != nil {
		return err
	}
	t.offsets = make([]int64, cnt)
	var cur int64
	lastChunk := uint32(0xFFFFFFFF)
	for i := range t.sk {
		ch := t.sk[i].ChunkID
		if int(ch) >= len(t.chunkOffs) {
			return fmt.Errorf("%w: sample %d in chunk %d of %d", errBadBox, i, ch, len(t.chunkOffs))
		}
		if ch != lastChunk {
			cur = int64(t.chunkOffs[ch])
			lastChunk = ch
		}
		t.offsets[i] = cur
		cur += int64(t.sk[i].Size)
	}
	t.sttsRaw, t.stscRaw, t.stszRaw = nil, nil, nil
	return nil
}

var errUnsupportedCodec = errors.New("mp4: unsupported codec")

func mapErr(err error) error {
	switch {
	case errors.Is(err, container.ErrTruncated):
		return fmt.Errorf("%w: %v", avpack.ErrTruncated, err)
	case errors.Is(err, container.ErrMagic):
		return fmt.Errorf("%w: %v", avpack.ErrMagic, err)
	case errors.Is(err, container.ErrInvariant):
		return fmt.Errorf("%w: %v", avpack.ErrInvariant, err)
	default:
		return err
	}
}
