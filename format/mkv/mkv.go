// Package mkv implements a push-model reader for Matroska/WebM files:
// EBML element traversal, track and tag parsing, and Cluster block
// delivery with Xiph/EBML/fixed lacing expanded.
package mkv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/container"
	"github.com/pchchv/avpack/internal/ebmlvarint"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/matroskatag"
)

// Element semantic tags.
const (
	tSegment = iota + 1
	tDocType
	tScale
	tDuration
	tTitle
	tTracks
	tTrackEntry
	tTrackNumber
	tTrackType
	tCodecID
	tCodecPrivate
	tAudioRate
	tAudioChannels
	tAudioBits
	tTag
	tSimpleTag
	tTagName
	tTagString
	tTagBinary
	tCluster
	tTimecode
	tBlock
	tSimpleBlock
	tBlockGroup
)

var segmentTable = []container.Descriptor{
	{ID: 0x1549A966, Name: "Info", Flags: container.IsContainer, Priority: 1, Children: []container.Descriptor{
		{ID: 0x2AD7B1, Name: "TimecodeScale", Flags: container.GatherWhole, Tag: tScale},
		{ID: 0x7BA9, Name: "Title", Flags: container.GatherWhole, Tag: tTitle},
		{ID: 0x4489, Name: "Duration", Flags: container.GatherWhole, Tag: tDuration},
	}},
	{ID: 0x1654AE6B, Name: "Tracks", Flags: container.IsContainer, Priority: 2, Tag: tTracks, Children: []container.Descriptor{
		{ID: 0xAE, Name: "TrackEntry", Flags: container.IsContainer, Tag: tTrackEntry, Children: []container.Descriptor{
			{ID: 0xD7, Name: "TrackNumber", Flags: container.GatherWhole, Tag: tTrackNumber},
			{ID: 0x83, Name: "TrackType", Flags: container.GatherWhole, Tag: tTrackType},
			{ID: 0x86, Name: "CodecID", Flags: container.GatherWhole, Tag: tCodecID},
			{ID: 0x63A2, Name: "CodecPrivate", Flags: container.GatherWhole, Tag: tCodecPrivate},
			{ID: 0xE1, Name: "Audio", Flags: container.IsContainer, Children: []container.Descriptor{
				{ID: 0xB5, Name: "SamplingFrequency", Flags: container.GatherWhole, Tag: tAudioRate},
				{ID: 0x9F, Name: "Channels", Flags: container.GatherWhole, Tag: tAudioChannels},
				{ID: 0x6264, Name: "BitDepth", Flags: container.GatherWhole, Tag: tAudioBits},
			}},
		}},
	}},
	{ID: 0x1254C367, Name: "Tags", Flags: container.IsContainer, Children: []container.Descriptor{
		{ID: 0x7373, Name: "Tag", Flags: container.IsContainer, Tag: tTag, Children: []container.Descriptor{
			{ID: 0x67C8, Name: "SimpleTag", Flags: container.IsContainer, Tag: tSimpleTag, Children: []container.Descriptor{
				{ID: 0x45A3, Name: "TagName", Flags: container.GatherWhole, Tag: tTagName},
				{ID: 0x4487, Name: "TagString", Flags: container.GatherWhole, Tag: tTagString},
				{ID: 0x4485, Name: "TagBinary", Flags: container.GatherWhole, Tag: tTagBinary},
			}},
		}},
	}},
	{ID: 0x1F43B675, Name: "Cluster", Flags: container.IsContainer, Priority: 3, Tag: tCluster, Children: []container.Descriptor{
		{ID: 0xE7, Name: "Timecode", Flags: container.GatherWhole, Tag: tTimecode},
		{ID: 0xA3, Name: "SimpleBlock", Flags: container.GatherWhole, Tag: tSimpleBlock},
		{ID: 0xA0, Name: "BlockGroup", Flags: container.IsContainer, Tag: tBlockGroup, Children: []container.Descriptor{
			{ID: 0xA1, Name: "Block", Flags: container.GatherWhole, Tag: tBlock},
		}},
	}},
}

var rootTable = []container.Descriptor{
	{ID: 0x1A45DFA3, Name: "EBMLHead", Flags: container.IsContainer | container.Unique, Priority: 1, Children: []container.Descriptor{
		{ID: 0x4282, Name: "DocType", Flags: container.GatherWhole, Tag: tDocType},
	}},
	{ID: 0x18538067, Name: "Segment", Flags: container.IsContainer, Priority: 2, Tag: tSegment, Children: segmentTable},
}

// parseElemHeader decodes an EBML element header: a variable-length id
// followed by a variable-length size, gathered incrementally through the
// engine's header-extension mechanism.
func parseElemHeader(hdr []byte) (container.Header, error) {
	idLen := ebmlvarint.Len(hdr)
	if idLen == 0 {
		return container.Header{}, fmt.Errorf("mkv: %w", ebmlvarint.ErrInvalid)
	}
	if len(hdr) < idLen+1 {
		return container.Header{Ext: idLen + 1 - len(hdr)}, nil
	}
	szLen := ebmlvarint.Len(hdr[idLen:])
	if szLen == 0 {
		return container.Header{}, fmt.Errorf("mkv: %w", ebmlvarint.ErrInvalid)
	}
	if len(hdr) < idLen+szLen {
		return container.Header{Ext: idLen + szLen - len(hdr)}, nil
	}
	id, _, err := ebmlvarint.DecodeID(hdr)
	if err != nil {
		return container.Header{}, err
	}
	size, _, err := ebmlvarint.DecodeSize(hdr[idLen:])
	if err != nil {
		return container.Header{}, err
	}
	return container.Header{ID: id, Size: size}, nil
}

// ebmlUint decodes a 1..8 byte big-endian integer element.
func ebmlUint(d []byte) uint64 {
	var v uint64
	for _, b := range d {
		v = v<<8 | uint64(b)
	}
	return v
}

// ebmlFloat decodes a 4- or 8-byte float element.
func ebmlFloat(d []byte) float64 {
	switch len(d) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(d)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(d))
	default:
		return 0
	}
}

// codecName maps a Matroska codec id onto this module's codec names.
func codecName(id string) string {
	switch {
	case id == "A_VORBIS":
		return "vorbis"
	case id == "A_OPUS":
		return "opus"
	case id == "A_FLAC":
		return "flac"
	case id == "A_ALAC":
		return "alac"
	case id == "A_AAC" || strings.HasPrefix(id, "A_AAC/"):
		return "aac"
	case id == "A_MPEG/L3":
		return "mpeg1"
	case strings.HasPrefix(id, "A_PCM/"):
		return "pcm"
	default:
		return strings.ToLower(id)
	}
}

var errBadLacing = errors.New("mkv: bad lacing frame size")

// parseLacing expands a block's lacing header into per-frame sizes
// (nframes-1 entries; the last frame takes the remainder).
func parseLacing(d []byte, mode byte) (sizes []int, n int, err error) {
	if len(d) < 1 {
		return nil, 0, errBadLacing
	}
	nframes := int(d[0])
	i := 1
	sizes = make([]int, 0, nframes)
	switch mode {
	case 0x02: // Xiph: 255-continued byte sums
		for k := 0; k < nframes; k++ {
			sz := 0
			for {
				if i >= len(d) {
					return nil, 0, errBadLacing
				}
				sz += int(d[i])
				last := d[i] != 255
				i++
				if last {
					break
				}
			}
			sizes = append(sizes, sz)
		}
	case 0x04: // fixed: the remainder split evenly over nframes+1 frames
		total := len(d) - 1
		per := total / (nframes + 1)
		for k := 0; k < nframes; k++ {
			sizes = append(sizes, per)
		}
	case 0x06: // EBML: first size plain, then signed deltas
		v, vn, verr := ebmlvarint.DecodeSize(d[i:])
		if verr != nil || v < 0 {
			return nil, 0, errBadLacing
		}
		i += vn
		sizes = append(sizes, int(v))
		prev := int64(v)
		for k := 1; k < nframes; k++ {
			dv, dn, derr := ebmlvarint.DecodeSize(d[i:])
			if derr != nil {
				return nil, 0, errBadLacing
			}
			// Signed range: the raw value is biased around 2^(7l-1)-1.
			bias := int64(1)<<(7*uint(dn)-1) - 1
			prev += dv - bias
			if prev < 0 {
				return nil, 0, errBadLacing
			}
			i += dn
			sizes = append(sizes, int(prev))
		}
	default:
		return nil, 0, errBadLacing
	}
	return sizes, i, nil
}

// audioTrack accumulates one TrackEntry.
type audioTrack struct {
	number   uint64
	typ      uint64
	codecID  string
	priv     []byte
	rate     float64
	channels uint64
	bits     uint64
}

// Reader is a push-model Matroska reader delivering the first audio
// track's blocks.
type Reader struct {
	cfg avpack.Config
	eng *container.Engine

	scale     uint64 // timecode scale, nanoseconds per tick
	duration  float64
	title     string
	cur       *audioTrack
	audio     *audioTrack
	headerOut bool

	tagName  string
	tagValue string
	tagIsBin bool

	clusterTime uint64
	pendingTags []tag.Record
	tagIdx      int

	// Lacing state: frames carved out of the current block payload.
	blockData  []byte
	blockSizes []int
	blockIdx   int
	blockPos   uint64

	closed bool
}

// NewReader returns a Matroska reader ready to accept bytes from offset 0.
func NewReader(cfg avpack.Config) *Reader {
	return &Reader{
		cfg:   cfg,
		scale: 1000000,
		eng: container.New(container.Config{
			HeaderLen:   2,
			ParseHeader: parseElemHeader,
			TotalSize:   cfg.TotalSize,
			Seekable:    cfg.TotalSize != 0 && cfg.Flags&avpack.NoSeek == 0,
		}, rootTable),
	}
}

// Seek is unsupported: cue-point seeking is not modeled by this reader.
func (r *Reader) Seek(sampleIndex uint64) {}

// Finish tells the reader no more bytes will be fed.
func (r *Reader) Finish() {
	if r.eng != nil {
		r.eng.Finish()
	}
}

// Close releases internal buffers.
func (r *Reader) Close() error {
	r.closed = true
	r.eng = nil
	return nil
}

func (r *Reader) fail(out *avpack.Result, err error) avpack.Status {
	out.Error = avpack.ErrorInfo{Err: err, Offset: r.eng.Offset()}
	return avpack.StatusError
}

// Process consumes a prefix of in and reports the next result.
func (r *Reader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	if r.closed {
		out.Error = avpack.ErrorInfo{Err: avpack.ErrClosed}
		return 0, avpack.StatusError
	}
	total := 0
	for {
		if r.tagIdx < len(r.pendingTags) {
			out.Tag = r.pendingTags[r.tagIdx]
			r.tagIdx++
			return total, avpack.StatusMeta
		}
		if r.blockIdx < len(r.blockSizes) {
			return total, r.emitLacedFrame(out)
		}

		n, ev := r.eng.Process(in[total:])
		total += n
		switch ev {
		case container.EvMore:
			return total, avpack.StatusMore
		case container.EvSeek:
			out.SeekOffset = r.eng.SeekOffset()
			return total, avpack.StatusSeek
		case container.EvChunk:
			if st, emitted := r.onElement(out); emitted {
				return total, st
			}
		case container.EvPop:
			if st, emitted := r.onPop(out); emitted {
				return total, st
			}
		case container.EvWarning:
			out.Error = avpack.ErrorInfo{Err: r.eng.Err(), Offset: r.eng.Offset()}
			return total, avpack.StatusWarning
		case container.EvErr:
			return total, r.fail(out, r.eng.Err())
		case container.EvFin:
			return total, avpack.StatusFin
		}
	}
}

// onElement handles one gathered element.
func (r *Reader) onElement(out *avpack.Result) (avpack.Status, bool) {
	node := r.eng.Node()
	view := r.eng.View()
	switch node.Desc.Tag {
	case tDocType:
		dt := strings.TrimRight(string(view), "\x00")
		if dt != "matroska" && dt != "webm" {
			return r.fail(out, fmt.Errorf("mkv: doctype %q: %w", dt, avpack.ErrUnsupported)), true
		}

	case tScale:
		r.scale = ebmlUint(view)

	case tDuration:
		r.duration = ebmlFloat(view)

	case tTitle:
		r.title = string(view)

	case tTrackEntry:
		r.cur = &audioTrack{}

	case tTrackNumber:
		if r.cur != nil {
			r.cur.number = ebmlUint(view)
		}
	case tTrackType:
		if r.cur != nil {
			r.cur.typ = ebmlUint(view)
		}
	case tCodecID:
		if r.cur != nil {
			r.cur.codecID = string(view)
		}
	case tCodecPrivate:
		if r.cur != nil {
			r.cur.priv = append([]byte(nil), view...)
		}
	case tAudioRate:
		if r.cur != nil {
			r.cur.rate = ebmlFloat(view)
		}
	case tAudioChannels:
		if r.cur != nil {
			r.cur.channels = ebmlUint(view)
		}
	case tAudioBits:
		if r.cur != nil {
			r.cur.bits = ebmlUint(view)
		}

	case tSimpleTag:
		r.tagName, r.tagValue, r.tagIsBin = "", "", false
	case tTagName:
		r.tagName = string(view)
	case tTagString:
		r.tagValue = string(view)
	case tTagBinary:
		r.tagValue = string(view)
		r.tagIsBin = true

	case tCluster:
		if st, emitted := r.maybeHeader(out); emitted {
			return st, true
		}

	case tTimecode:
		r.clusterTime = ebmlUint(view)

	case tSimpleBlock, tBlock:
		if st, emitted := r.onBlock(out, view); emitted {
			return st, true
		}
	}
	return 0, false
}

// onPop fires element-close hooks.
func (r *Reader) onPop(out *avpack.Result) (avpack.Status, bool) {
	node := r.eng.Node()
	switch node.Desc.Tag {
	case tTrackEntry:
		if r.cur != nil && r.cur.typ == 2 && r.audio == nil {
			r.audio = r.cur
		}
		r.cur = nil
	case tSimpleTag:
		rec := matroskatag.Decode(r.tagName, r.tagValue)
		if r.tagIsBin {
			rec = tag.Record{ID: tag.Unknown, Name: r.tagName, Value: r.tagValue}
		}
		r.pendingTags = append(r.pendingTags, rec)
	case tSegment:
		return avpack.StatusFin, true
	}
	return 0, false
}

// maybeHeader emits the stream header once the first cluster begins.
func (r *Reader) maybeHeader(out *avpack.Result) (avpack.Status, bool) {
	if r.headerOut {
		return 0, false
	}
	if r.audio == nil {
		return r.fail(out, fmt.Errorf("mkv: %w: no audio track", avpack.ErrUnsupported)), true
	}
	r.headerOut = true
	t := r.audio
	rate := uint32(t.rate)
	var totalSamples uint64
	if r.duration > 0 && rate != 0 {
		ms := r.duration * float64(r.scale) / 1e6
		totalSamples = uint64(ms * float64(rate) / 1000)
	}
	out.Header = avpack.HeaderInfo{
		Codec:        codecName(t.codecID),
		SampleRate:   rate,
		Channels:     uint8(t.channels),
		Bits:         uint8(t.bits),
		TotalSamples: totalSamples,
		CodecConf:    t.priv,
	}
	return avpack.StatusHeader, true
}

// onBlock parses a Block/SimpleBlock payload: track number varint, 16-bit
// relative timestamp, flags, then the (possibly laced) frame data.
func (r *Reader) onBlock(out *avpack.Result, view []byte) (avpack.Status, bool) {
	if len(view) < 4 {
		return 0, false
	}
	tn, n, err := ebmlvarint.DecodeSize(view)
	if err != nil || tn < 0 {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("mkv: block track number: %w", avpack.ErrCorrupt), Offset: r.eng.Offset()}
		return avpack.StatusWarning, true
	}
	if r.audio == nil || uint64(tn) != r.audio.number {
		return 0, false
	}
	if len(view) < n+3 {
		return 0, false
	}
	relTime := int16(binary.BigEndian.Uint16(view[n : n+2]))
	flags := view[n+2]
	data := view[n+3:]

	timeMs := (int64(r.clusterTime) + int64(relTime)) * int64(r.scale) / 1e6
	pos := uint64(0)
	if rate := uint32(r.audio.rate); rate != 0 && timeMs > 0 {
		pos = uint64(timeMs) * uint64(rate) / 1000
	}

	lacingMode := flags & 0x06
	if lacingMode == 0 {
		out.Frame = avpack.Frame{Bytes: data, Pos: pos, EndPos: pos, Duration: 0}
		return avpack.StatusData, true
	}
	sizes, used, lerr := parseLacing(data, lacingMode)
	if lerr != nil {
		out.Error = avpack.ErrorInfo{Err: fmt.Errorf("mkv: %w: %v", avpack.ErrCorrupt, lerr), Offset: r.eng.Offset()}
		return avpack.StatusWarning, true
	}
	r.blockData = append(r.blockData[:0], data[used:]...)
	r.blockSizes = append(sizes, -1) // the final frame takes the remainder
	r.blockIdx = 0
	r.blockPos = pos
	return r.emitLacedFrame(out), true
}

// emitLacedFrame delivers the next frame of a laced block.
func (r *Reader) emitLacedFrame(out *avpack.Result) avpack.Status {
	sz := r.blockSizes[r.blockIdx]
	if sz < 0 || sz > len(r.blockData) {
		sz = len(r.blockData)
	}
	frame := r.blockData[:sz]
	r.blockData = r.blockData[sz:]
	r.blockIdx++
	if r.blockIdx >= len(r.blockSizes) {
		r.blockSizes = nil
		r.blockIdx = 0
	}
	out.Frame = avpack.Frame{Bytes: frame, Pos: r.blockPos, EndPos: r.blockPos, Duration: 0}
	return avpack.StatusData
}
