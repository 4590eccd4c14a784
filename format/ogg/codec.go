package ogg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/format/flac"
	"github.com/pchchv/avpack/tag"
	"github.com/pchchv/avpack/tag/vorbiscomment"
)

// CodecReader wraps Reader and inspects each logical stream's header
// packets: the first packet picks the codec (Vorbis, Opus, embedded FLAC)
// and yields a normalized stream header; tags packets are decoded into
// META records; everything else passes through as DATA.
type CodecReader struct {
	r     *Reader
	codec string

	serialSet bool
	serial    uint32

	rate     uint32
	channels uint8
	bits     uint8
	preskip  uint32

	pendingTags []tag.Record
	tagIdx      int
	pendingConf []byte
	headerSent  bool
}

// NewCodecReader returns a codec-detecting OGG reader.
func NewCodecReader(cfg avpack.Config) *CodecReader {
	return &CodecReader{r: NewReader(cfg)}
}

// Seek records a deferred seek to sampleIndex.
func (c *CodecReader) Seek(sampleIndex uint64) { c.r.Seek(sampleIndex) }

// Finish tells the reader no more bytes will be fed.
func (c *CodecReader) Finish() { c.r.Finish() }

// Close releases internal buffers.
func (c *CodecReader) Close() error { return c.r.Close() }

// Process consumes a prefix of in and reports the next result.
func (c *CodecReader) Process(in []byte, out *avpack.Result) (int, avpack.Status) {
	total := 0
	for {
		if c.tagIdx < len(c.pendingTags) {
			out.Tag = c.pendingTags[c.tagIdx]
			c.tagIdx++
			return total, avpack.StatusMeta
		}
		if c.pendingConf != nil {
			out.Frame = avpack.Frame{
				Bytes:  c.pendingConf,
				Pos:    avpack.UndefinedPos,
				EndPos: avpack.UndefinedPos,
			}
			c.pendingConf = nil
			return total, avpack.StatusData
		}

		n, st := c.r.Process(in[total:], out)
		total += n
		if st != avpack.StatusData && st != avpack.StatusHeader {
			return total, st
		}
		if st == avpack.StatusHeader {
			// The page layer's header only carries the stream length; the
			// real header is derived from the first packet below.
			continue
		}
		if out.Frame.Pos != avpack.UndefinedPos {
			return total, avpack.StatusData
		}
		st2, emitted, err := c.onHeaderPacket(out)
		if err != nil {
			out.Error = avpack.ErrorInfo{Err: err}
			return total, avpack.StatusError
		}
		if emitted {
			return total, st2
		}
	}
}

// onHeaderPacket classifies one header-page packet.
func (c *CodecReader) onHeaderPacket(out *avpack.Result) (avpack.Status, bool, error) {
	pkt := out.Frame.Bytes
	if !c.serialSet || c.serial != c.r.Serial() {
		// First packet of a new logical stream.
		c.serialSet = true
		c.serial = c.r.Serial()
		c.codec = ""
	}

	if c.codec == "" {
		return c.identify(pkt, out)
	}

	switch c.codec {
	case "vorbis":
		if len(pkt) >= 7 && bytes.HasPrefix(pkt, []byte("\x03vorbis")) {
			if recs, err := vorbiscomment.Decode(pkt[7 : len(pkt)-1]); err == nil {
				c.queueTags(recs)
				return 0, false, nil
			}
		}
	case "opus":
		if bytes.HasPrefix(pkt, []byte("OpusTags")) {
			if recs, err := vorbiscomment.Decode(pkt[8:]); err == nil {
				c.queueTags(recs)
				return 0, false, nil
			}
		}
	case "flac":
		if len(pkt) >= 4 && pkt[0]&0x7F == 4 {
			if recs, err := vorbiscomment.Decode(pkt[4:]); err == nil {
				c.queueTags(recs)
				return 0, false, nil
			}
		}
		// Other embedded metadata blocks are not modeled.
		return 0, false, nil
	}

	// Remaining header packets (codec setup) pass through unchanged.
	return avpack.StatusData, true, nil
}

// identify decodes the first packet of a logical stream into a normalized
// header.
func (c *CodecReader) identify(pkt []byte, out *avpack.Result) (avpack.Status, bool, error) {
	switch {
	case bytes.HasPrefix(pkt, []byte("\x01vorbis")):
		if len(pkt) < 7+23 || binary.LittleEndian.Uint32(pkt[7:11]) != 0 || pkt[7+22]&1 != 1 {
			return 0, false, fmt.Errorf("ogg: bad Vorbis identification header: %w", avpack.ErrCorrupt)
		}
		c.codec = "vorbis"
		c.channels = pkt[11]
		c.rate = binary.LittleEndian.Uint32(pkt[12:16])
		if c.channels == 0 || c.rate == 0 {
			return 0, false, fmt.Errorf("ogg: bad Vorbis identification header: %w", avpack.ErrCorrupt)
		}

	case bytes.HasPrefix(pkt, []byte("OpusHead")):
		if len(pkt) < 19 || pkt[8] != 1 || pkt[9] == 0 {
			return 0, false, fmt.Errorf("ogg: bad Opus identification header: %w", avpack.ErrCorrupt)
		}
		c.codec = "opus"
		c.channels = pkt[9]
		c.preskip = uint32(binary.LittleEndian.Uint16(pkt[10:12]))
		c.rate = 48000

	case bytes.HasPrefix(pkt, []byte("\x7fFLAC")):
		if len(pkt) < 9+flac.MinHeaderSize {
			return 0, false, fmt.Errorf("ogg: short embedded FLAC header: %w", avpack.ErrCorrupt)
		}
		si, _, err := flac.ParseStreamInfo(pkt[9:])
		if err != nil {
			return 0, false, fmt.Errorf("ogg: embedded FLAC: %w", err)
		}
		c.codec = "flac"
		c.channels = si.Channels
		c.rate = si.SampleRate
		c.bits = si.Bits

	default:
		return 0, false, fmt.Errorf("ogg: %w: unrecognized codec", avpack.ErrUnsupported)
	}

	c.pendingConf = append([]byte(nil), pkt...)
	c.headerSent = true
	out.Header = avpack.HeaderInfo{
		Codec:        c.codec,
		SampleRate:   c.rate,
		Channels:     c.channels,
		Bits:         c.bits,
		TotalSamples: c.r.TotalSamples(),
		EncoderDelay: c.preskip,
		CodecConf:    c.pendingConf,
	}
	return avpack.StatusHeader, true, nil
}

func (c *CodecReader) queueTags(recs []tag.Record) {
	c.pendingTags = recs
	c.tagIdx = 0
}
