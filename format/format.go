// Package format is the unified façade over every format package: it maps
// the root package's Format enum onto the concrete readers and writers, so
// callers can sniff a stream prefix and drive the right implementation
// through the shared Reader/Writer interfaces without importing any
// per-format package.
package format

import (
	"fmt"

	"github.com/pchchv/avpack"
	"github.com/pchchv/avpack/format/adts"
	"github.com/pchchv/avpack/format/ape"
	"github.com/pchchv/avpack/format/avi"
	"github.com/pchchv/avpack/format/bmp"
	"github.com/pchchv/avpack/format/caf"
	"github.com/pchchv/avpack/format/flac"
	"github.com/pchchv/avpack/format/jpeg"
	"github.com/pchchv/avpack/format/mkv"
	"github.com/pchchv/avpack/format/mp4"
	"github.com/pchchv/avpack/format/mpeg1"
	"github.com/pchchv/avpack/format/ogg"
	"github.com/pchchv/avpack/format/png"
	"github.com/pchchv/avpack/format/ts"
	"github.com/pchchv/avpack/format/wav"
	"github.com/pchchv/avpack/format/wavpack"
	"github.com/pchchv/avpack/tag"
)

// NewReader opens a reader for a known format.
func NewReader(f avpack.Format, cfg avpack.Config) (avpack.Reader, error) {
	switch f {
	case avpack.FormatFLAC:
		return flac.NewReader(cfg), nil
	case avpack.FormatWAV:
		return wav.NewReader(cfg), nil
	case avpack.FormatMPEG1:
		return mpeg1.NewReader(cfg), nil
	case avpack.FormatADTS:
		return adts.NewReader(cfg), nil
	case avpack.FormatOGG:
		return ogg.NewCodecReader(cfg), nil
	case avpack.FormatMP4:
		return mp4.NewReader(cfg), nil
	case avpack.FormatAPE:
		return ape.NewReader(cfg), nil
	case avpack.FormatMKV:
		return mkv.NewReader(cfg), nil
	case avpack.FormatAVI:
		return avi.NewReader(cfg), nil
	case avpack.FormatCAF:
		return caf.NewReader(cfg), nil
	case avpack.FormatTS:
		return ts.NewReader(cfg), nil
	case avpack.FormatWavPack:
		return wavpack.NewReader(cfg), nil
	case avpack.FormatBMP:
		return bmp.NewReader(cfg), nil
	case avpack.FormatPNG:
		return png.NewReader(cfg), nil
	case avpack.FormatJPEG:
		return jpeg.NewReader(cfg), nil
	default:
		return nil, fmt.Errorf("format: %v: %w", f, avpack.ErrUnsupported)
	}
}

// Detect sniffs a stream prefix (ideally avpack.SniffLen bytes) and opens
// the matching reader.
func Detect(prefix []byte, cfg avpack.Config) (avpack.Reader, avpack.Format, error) {
	f := avpack.Sniff(prefix)
	if f == avpack.FormatUnknown {
		return nil, f, fmt.Errorf("format: %w", avpack.ErrMagic)
	}
	r, err := NewReader(f, cfg)
	return r, f, err
}

// WriterInfo describes the stream a writer will contain.
type WriterInfo struct {
	SampleRate   uint32
	Channels     uint8
	Bits         uint8
	Float        bool
	TotalSamples uint64
	EncoderDelay uint32
	EndPadding   uint32
	// Seekable must be false when the sink cannot be repositioned for
	// finalize rewrites.
	Seekable bool
}

// TagWriter is implemented by the writers that accept metadata.
type TagWriter interface {
	AddTag(id tag.ID, name, value string)
}

// NewWriter opens a writer for one of the formats with write support
// (WAV, MP4/AAC, FLAC, OGG, MP3).
func NewWriter(f avpack.Format, info WriterInfo) (avpack.Writer, error) {
	switch f {
	case avpack.FormatWAV:
		return wav.NewWriter(wav.Info{
			SampleRate:   info.SampleRate,
			Channels:     uint16(info.Channels),
			Bits:         uint16(info.Bits),
			Float:        info.Float,
			TotalSamples: info.TotalSamples,
		}), nil
	case avpack.FormatMP4:
		return mp4.NewWriter(mp4.WriterConfig{
			SampleRate:   info.SampleRate,
			Channels:     info.Channels,
			Bits:         info.Bits,
			EncoderDelay: info.EncoderDelay,
			EndPadding:   info.EndPadding,
		}), nil
	case avpack.FormatFLAC:
		return flac.NewWriter(flac.StreamInfo{
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			Bits:       info.Bits,
			MinBlock:   4096,
			MaxBlock:   4096,
		}, flac.WriterConfig{
			TotalSamples: info.TotalSamples,
			Seekable:     info.Seekable,
		}), nil
	case avpack.FormatOGG:
		return ogg.NewWriter(0, 0), nil
	case avpack.FormatMPEG1:
		return mpeg1.NewWriter(mpeg1.WriteID3v1 | mpeg1.WriteID3v2), nil
	default:
		return nil, fmt.Errorf("format: no writer for %v: %w", f, avpack.ErrUnsupported)
	}
}
