package avpack

import (
	"bytes"

	"github.com/pchchv/avpack/internal/codepage"
	"github.com/pchchv/avpack/tag"
)

// Format identifies one of the container/codec formats this module knows
// how to read or write; the sniffer keys its dispatch on it.
type Format int

const (
	FormatUnknown Format = iota
	FormatFLAC
	FormatWAV
	FormatMPEG1 // MP3
	FormatADTS  // raw AAC/ADTS
	FormatOGG
	FormatMP4
	FormatAPE
	FormatMKV
	FormatAVI
	FormatCAF
	FormatTS
	FormatWavPack
	FormatBMP
	FormatPNG
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatFLAC:
		return "flac"
	case FormatWAV:
		return "wav"
	case FormatMPEG1:
		return "mpeg1"
	case FormatADTS:
		return "adts"
	case FormatOGG:
		return "ogg"
	case FormatMP4:
		return "mp4"
	case FormatAPE:
		return "ape"
	case FormatMKV:
		return "mkv"
	case FormatAVI:
		return "avi"
	case FormatCAF:
		return "caf"
	case FormatTS:
		return "ts"
	case FormatWavPack:
		return "wavpack"
	case FormatBMP:
		return "bmp"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// SniffLen is the number of leading bytes Sniff wants to make a confident
// call. Sniff accepts a shorter prefix and
// does its best with what is available; TS detection in particular needs
// the full length to check the second sync byte at offset 188.
const SniffLen = 189

// Sniff inspects a prefix of a byte stream and reports which format it
// looks like, by fixed-prefix signature checks only: no heuristics, no
// byte-frequency scoring. Returns FormatUnknown if nothing matches.
func Sniff(prefix []byte) Format {
	switch {
	case len(prefix) >= 2 && prefix[0] == 'B' && prefix[1] == 'M':
		return FormatBMP
	case bytes.HasPrefix(prefix, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(prefix, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return FormatPNG
	case bytes.HasPrefix(prefix, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(prefix, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(prefix, []byte("wvpk")):
		return FormatWavPack
	case bytes.HasPrefix(prefix, []byte("caff")):
		return FormatCAF
	case len(prefix) >= 4 && bytes.Equal(prefix[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatMKV
	case len(prefix) >= 12 && bytes.Equal(prefix[0:4], []byte("RIFF")) && bytes.Equal(prefix[8:12], []byte("WAVE")):
		return FormatWAV
	case len(prefix) >= 12 && bytes.Equal(prefix[0:4], []byte("RIFF")) && bytes.Equal(prefix[8:12], []byte("AVI ")):
		return FormatAVI
	case len(prefix) >= 8 && bytes.Equal(prefix[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.HasPrefix(prefix, []byte("ID3")):
		return FormatMPEG1 // ID3v2 precedes an MP3 stream in this module's scope
	case len(prefix) >= 188 && prefix[0] == 0x47 && prefix[188] == 0x47:
		return FormatTS
	case len(prefix) >= 2 && prefix[0] == 0xFF && prefix[1]&0xF0 == 0xF0 && prefix[1]&0x06 == 0x00:
		return FormatADTS
	case len(prefix) >= 2 && prefix[0] == 0xFF && prefix[1]&0xE0 == 0xE0:
		return FormatMPEG1
	default:
		return FormatUnknown
	}
}

// Flags configures reader/writer behavior.
type Flags uint8

const (
	// NoSeek means the caller cannot or will not service a SEEK request;
	// readers that would otherwise read a trailing tag block (ID3v1, APE)
	// by seeking skip that step entirely.
	NoSeek Flags = 1 << iota
	// AACWholeFrames asks an ADTS/AAC reader to deliver whole frames only,
	// never splitting a frame's payload across two DATA results.
	AACWholeFrames
)

// Config configures a reader of any format.
type Config struct {
	// TotalSize is the total byte length of the stream, 0 if unknown or
	// the stream is not seekable.
	TotalSize int64
	// CodePage is the 8-bit fallback codepage for legacy ID3 text that is
	// not valid UTF-8.
	CodePage codepage.ID
	Flags    Flags
	Logger   Logger
}

// HeaderInfo is the decoded stream header delivered with StatusHeader.
type HeaderInfo struct {
	Codec        string
	SampleRate   uint32
	Channels     uint8
	Bits         uint8
	Float        bool
	TotalSamples uint64
	EncoderDelay uint32
	EndPadding   uint32
	// CodecConf is the codec configuration blob some containers carry
	// (MP4 esds AudioSpecificConfig, MKV CodecPrivate, CAF magic cookie);
	// nil when the format has none.
	CodecConf []byte
	// Width/Height/Depth are populated by image-header formats only.
	Width, Height, Depth uint32
}

// UndefinedPos marks Frame.Pos/EndPos as undefined, used by OGG header
// packets and any frame whose sample position is not yet known.
const UndefinedPos = ^uint64(0)

// Frame is a single compressed audio (or video, for MKV passthrough) frame
// record, delivered with StatusData. Bytes is a view into the reader's own
// buffer and must be copied before the next Process call.
type Frame struct {
	Bytes    []byte
	Pos      uint64
	EndPos   uint64
	Duration uint64
}

// ErrorInfo carries a human-readable message and, when meaningful, the
// stream offset at which an error or warning was raised.
type ErrorInfo struct {
	Err    error
	Offset int64
}

// Result is the tagged union a reader's Process call fills in; which field
// is meaningful is determined by the returned Status.
type Result struct {
	Header     HeaderInfo
	Tag        tag.Record
	Frame      Frame
	SeekOffset int64
	Error      ErrorInfo
}

// Reader is the capability set every format package exposes: a
// reentrant state machine driven by repeated Process calls. Seek is
// optional; a format/mode that cannot seek simply never needs it called.
type Reader interface {
	// Process consumes a prefix of in, reports how many bytes it consumed,
	// and fills out with whatever the returned Status describes.
	Process(in []byte, out *Result) (consumed int, status Status)
	// Seek records a deferred seek request to sampleIndex, taking effect
	// at the next Process call (StatusSeek asks the caller to reposition
	// the stream and resume feeding bytes from Result.SeekOffset).
	Seek(sampleIndex uint64)
	// Finish tells the reader that in will never hold another byte beyond
	// what has already been fed; once buffered input runs out, a boundary
	// that would otherwise return MORE returns FIN (or DATA for one final
	// frame assembled from whatever remains) instead of waiting forever.
	Finish()
	// Close releases internal buffers. After Close, Process must not be
	// called again.
	Close() error
}

// WriteFlags modifies the meaning of a single Writer.Process call.
type WriteFlags uint8

const (
	// Last marks the final frame of the stream, triggering finalize.
	Last WriteFlags = 1 << iota
	// OggFlush forces the OGG writer to close the current page early.
	OggFlush
)

// Writer is the capability set every format writer exposes. A writer marks
// the caller's frame as consumed by clearing frame.Bytes; until then the
// caller must keep passing the same frame while draining StatusData and
// StatusSeek results.
type Writer interface {
	// Process accepts one caller-supplied frame and fills out.Frame.Bytes
	// with the next chunk of file bytes (a view into the writer's own
	// buffer, valid until the next call), or returns StatusSeek to ask
	// the caller to reposition the sink for a finalize rewrite.
	Process(frame *Frame, flags WriteFlags, out *Result) Status
	Close() error
}
