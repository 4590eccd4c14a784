// Package framesync implements the two-consecutive-headers frame
// synchronization engine shared by the MPEG-1, ADTS, and WavPack readers:
// scan for a sync word, validate a candidate header, require a second
// well-formed header at the position the first predicts, then commit and
// deliver frames by size. The FLAC reader does not use it; it runs its own
// frame-header scan.
package framesync

import (
	"errors"

	"github.com/pchchv/avpack/internal/gather"
)

// ErrLostSync is returned by Format.ParseHeader implementations to indicate
// an invalid candidate; the engine shifts by one byte and resumes scanning.
var ErrLostSync = errors.New("framesync: invalid candidate header")

// Header is a parsed, validated candidate frame header.
type Header struct {
	// FrameSize is the total size of the frame (header + payload) in
	// bytes, as predicted from the header fields. Step returns an error for
	// a candidate whose FrameSize is not positive, so only formats whose
	// headers carry the frame length can use the engine.
	FrameSize int
	// InvariantMask is the subset of header bits that must stay identical
	// across every frame of one stream (sample rate, channel count,
	// revision bits, ...). Two headers must agree on this mask before a
	// resync is accepted.
	InvariantMask uint32
	// Raw holds the header's own bytes, kept for the caller to decode rate
	// / channels / bitrate into a HEADER record.
	Raw []byte
}

// Format supplies the format-specific pieces of the two-header state
// machine: how to find a sync byte, how to validate+parse a header at a
// given offset, and how many bytes a second header needs to be confirmed.
type Format interface {
	// SyncByte is the first byte of the sync pattern (0xFF for MPEG/ADTS,
	// 'w' for WavPack's "wvpk").
	SyncByte() byte
	// HeaderSize is the fixed number of bytes needed to parse and
	// validate one header (not including variable trailing fields).
	HeaderSize() int
	// ParseHeader validates and parses a candidate header from exactly
	// HeaderSize() bytes. It returns ErrLostSync (or a wrapped form of
	// it) if the bytes are not a valid header.
	ParseHeader(data []byte) (Header, error)
}

// Scanner drives the two-header state machine over a gather.Buffer that the
// caller keeps feeding bytes into.
type Scanner struct {
	fmt Format
	gb  *gather.Buffer

	synced bool
	first  Header // the frame header used as the identity mask, captured once
}

// New returns a Scanner for fmt, using gb as its gather buffer (shared with
// the caller's reader so consumed-byte accounting lines up with the
// reader's own offset tracking).
func New(fmt Format, gb *gather.Buffer) *Scanner {
	return &Scanner{fmt: fmt, gb: gb}
}

// Synced reports whether the first-good-header snapshot has been captured.
func (s *Scanner) Synced() bool { return s.synced }

// First returns the first-good-header snapshot (valid only after Synced).
func (s *Scanner) First() Header { return s.first }

// ScanResult is what Step returns to the caller's state machine.
type ScanResult int

const (
	// ResultMore means not enough bytes were available; call Step again
	// after feeding more input.
	ResultMore ScanResult = iota
	// ResultHeader means a header was validated and (on the very first
	// call) confirmed by a second header at the predicted distance; the
	// Header returned by Step holds it.
	ResultHeader
	// ResultWarning means a previously-synced stream's next header failed
	// the invariant-mask check; the engine re-entered scan from one byte
	// forward and the caller should emit a WARNING.
	ResultWarning
)

// Step scans the gather buffer (fed from input) for the next header. On
// the first call it additionally requires a second valid header at the
// distance the first predicts; on subsequent calls, once synced, it simply
// validates against the invariant mask captured from the first header.
//
// On ResultHeader the validated header sits at the buffer front, NOT yet
// consumed: the caller gathers the whole frame (header included), delivers
// it, and consumes it, which leaves the next header at the front for the
// following Step call.
func (s *Scanner) Step(input []byte) (consumed int, result ScanResult, hdr Header, err error) {
	hs := s.fmt.HeaderSize()
	total := 0

	if s.synced {
		// The next header is expected exactly at the buffer front; any
		// deviation is a lost-sync event worth one warning before the
		// silent rescan takes over.
		n, view, gerr := s.gb.Gather(input[total:], hs)
		total += n
		if gerr != nil {
			return total, ResultMore, Header{}, gerr
		}
		if view == nil {
			return total, ResultMore, Header{}, nil
		}
		cand, perr := s.fmt.ParseHeader(view[:hs])
		if perr != nil || cand.InvariantMask != s.first.InvariantMask {
			s.gb.ShiftOne()
			s.synced = false
			return total, ResultWarning, Header{}, nil
		}
		return total, ResultHeader, cand, nil
	}

	for {
		n, view, gerr := s.gb.GatherHeader(input[total:], hs)
		total += n
		if gerr != nil {
			return total, ResultMore, Header{}, gerr
		}
		if view == nil {
			return total, ResultMore, Header{}, nil
		}

		idx := indexSync(view, s.fmt.SyncByte())
		if idx < 0 {
			// No candidate in the whole view; drop all but the last
			// (hs-1) bytes, which might still begin a split sync word.
			keep := hs - 1
			if keep > len(view) {
				keep = len(view)
			}
			drop := len(view) - keep
			s.gb.Consume(drop)
			if total >= len(input) {
				return total, ResultMore, Header{}, nil
			}
			continue
		}
		if idx > 0 {
			s.gb.Consume(idx)
			if len(view)-idx < hs {
				continue
			}
			view = view[idx:]
		}

		cand, perr := s.fmt.ParseHeader(view[:hs])
		if perr != nil {
			s.gb.ShiftOne()
			continue
		}

		// Require a second header at the predicted distance.
		if cand.FrameSize <= 0 {
			return total, ResultMore, Header{}, errors.New("framesync: format did not predict a frame size for resync")
		}
		need := cand.FrameSize + hs
		n2, view2, gerr := s.gb.GatherHeader(input[total:], need)
		total += n2
		if gerr != nil {
			return total, ResultMore, Header{}, gerr
		}
		if view2 == nil {
			return total, ResultMore, Header{}, nil
		}
		if len(view2) < need {
			s.gb.ShiftOne()
			continue
		}
		second, perr2 := s.fmt.ParseHeader(view2[cand.FrameSize : cand.FrameSize+hs])
		if perr2 != nil || second.InvariantMask != cand.InvariantMask {
			s.gb.ShiftOne()
			continue
		}
		s.synced = true
		s.first = cand
		return total, ResultHeader, cand, nil
	}
}

// Resync drops the captured first-header snapshot, re-entering the
// two-header search (used after a caller-serviced seek lands at an
// arbitrary offset).
func (s *Scanner) Resync() { s.synced = false }

func indexSync(data []byte, sync byte) int {
	for i := 0; i < len(data); i++ {
		if data[i] == sync {
			return i
		}
	}
	return -1
}
