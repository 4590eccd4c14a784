// Package seekbisect implements the bisecting seek engine shared by the
// FLAC, OGG, and WavPack readers: given a sample range and an offset
// range, estimate an offset to probe, narrow the window from what the
// frame-sync engine finds there, and detect the "no new frame found" edge
// case.
package seekbisect

// Point is one (sample, offset) anchor of the search window.
type Point struct {
	Sample uint64
	Offset int64
}

// Seeker narrows [Lo,Hi] toward a target sample by repeated offset probes.
type Seeker struct {
	Lo, Hi     Point
	Target     uint64
	lastProbe  int64
	haveProbed bool
	stallCount int
}

// New starts a search for target between lo and hi.
func New(lo, hi Point, target uint64) *Seeker {
	return &Seeker{Lo: lo, Hi: hi, Target: target}
}

// Done reports whether the window has narrowed enough that Lo is the
// answer: the caller should emit data starting at Lo.Offset.
func (s *Seeker) Done() bool {
	return s.Lo.Offset+1 >= s.Hi.Offset
}

// Estimate computes the next offset to probe: linear
// interpolation within the window, backed off by up to 4 KiB, bumped by one
// byte if it repeats the previous probe (anti-stall).
func (s *Seeker) Estimate() int64 {
	if s.Hi.Sample == s.Lo.Sample {
		return s.Lo.Offset
	}
	span := s.Hi.Offset - s.Lo.Offset
	num := int64(s.Target-s.Lo.Sample) * span
	den := int64(s.Hi.Sample - s.Lo.Sample)
	off := s.Lo.Offset + num/den
	const backoff = 4096
	off -= backoff
	if off < s.Lo.Offset {
		off = s.Lo.Offset
	}
	if s.haveProbed && off == s.lastProbe {
		off++
	}
	s.lastProbe = off
	s.haveProbed = true
	return off
}

// Narrow folds a frame found at the probed offset with audio position p
// into the window. frameEndOffset, when past the probe, extends
// lo.Offset past the frame actually read (used by formats where the next
// probe must start after a whole page/frame, not mid-frame).
func (s *Seeker) Narrow(probedOffset int64, p uint64, frameEndOffset int64) {
	if p > s.Target {
		s.Hi = Point{Sample: p, Offset: probedOffset}
	} else {
		lo := frameEndOffset
		if lo <= probedOffset {
			lo = probedOffset + 1
		}
		s.Lo = Point{Sample: p, Offset: lo}
	}
	s.stallCount = 0
}

// Probe returns the most recently chosen probe offset, including the one
// picked by NoFrameFound's offset bisection.
func (s *Seeker) Probe() int64 { return s.lastProbe }

// NoFrameFound handles the edge case where no new frame header was located
// before reaching s.Hi.Offset: bisect the window by
// offset instead of by sample, and report whether the search has stalled
// and should give up (deliver the closest left frame).
func (s *Seeker) NoFrameFound() (stalled bool) {
	const smallWindow = 64 * 1024
	newHi := s.lastProbe
	if newHi <= s.Lo.Offset {
		s.stallCount++
		if s.stallCount > 4 {
			return true
		}
		return false
	}
	window := newHi - s.Lo.Offset
	if window > smallWindow {
		mid := s.Lo.Offset + window/2
		s.Hi.Offset = newHi
		s.lastProbe = mid
	} else {
		s.Hi.Offset = newHi
		s.lastProbe = s.Lo.Offset + 1
	}
	s.stallCount++
	return s.stallCount > 8
}
