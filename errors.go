package avpack

import "errors"

// Error taxonomy, grouped by kind rather than by format. Each format
// package wraps these with fmt.Errorf("%w: ...", ...) to attach an offset
// or a field name.
var (
	// ErrTruncated means a declared chunk/box size exceeds the parent's
	// remaining size, or EOF arrived before a gather request could be
	// satisfied on a stream already marked final.
	ErrTruncated = errors.New("avpack: truncated stream")
	// ErrMagic means a top-level signature check failed.
	ErrMagic = errors.New("avpack: bad magic")
	// ErrInvariant means a structural invariant was violated: duplicate
	// singleton chunk, missing required child, out-of-order priority.
	ErrInvariant = errors.New("avpack: invariant violation")
	// ErrUnsupported means a recognized-but-unimplemented construct was
	// encountered: a newer format version, an unmodeled codec id.
	ErrUnsupported = errors.New("avpack: unsupported")
	// ErrCorrupt means decoded data failed a validity check: bad CRC,
	// invalid UTF-8 in mandatory text, a malformed variable-length int.
	ErrCorrupt = errors.New("avpack: corrupt data")
	// ErrNoMemory means the gather buffer exceeded its per-format ceiling.
	ErrNoMemory = errors.New("avpack: gather buffer ceiling exceeded")
	// ErrNoSeek means seek was requested on a reader opened with the
	// NoSeek flag, or on a format/mode that cannot seek.
	ErrNoSeek = errors.New("avpack: seeking unsupported")
	// ErrClosed means Process was called after Close or after a terminal
	// ErrorInfo was returned.
	ErrClosed = errors.New("avpack: reader closed")
)
