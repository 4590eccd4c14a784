package container

import "errors"

// Package-local sentinels; format packages translate them to the root error
// taxonomy so this package does not need to import the facade package
// (which is imported by format packages, never the other way around).
var (
	errInvariant     = errors.New("container: invariant violation")
	errWarnDuplicate = errors.New("container: duplicate singleton chunk")
	errTruncated     = errors.New("container: truncated stream")
	errMagic         = errors.New("container: unrecognized chunk")
)

// ErrInvariant is the exported sentinel for hard invariant violations.
var ErrInvariant = errInvariant

// ErrDuplicate is the exported sentinel behind an EvWarning for a duplicate
// singleton chunk: the duplicate is skipped and traversal continues.
var ErrDuplicate = errWarnDuplicate

// ErrTruncated is the exported sentinel for a chunk size exceeding its
// parent or EOF arriving before a gather request was satisfied.
var ErrTruncated = errTruncated

// ErrMagic is the exported sentinel for an unrecognized mandatory top-level
// chunk.
var ErrMagic = errMagic
