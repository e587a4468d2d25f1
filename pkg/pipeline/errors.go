package pipeline

import "errors"

var (
	// ErrInvalidOperation is returned for structural edits that the
	// target node kind does not support, such as inserting a child
	// under a Job leaf.
	ErrInvalidOperation = errors.New("invalid operation for node kind")

	// ErrIndexOutOfRange is returned when a child index edit is out of
	// bounds for the parent's child list.
	ErrIndexOutOfRange = errors.New("child index out of range")

	// ErrMalformedPipeline is returned when a persisted document has an
	// unknown node discriminant or a group node without a child list.
	ErrMalformedPipeline = errors.New("malformed pipeline document")
)
