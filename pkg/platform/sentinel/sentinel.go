package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Storage backends, transports and
// fetchers return these (optionally wrapped) so the coordinator can decide
// whether a failure is reported, swallowed or surfaced to the caller.
//
// These represent factual states, not validation failures:
// - ErrNotFound: nothing is persisted under the requested key
// - ErrExpired: a persisted record outlived its retention period
// - ErrInvalidState: an operation was attempted in the wrong lifecycle state
// - ErrUnavailable: a remote host or storage backend is temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
