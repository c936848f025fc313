package domain

import "errors"

// Sentinel errors shared across packages.
var (
	// ErrNotFound indicates a missing record in a store or cache.
	ErrNotFound = errors.New("not found")

	// ErrBadEvent marks a malformed trade event. Handlers drop the event
	// with a warning instead of failing the stream.
	ErrBadEvent = errors.New("bad trade event")

	// ErrMarketClosed is returned by broker operations that require an open
	// market. It is not a failure: callers defer and retry later.
	ErrMarketClosed = errors.New("market closed")

	// ErrUndefined indicates a computation over undefined metrics.
	ErrUndefined = errors.New("metric undefined")
)
