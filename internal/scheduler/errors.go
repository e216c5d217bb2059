package scheduler

import "errors"

var (
	// ErrResourceExhausted means the filter slots or the tracking budget could not
	// serve the request. Nothing was retained for the client.
	ErrResourceExhausted = errors.New("scan resources exhausted")
	ErrDuplicateClient   = errors.New("client id already admitted")
	ErrUnknownClient     = errors.New("unknown client")
	ErrNotBatch          = errors.New("client is not an active batch client")
	ErrInvalidClient     = errors.New("invalid client")
	ErrClosed            = errors.New("scheduler closed")
	ErrAlreadyRunning    = errors.New("scheduler already running")
)
