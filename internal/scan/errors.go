// Package scan holds the scan data model shared by the scheduler components:
// modes and their controller timings, immutable settings, filters and clients.
package scan

import "errors"

var (
	ErrUnknownMode   = errors.New("unknown scan mode")
	ErrInvalidFilter = errors.New("invalid scan filter")
)
