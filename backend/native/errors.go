package native

import "github.com/cockroachdb/errors"

// Package errors for the HAL backend.
var (
	// ErrNoAdapter is returned when a HAL backend enumerates no adapters.
	ErrNoAdapter = errors.New("native: no GPU adapter available")

	// ErrNoHALAccess is returned when a device provider does not expose
	// its hal.Device and hal.Queue.
	ErrNoHALAccess = errors.New("native: provider does not expose HAL types")
)
