// Package instrument holds what the rotator and transceiver controllers share:
// the failure taxonomy every hardware operation reports through, and a hex
// dump helper for logging raw wire traffic.
package instrument

import (
	"context"
	"errors"
)

// Failure taxonomy. Controllers wrap one of these with context via %w so the
// caller can branch with errors.Is while logs keep the detail.
var (
	// ErrConnection means the link could not be opened or the instrument
	// never answered.
	ErrConnection = errors.New("instrument connection failure")
	// ErrTimeout means a convergence or monitoring deadline elapsed.
	ErrTimeout = errors.New("instrument timeout")
	// ErrOutOfRange means an input was rejected before touching hardware.
	ErrOutOfRange = errors.New("value out of range")
	// ErrProtocol means a response was short, malformed, or failed
	// post-write verification.
	ErrProtocol = errors.New("protocol mismatch")
	// ErrSpawn means an external process could not be started.
	ErrSpawn = errors.New("process spawn failure")
)

// Instrument is the capability every physical device controller offers.
type Instrument interface {
	// Read refreshes the controller's cached state from the device.
	Read(ctx context.Context) error
	// TestConnection opens the link, performs one read, and closes it.
	TestConnection(ctx context.Context) error
}
