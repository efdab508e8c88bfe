// ABOUTME: Output device abstraction for the playback scheduler
// ABOUTME: Defines the unit lifecycle contract the scheduler relies on
package player

import (
	"errors"
	"time"
)

// ErrDeviceClosed is returned by a Device after Close.
var ErrDeviceClosed = errors.New("output device closed")

// Unit is a materialized block of samples dispatched to the output device.
// Stop cancels playback; stopping a unit that already ended naturally is not
// an error.
type Unit interface {
	Stop() error
}

// Device is the platform audio output. It owns its own playback clock, which
// advances independently of the scheduler (the platform render thread).
//
// Start materializes samples into a Unit that begins sounding at startAt on
// the device clock and invokes onEnded once when playback runs to its natural
// end. A stopped unit may or may not see its onEnded fire; the scheduler
// treats late callbacks as no-ops. Start must not invoke onEnded
// synchronously.
type Device interface {
	// Now returns the current device clock reading.
	Now() time.Duration

	// Start schedules samples to begin at startAt. Fire-and-forget: it never
	// blocks on playback.
	Start(samples []float32, startAt time.Duration, onEnded func()) (Unit, error)

	// Close releases the device. Subsequent Start calls fail.
	Close() error
}
