// Package rotator drives antenna rotators over a serial link. Each model
// speaks its own wire format but shares the same shape: validate the target,
// correct azimuth through the calibration table, send one set frame, then poll
// the position until it lands inside the model's tolerance or the timeout
// expires.
package rotator

import (
	"context"
	"fmt"
	"time"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/serial"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Rotator points an antenna. Positions are whole degrees.
type Rotator interface {
	instrument.Instrument

	// ReadPosition queries the device and updates the cached position.
	ReadPosition(ctx context.Context) (az, el int, err error)
	// Position returns the last successfully read position.
	Position() (az, el int)

	GoToAz(ctx context.Context, az int) error
	GoToEl(ctx context.Context, el int) error
	GoToAzEl(ctx context.Context, az, el int) error
}

// Timing holds the delays a controller waits on. Tests shrink these.
type Timing struct {
	// ReadDelay is how long the device needs to answer a position query.
	ReadDelay time.Duration
	// SettleDelay is held after every set frame, before the link is
	// released and polling starts.
	SettleDelay time.Duration
	// Poll is the gap between position reads while converging.
	Poll time.Duration
	// Timeout bounds one move.
	Timeout time.Duration
}

// New builds the rotator named by cfg.Model.
func New(cfg config.RotatorConfig, log telemetry.Logger) (Rotator, error) {
	log = log.With("rotator")
	if cfg.Model == "stub" {
		return NewStub(log), nil
	}

	cal, err := LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		return nil, err
	}
	link := serial.NewPort(serial.Config{Device: cfg.Device, Baud: cfg.Baud})

	switch cfg.Model {
	case "gs232b":
		return NewGS232B(link, cal, log), nil
	case "rot2prog":
		return NewRot2Prog(link, cal, log), nil
	default:
		return nil, fmt.Errorf("unknown rotator model %q", cfg.Model)
	}
}

func checkTarget(az, el int) error {
	if az < 0 || az > 359 {
		return fmt.Errorf("azimuth %d outside [0,359]: %w", az, instrument.ErrOutOfRange)
	}
	if el < 0 || el > 180 {
		return fmt.Errorf("elevation %d outside [0,180]: %w", el, instrument.ErrOutOfRange)
	}
	return nil
}

// within is the convergence test: strictly inside (target-tol, target+tol).
func within(cur, target, tol int) bool {
	return cur > target-tol && cur < target+tol
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// sleep waits d or until ctx is done, using a timer rather than a busy loop.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// converge polls until done reports true. Read failures during polling are
// logged and retried; only the deadline or ctx ends the wait early.
func converge(ctx context.Context, t Timing, log telemetry.Logger, what string,
	read func(context.Context) (int, int, error), done func() bool) error {
	start := time.Now()
	for {
		if _, _, err := read(ctx); err != nil {
			log.Debugf("%s: position poll failed: %v", what, err)
		}
		if done() {
			log.Debugf("%s: reached target in %s", what, time.Since(start).Round(time.Millisecond))
			return nil
		}
		if time.Since(start) >= t.Timeout {
			return fmt.Errorf("%s: not within tolerance after %s: %w", what, t.Timeout, instrument.ErrTimeout)
		}
		if err := sleep(ctx, t.Poll); err != nil {
			return err
		}
	}
}

// placeDigits writes the decimal form of v into frame so that its last digit
// lands at index end. The field is assumed to be pre-filled with '0'.
func placeDigits(frame []byte, v, end, width int) error {
	s := fmt.Sprintf("%d", v)
	if v < 0 || len(s) > width {
		return fmt.Errorf("value %d does not fit a %d-digit field: %w", v, width, instrument.ErrOutOfRange)
	}
	copy(frame[end-len(s)+1:], s)
	return nil
}
