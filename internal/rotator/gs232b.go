package rotator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/serial"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// GS-232B frames. Responses look like "AZ=123  EL=045" in ASCII.
var gs232bQuery = []byte{0x43, 0x32, 0x0D} // "C2\r"

const gs232bTolerance = 2

// GS232B controls a Yaesu GS-232B compatible rotator.
type GS232B struct {
	Timing Timing

	link serial.Link
	cal  *Calibration
	log  telemetry.Logger

	az, el int
}

// NewGS232B returns a controller with the device's stock timing.
func NewGS232B(link serial.Link, cal *Calibration, log telemetry.Logger) *GS232B {
	return &GS232B{
		Timing: Timing{
			ReadDelay:   250 * time.Millisecond,
			SettleDelay: 200 * time.Millisecond,
			Poll:        200 * time.Millisecond,
			Timeout:     40 * time.Second,
		},
		link: link,
		cal:  cal,
		log:  log,
	}
}

func (r *GS232B) Position() (az, el int) { return r.az, r.el }

func (r *GS232B) Read(ctx context.Context) error {
	_, _, err := r.ReadPosition(ctx)
	return err
}

func (r *GS232B) ReadPosition(ctx context.Context) (int, int, error) {
	if err := r.link.Open(); err != nil {
		return r.az, r.el, fmt.Errorf("gs232b: %v: %w", err, instrument.ErrConnection)
	}
	defer r.link.Close()
	return r.query(ctx)
}

// query performs one position read on an already open link.
func (r *GS232B) query(ctx context.Context) (int, int, error) {
	if err := r.link.Write(gs232bQuery); err != nil {
		return r.az, r.el, fmt.Errorf("gs232b: %v: %w", err, instrument.ErrConnection)
	}
	if err := sleep(ctx, r.Timing.ReadDelay); err != nil {
		return r.az, r.el, err
	}
	resp, err := r.link.Read()
	if err != nil {
		return r.az, r.el, fmt.Errorf("gs232b: %v: %w", err, instrument.ErrConnection)
	}
	if len(resp) == 0 {
		return r.az, r.el, fmt.Errorf("gs232b: no response: %w", instrument.ErrConnection)
	}

	az, el, err := parseGS232B(resp)
	if err != nil {
		r.log.Debugf("malformed position response:\n%s", instrument.HexDump(resp))
		return r.az, r.el, err
	}
	r.az, r.el = az, el
	return az, el, nil
}

// parseGS232B reads the fixed-offset digits of "AZ=ddd  EL=ddd". A '-' right
// after "AZ=" shifts both fields one byte to the right.
func parseGS232B(resp []byte) (az, el int, err error) {
	if len(resp) < 4 {
		return 0, 0, fmt.Errorf("gs232b: short response (%d bytes): %w", len(resp), instrument.ErrProtocol)
	}
	azOff, elOff := 3, 11
	if resp[3] == '-' {
		azOff, elOff = 4, 12
	}
	if len(resp) < elOff+3 {
		return 0, 0, fmt.Errorf("gs232b: short response (%d bytes): %w", len(resp), instrument.ErrProtocol)
	}
	if az, err = asciiDigits(resp[azOff : azOff+3]); err != nil {
		return 0, 0, err
	}
	if el, err = asciiDigits(resp[elOff : elOff+3]); err != nil {
		return 0, 0, err
	}
	return az, el, nil
}

func asciiDigits(b []byte) (int, error) {
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("gs232b: non-digit %q in position field: %w", c, instrument.ErrProtocol)
		}
		v = v*10 + int(c-'0')
	}
	return v, nil
}

func (r *GS232B) TestConnection(ctx context.Context) error {
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("gs232b: %v: %w", err, instrument.ErrConnection)
	}
	_, _, qerr := r.query(ctx)
	cerr := r.link.Close()
	return errors.Join(qerr, cerr)
}

// GoToAz sends "Mddd\r" with the calibrated azimuth and waits for the
// rotator to arrive.
func (r *GS232B) GoToAz(ctx context.Context, az int) error {
	if err := checkTarget(az, 0); err != nil {
		return err
	}
	target := r.cal.Correct(az)

	frame := []byte{'M', '0', '0', '0', 0x0D}
	if err := placeDigits(frame, target, len(frame)-2, 3); err != nil {
		return fmt.Errorf("gs232b: corrected azimuth: %w", err)
	}
	if err := r.send(ctx, frame); err != nil {
		return err
	}

	r.log.Debugf("azimuth move %d (commanded %d)", az, target)
	return converge(ctx, r.Timing, r.log, "gs232b azimuth", r.ReadPosition, func() bool {
		return within(r.az, target, gs232bTolerance)
	})
}

// GoToEl sends "Waaa eee\r", re-sending the current azimuth so only
// elevation changes.
func (r *GS232B) GoToEl(ctx context.Context, el int) error {
	if err := checkTarget(0, el); err != nil {
		return err
	}
	if _, _, err := r.ReadPosition(ctx); err != nil {
		return err
	}

	frame := []byte{'W', '0', '0', '0', ' ', '0', '0', '0', 0x0D}
	if err := placeDigits(frame, el, len(frame)-2, 3); err != nil {
		return err
	}
	if err := placeDigits(frame, r.az, len(frame)-6, 3); err != nil {
		return err
	}
	if err := r.send(ctx, frame); err != nil {
		return err
	}

	r.log.Debugf("elevation move %d", el)
	return converge(ctx, r.Timing, r.log, "gs232b elevation", r.ReadPosition, func() bool {
		return within(r.el, el, gs232bTolerance)
	})
}

// GoToAzEl moves each axis only when it is outside tolerance. Both axes are
// attempted; the result fails if either move failed.
func (r *GS232B) GoToAzEl(ctx context.Context, az, el int) error {
	if err := checkTarget(az, el); err != nil {
		return err
	}

	var azErr, elErr error
	if abs(r.az-az) > gs232bTolerance {
		azErr = r.GoToAz(ctx, az)
	} else {
		r.log.Debugf("azimuth %d already within tolerance of %d", r.az, az)
	}
	if abs(r.el-el) > gs232bTolerance {
		elErr = r.GoToEl(ctx, el)
	} else {
		r.log.Debugf("elevation %d already within tolerance of %d", r.el, el)
	}
	return errors.Join(azErr, elErr)
}

func (r *GS232B) send(ctx context.Context, frame []byte) error {
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("gs232b: %v: %w", err, instrument.ErrConnection)
	}
	defer r.link.Close()
	if err := r.link.Write(frame); err != nil {
		return fmt.Errorf("gs232b: %v: %w", err, instrument.ErrConnection)
	}
	return sleep(ctx, r.Timing.SettleDelay)
}
