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

// Rot2Prog frames are 13 bytes: 'W', four azimuth digits, a resolution byte,
// four elevation digits, a resolution byte, the command byte, and ' '.
// Positions travel biased by +360 so overtravel stays positive.
var rot2progQuery = []byte{0x57, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x1F, 0x20}

const (
	rot2progTolerance = 1
	rot2progBias      = 360
	rot2progSet       = 0x2F
)

// Rot2Prog controls a SPID Rot2Prog controller.
type Rot2Prog struct {
	Timing Timing
	// ReleaseDelay is held after closing the link following a read; the
	// controller needs it before accepting the next frame.
	ReleaseDelay time.Duration

	link serial.Link
	cal  *Calibration
	log  telemetry.Logger

	az, el int
}

// NewRot2Prog returns a controller with the device's stock timing.
func NewRot2Prog(link serial.Link, cal *Calibration, log telemetry.Logger) *Rot2Prog {
	return &Rot2Prog{
		Timing: Timing{
			ReadDelay:   600 * time.Millisecond,
			SettleDelay: 300 * time.Millisecond,
			Poll:        300 * time.Millisecond,
			Timeout:     120 * time.Second,
		},
		ReleaseDelay: 300 * time.Millisecond,
		link:         link,
		cal:          cal,
		log:          log,
	}
}

func (r *Rot2Prog) Position() (az, el int) { return r.az, r.el }

func (r *Rot2Prog) Read(ctx context.Context) error {
	_, _, err := r.ReadPosition(ctx)
	return err
}

func (r *Rot2Prog) ReadPosition(ctx context.Context) (int, int, error) {
	if err := r.link.Open(); err != nil {
		return r.az, r.el, fmt.Errorf("rot2prog: %v: %w", err, instrument.ErrConnection)
	}
	az, el, err := r.query(ctx)
	r.link.Close()
	if serr := sleep(ctx, r.ReleaseDelay); err == nil {
		err = serr
	}
	return az, el, err
}

func (r *Rot2Prog) query(ctx context.Context) (int, int, error) {
	if err := r.link.Write(rot2progQuery); err != nil {
		return r.az, r.el, fmt.Errorf("rot2prog: %v: %w", err, instrument.ErrConnection)
	}
	if err := sleep(ctx, r.Timing.ReadDelay); err != nil {
		return r.az, r.el, err
	}
	resp, err := r.link.Read()
	if err != nil {
		return r.az, r.el, fmt.Errorf("rot2prog: %v: %w", err, instrument.ErrConnection)
	}
	if len(resp) == 0 {
		return r.az, r.el, fmt.Errorf("rot2prog: no response: %w", instrument.ErrConnection)
	}

	az, el, err := parseRot2Prog(resp)
	if err != nil {
		r.log.Debugf("malformed position response:\n%s", instrument.HexDump(resp))
		return r.az, r.el, err
	}
	r.az, r.el = az, el
	return az, el, nil
}

// parseRot2Prog decodes the digit bytes at offsets 1..3 (azimuth) and 6..8
// (elevation). Each byte carries a digit value 0-9.
func parseRot2Prog(resp []byte) (az, el int, err error) {
	if len(resp) < 9 {
		return 0, 0, fmt.Errorf("rot2prog: short response (%d bytes): %w", len(resp), instrument.ErrProtocol)
	}
	rawAz, err := digitValues(resp[1:4])
	if err != nil {
		return 0, 0, err
	}
	rawEl, err := digitValues(resp[6:9])
	if err != nil {
		return 0, 0, err
	}
	return foldAz(rawAz), rawEl - rot2progBias, nil
}

func digitValues(b []byte) (int, error) {
	v := 0
	for _, d := range b {
		if d > 9 {
			return 0, fmt.Errorf("rot2prog: digit byte %#02x out of range: %w", d, instrument.ErrProtocol)
		}
		v = v*10 + int(d)
	}
	return v, nil
}

// foldAz maps a biased raw azimuth (180-900 with overtravel) into [0,359].
func foldAz(raw int) int {
	if raw >= 720 {
		raw -= 360
	}
	if raw >= 360 {
		raw -= 360
	}
	return raw
}

func (r *Rot2Prog) TestConnection(ctx context.Context) error {
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("rot2prog: %v: %w", err, instrument.ErrConnection)
	}
	_, _, qerr := r.query(ctx)
	cerr := r.link.Close()
	serr := sleep(ctx, r.ReleaseDelay)
	return errors.Join(qerr, cerr, serr)
}

// GoToAz reads the current position first and keeps elevation where it is.
func (r *Rot2Prog) GoToAz(ctx context.Context, az int) error {
	if err := checkTarget(az, 0); err != nil {
		return err
	}
	if _, _, err := r.ReadPosition(ctx); err != nil {
		return err
	}
	return r.GoToAzEl(ctx, az, r.el)
}

// GoToEl reads the current position first and keeps azimuth where it is.
func (r *Rot2Prog) GoToEl(ctx context.Context, el int) error {
	if err := checkTarget(0, el); err != nil {
		return err
	}
	if _, _, err := r.ReadPosition(ctx); err != nil {
		return err
	}
	return r.GoToAzEl(ctx, r.az, el)
}

// GoToAzEl always sends both axes. An axis already within tolerance is sent
// at its current value so it does not move; only a moving azimuth is passed
// through the calibration table.
func (r *Rot2Prog) GoToAzEl(ctx context.Context, az, el int) error {
	if err := checkTarget(az, el); err != nil {
		return err
	}

	targetAz, targetEl := r.az, r.el
	if abs(r.az-az) > rot2progTolerance {
		targetAz = r.cal.Correct(az)
	}
	if abs(r.el-el) > rot2progTolerance {
		targetEl = el
	}

	frame, err := rot2progSetFrame(targetAz, targetEl)
	if err != nil {
		return err
	}
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("rot2prog: %v: %w", err, instrument.ErrConnection)
	}
	werr := r.link.Write(frame)
	serr := sleep(ctx, r.Timing.SettleDelay)
	r.link.Close()
	if werr != nil {
		return fmt.Errorf("rot2prog: %v: %w", werr, instrument.ErrConnection)
	}
	if serr != nil {
		return serr
	}

	r.log.Debugf("move to az=%d el=%d (commanded az=%d el=%d)", az, el, targetAz, targetEl)
	// The controller reports azimuth folded into [0,359], so compare against
	// the folded form of whatever was commanded.
	wantAz := foldAz(targetAz + rot2progBias)
	return converge(ctx, r.Timing, r.log, "rot2prog", r.ReadPosition, func() bool {
		return within(r.az, wantAz, rot2progTolerance) && within(r.el, targetEl, rot2progTolerance)
	})
}

func rot2progSetFrame(az, el int) ([]byte, error) {
	frame := []byte{0x57, '0', '0', '0', '0', 0x01, '0', '0', '0', '0', 0x01, rot2progSet, 0x20}
	if err := placeDigits(frame, az+rot2progBias, 4, 4); err != nil {
		return nil, fmt.Errorf("rot2prog: azimuth: %w", err)
	}
	if err := placeDigits(frame, el+rot2progBias, 9, 4); err != nil {
		return nil, fmt.Errorf("rot2prog: elevation: %w", err)
	}
	return frame, nil
}
