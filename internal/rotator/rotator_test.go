package rotator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/serial"
	"github.com/large-farva/ground-station/internal/telemetry"
)

var fastTiming = Timing{
	Poll:    time.Millisecond,
	Timeout: 40 * time.Millisecond,
}

// device is a simulated rotator: set frames move it instantly unless frozen.
type device struct {
	mu     sync.Mutex
	az, el int
	frozen bool
}

func (d *device) set(az, el int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.frozen {
		d.az, d.el = az, el
	}
}

func (d *device) pos() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.az, d.el
}

func (d *device) gs232b(w []byte) []byte {
	switch w[0] {
	case 'C':
		az, el := d.pos()
		return []byte(fmt.Sprintf("AZ=%03d  EL=%03d\r\n", az, el))
	case 'M':
		az, _ := strconv.Atoi(string(w[1:4]))
		_, el := d.pos()
		d.set(az, el)
	case 'W':
		az, _ := strconv.Atoi(string(w[1:4]))
		el, _ := strconv.Atoi(string(w[5:8]))
		d.set(az, el)
	}
	return nil
}

func (d *device) rot2prog(w []byte) []byte {
	switch w[11] {
	case 0x1F:
		az, el := d.pos()
		a := fmt.Sprintf("%04d", (az+360)*10)
		e := fmt.Sprintf("%04d", (el+360)*10)
		resp := []byte{0x57, 0, 0, 0, 0, 0x0A, 0, 0, 0, 0, 0x0A, 0x20}
		for i := 0; i < 4; i++ {
			resp[1+i] = a[i] - '0'
			resp[6+i] = e[i] - '0'
		}
		return resp
	case 0x2F:
		az, _ := strconv.Atoi(string(w[1:5]))
		el, _ := strconv.Atoi(string(w[6:10]))
		d.set(az-360, el-360)
	}
	return nil
}

func framesStarting(link *serial.Fake, lead byte) [][]byte {
	var out [][]byte
	for _, w := range link.Writes() {
		if w[0] == lead {
			out = append(out, w)
		}
	}
	return out
}

func newGS232B(d *device, cal *Calibration) (*GS232B, *serial.Fake) {
	link := serial.NewFake(d.gs232b)
	r := NewGS232B(link, cal, telemetry.Discard())
	r.Timing = fastTiming
	return r, link
}

func TestParseGS232B(t *testing.T) {
	cases := []struct {
		in      string
		az, el  int
		wantErr bool
	}{
		{in: "AZ=123  EL=045", az: 123, el: 45},
		{in: "AZ=-005  EL=010", az: 5, el: 10},
		{in: "AZ=359  EL=180\r\n", az: 359, el: 180},
		{in: "AZ=12", wantErr: true},
		{in: "AZ=1x3  EL=045", wantErr: true},
		{in: "AZ", wantErr: true},
	}
	for _, tc := range cases {
		az, el, err := parseGS232B([]byte(tc.in))
		if tc.wantErr {
			if !errors.Is(err, instrument.ErrProtocol) {
				t.Errorf("parse(%q) err = %v, want ErrProtocol", tc.in, err)
			}
			continue
		}
		if err != nil || az != tc.az || el != tc.el {
			t.Errorf("parse(%q) = (%d,%d,%v), want (%d,%d)", tc.in, az, el, err, tc.az, tc.el)
		}
	}
}

func TestGS232BRejectsOutOfRangeWithoutTraffic(t *testing.T) {
	ctx := context.Background()
	r, link := newGS232B(&device{}, Identity())

	checks := []error{
		r.GoToAz(ctx, 360),
		r.GoToAz(ctx, -1),
		r.GoToEl(ctx, 181),
		r.GoToAzEl(ctx, 10, -1),
		r.GoToAzEl(ctx, 400, 10),
	}
	for i, err := range checks {
		if !errors.Is(err, instrument.ErrOutOfRange) {
			t.Errorf("call %d: err = %v, want ErrOutOfRange", i, err)
		}
	}
	if link.Opens() != 0 || len(link.Writes()) != 0 {
		t.Fatalf("link touched: opens=%d writes=%d", link.Opens(), len(link.Writes()))
	}
}

func TestGS232BGoToAzFrameAndCalibration(t *testing.T) {
	var b strings.Builder
	for i := 0; i < CalibrationSize; i++ {
		fmt.Fprintf(&b, "%d\n", i+5)
	}
	cal, err := ParseCalibration(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("ParseCalibration: %v", err)
	}

	d := &device{}
	r, link := newGS232B(d, cal)
	if err := r.GoToAz(context.Background(), 10); err != nil {
		t.Fatalf("GoToAz: %v", err)
	}

	w := link.Writes()
	if got := string(w[0]); got != "M015\r" {
		t.Fatalf("first frame = %q, want %q", got, "M015\r")
	}
	if az, _ := r.Position(); az != 15 {
		t.Fatalf("position az = %d, want 15", az)
	}
	if link.IsOpen() {
		t.Fatal("link left open")
	}
}

func TestGS232BGoToElKeepsAzimuth(t *testing.T) {
	d := &device{az: 123, el: 5}
	r, link := newGS232B(d, Identity())
	if err := r.GoToEl(context.Background(), 30); err != nil {
		t.Fatalf("GoToEl: %v", err)
	}
	frames := framesStarting(link, 'W')
	if len(frames) != 1 {
		t.Fatalf("got %d W frames, want 1", len(frames))
	}
	want := []byte{0x57, '1', '2', '3', 0x20, '0', '3', '0', 0x0D}
	if string(frames[0]) != string(want) {
		t.Fatalf("frame = % X, want % X", frames[0], want)
	}
}

func TestGS232BTimesOutAfterDeadline(t *testing.T) {
	d := &device{frozen: true}
	r, _ := newGS232B(d, Identity())

	start := time.Now()
	err := r.GoToAz(context.Background(), 90)
	if !errors.Is(err, instrument.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < fastTiming.Timeout {
		t.Fatalf("gave up after %s, before the %s timeout", elapsed, fastTiming.Timeout)
	}
}

func TestGS232BGoToAzElSkipsAxesWithinTolerance(t *testing.T) {
	ctx := context.Background()
	d := &device{az: 10, el: 10}
	r, link := newGS232B(d, Identity())
	if err := r.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if err := r.GoToAzEl(ctx, 12, 50); err != nil {
		t.Fatalf("GoToAzEl: %v", err)
	}
	if n := len(framesStarting(link, 'M')); n != 0 {
		t.Fatalf("sent %d azimuth frames, want 0", n)
	}
	if n := len(framesStarting(link, 'W')); n != 1 {
		t.Fatalf("sent %d elevation frames, want 1", n)
	}
	if _, el := r.Position(); el != 50 {
		t.Fatalf("el = %d, want 50", el)
	}
}

func TestGS232BGoToAzElFailsIfEitherAxisFails(t *testing.T) {
	ctx := context.Background()
	d := &device{frozen: true}
	r, _ := newGS232B(d, Identity())

	err := r.GoToAzEl(ctx, 90, 45)
	if !errors.Is(err, instrument.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestGS232BTestConnection(t *testing.T) {
	ctx := context.Background()

	r, link := newGS232B(&device{az: 1, el: 2}, Identity())
	if err := r.TestConnection(ctx); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if link.IsOpen() || link.Opens() != 1 {
		t.Fatalf("want exactly one open/close, opens=%d open=%v", link.Opens(), link.IsOpen())
	}

	silent := serial.NewFake(nil)
	r = NewGS232B(silent, Identity(), telemetry.Discard())
	r.Timing = fastTiming
	if err := r.TestConnection(ctx); !errors.Is(err, instrument.ErrConnection) {
		t.Fatalf("silent device: err = %v, want ErrConnection", err)
	}

	broken := serial.NewFake(nil)
	broken.OpenErr = errors.New("no such device")
	r = NewGS232B(broken, Identity(), telemetry.Discard())
	if err := r.TestConnection(ctx); !errors.Is(err, instrument.ErrConnection) {
		t.Fatalf("open failure: err = %v, want ErrConnection", err)
	}
}

func newRot2Prog(d *device) (*Rot2Prog, *serial.Fake) {
	link := serial.NewFake(d.rot2prog)
	r := NewRot2Prog(link, Identity(), telemetry.Discard())
	r.Timing = fastTiming
	r.ReleaseDelay = 0
	return r, link
}

func TestParseRot2ProgFolds(t *testing.T) {
	cases := []struct {
		azDigits, elDigits [3]byte
		az, el             int
	}{
		{[3]byte{3, 7, 0}, [3]byte{3, 9, 0}, 10, 30},
		{[3]byte{7, 2, 5}, [3]byte{4, 5, 0}, 5, 90},
		{[3]byte{2, 0, 0}, [3]byte{3, 6, 0}, 200, 0},
		{[3]byte{5, 4, 0}, [3]byte{3, 6, 5}, 180, 5},
	}
	for _, tc := range cases {
		resp := []byte{0x57, tc.azDigits[0], tc.azDigits[1], tc.azDigits[2], 0, 0x0A,
			tc.elDigits[0], tc.elDigits[1], tc.elDigits[2], 0, 0x0A, 0x20}
		az, el, err := parseRot2Prog(resp)
		if err != nil || az != tc.az || el != tc.el {
			t.Errorf("parse(% X) = (%d,%d,%v), want (%d,%d)", resp, az, el, err, tc.az, tc.el)
		}
	}

	if _, _, err := parseRot2Prog([]byte{0x57, 3, 6}); !errors.Is(err, instrument.ErrProtocol) {
		t.Errorf("short response: err = %v, want ErrProtocol", err)
	}
}

func TestRot2ProgSetFrame(t *testing.T) {
	got, err := rot2progSetFrame(10, 20)
	if err != nil {
		t.Fatalf("rot2progSetFrame: %v", err)
	}
	want := []byte{0x57, 0x30, 0x33, 0x37, 0x30, 0x01, 0x30, 0x33, 0x38, 0x30, 0x01, 0x2F, 0x20}
	if string(got) != string(want) {
		t.Fatalf("frame = % X, want % X", got, want)
	}
}

func TestRot2ProgKeepsAxisWithinTolerance(t *testing.T) {
	ctx := context.Background()
	d := &device{az: 100, el: 30}
	r, link := newRot2Prog(d)
	if err := r.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if err := r.GoToAzEl(ctx, 101, 60); err != nil {
		t.Fatalf("GoToAzEl: %v", err)
	}
	var sets [][]byte
	for _, w := range link.Writes() {
		if w[11] == 0x2F {
			sets = append(sets, w)
		}
	}
	if len(sets) != 1 {
		t.Fatalf("got %d set frames, want 1", len(sets))
	}
	if az := string(sets[0][1:5]); az != "0460" {
		t.Fatalf("azimuth field = %q, want the current azimuth 0460", az)
	}
	if el := string(sets[0][6:10]); el != "0420" {
		t.Fatalf("elevation field = %q, want 0420", el)
	}
}

func TestRot2ProgGoToAzKeepsElevation(t *testing.T) {
	d := &device{az: 0, el: 45}
	r, _ := newRot2Prog(d)
	if err := r.GoToAz(context.Background(), 200); err != nil {
		t.Fatalf("GoToAz: %v", err)
	}
	az, el := d.pos()
	if az != 200 || el != 45 {
		t.Fatalf("device at (%d,%d), want (200,45)", az, el)
	}
}

func TestRot2ProgRejectsOutOfRange(t *testing.T) {
	r, link := newRot2Prog(&device{})
	if err := r.GoToAzEl(context.Background(), 360, 0); !errors.Is(err, instrument.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if len(link.Writes()) != 0 {
		t.Fatal("wrote to the link for a rejected target")
	}
}

func TestRot2ProgTimeout(t *testing.T) {
	r, _ := newRot2Prog(&device{frozen: true})
	start := time.Now()
	err := r.GoToAzEl(context.Background(), 90, 45)
	if !errors.Is(err, instrument.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) < fastTiming.Timeout {
		t.Fatal("gave up before the timeout")
	}
}

func TestRot2ProgTestConnectionHoldsReleaseDelay(t *testing.T) {
	r, link := newRot2Prog(&device{az: 90, el: 10})
	r.ReleaseDelay = 50 * time.Millisecond

	start := time.Now()
	if err := r.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if elapsed := time.Since(start); elapsed < r.ReleaseDelay {
		t.Fatalf("returned after %s, want at least the %s release delay", elapsed, r.ReleaseDelay)
	}
	if len(link.Writes()) != 1 {
		t.Fatalf("got %d frames, want a single position query", len(link.Writes()))
	}
}

func TestParseCalibration(t *testing.T) {
	full := strings.Repeat(" -3 \n", CalibrationSize)
	cal, err := ParseCalibration(strings.NewReader(full))
	if err != nil {
		t.Fatalf("ParseCalibration: %v", err)
	}
	if cal.Correct(359) != -3 {
		t.Fatalf("Correct(359) = %d, want -3", cal.Correct(359))
	}

	bad := map[string]string{
		"short": strings.Repeat("1\n", 359),
		"long":  strings.Repeat("1\n", 361),
		"junk":  strings.Repeat("1\n", 359) + "x\n",
	}
	for name, body := range bad {
		if _, err := ParseCalibration(strings.NewReader(body)); err == nil {
			t.Errorf("%s: ParseCalibration succeeded", name)
		}
	}
}

func TestStubMovesInstantly(t *testing.T) {
	s := NewStub(telemetry.Discard())
	ctx := context.Background()
	if err := s.GoToAzEl(ctx, 45, 10); err != nil {
		t.Fatalf("GoToAzEl: %v", err)
	}
	if err := s.GoToEl(ctx, 20); err != nil {
		t.Fatalf("GoToEl: %v", err)
	}
	if az, el := s.Position(); az != 45 || el != 20 {
		t.Fatalf("position (%d,%d), want (45,20)", az, el)
	}
	if s.Moves() != 2 {
		t.Fatalf("moves = %d, want 2", s.Moves())
	}
	if err := s.GoToAz(ctx, 360); !errors.Is(err, instrument.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}
