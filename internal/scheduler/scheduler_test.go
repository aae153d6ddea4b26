package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/large-farva/ground-station/internal/capture"
	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/metrics"
	"github.com/large-farva/ground-station/internal/modem"
	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/storage"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// fakeClock advances instantly: every wait moves Now forward by the waited
// duration. Waits of at least block never fire, which parks long idle
// sleeps until a command or cancellation arrives.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
	block time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, block: time.Hour}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d >= c.block {
		return nil
	}
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

// bench records instrument calls in order. onMove runs before each rotator
// command with the 1-based call number.
type bench struct {
	mu      sync.Mutex
	calls   []string
	onMove  func(n int) error
	onTune  func(n int) error
	moves   int
	tunings int
}

func (b *bench) GoToAzEl(_ context.Context, az, el int) error {
	b.mu.Lock()
	b.moves++
	n := b.moves
	b.calls = append(b.calls, fmt.Sprintf("rot %d %d", az, el))
	hook := b.onMove
	b.mu.Unlock()
	if hook != nil {
		return hook(n)
	}
	return nil
}

func (b *bench) SetFrequency(_ context.Context, hz int64) error {
	b.mu.Lock()
	b.tunings++
	n := b.tunings
	b.calls = append(b.calls, fmt.Sprintf("freq %d", hz))
	hook := b.onTune
	b.mu.Unlock()
	if hook != nil {
		return hook(n)
	}
	return nil
}

func (b *bench) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	duration time.Duration
	rate     int
	dir      string
	err      error
}

func (r *fakeRecorder) Capture(ctx context.Context, d time.Duration, rate int) (capture.Audio, error) {
	r.mu.Lock()
	r.duration, r.rate = d, rate
	r.mu.Unlock()
	if ctx.Err() != nil {
		return capture.Audio{}, ctx.Err()
	}
	if r.dir == "" {
		return capture.Audio{SampleRate: rate}, r.err
	}
	path := filepath.Join(r.dir, "spooled.wav")
	if err := os.WriteFile(path, []byte("RIFF...."), 0o644); err != nil {
		return capture.Audio{}, err
	}
	return capture.Audio{Path: path, SampleRate: rate, Bytes: 8}, r.err
}

type fakeMonitor struct {
	packets []modem.Packet
	err     error
}

func (m *fakeMonitor) Run(context.Context, time.Duration) ([]modem.Packet, error) {
	return m.packets, m.err
}

type hub struct {
	mu     sync.Mutex
	events []any
}

func (h *hub) BroadcastJSON(v any) {
	h.mu.Lock()
	h.events = append(h.events, v)
	h.mu.Unlock()
}

func (h *hub) count(match func(any) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if match(e) {
			n++
		}
	}
	return n
}

type states struct {
	mu  sync.Mutex
	seq []string
}

func (s *states) set(st string) {
	s.mu.Lock()
	s.seq = append(s.seq, st)
	s.mu.Unlock()
}

func (s *states) Seq() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seq...)
}

var aos = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func threeStepProfile() pass.Profile {
	return pass.Profile{
		Satellite:      "TESTSAT",
		AOS:            aos,
		LOS:            aos.Add(15 * time.Second),
		SampleInterval: 5 * time.Second,
		NominalFreqHz:  145_800_000,
		MaxElevation:   40,
		Azimuth:        []float64{100.4, 110.6, 120},
		Elevation:      []float64{0.2, 10, 20.5},
		DopplerFreqHz:  []int64{145_803_000, 145_800_000, 145_797_000},
	}
}

func newTestScheduler(b *bench, rec capture.Recorder, clock Clock, log telemetry.Logger) *Scheduler {
	return New(Options{
		Rotator:    b,
		Radio:      b,
		Recorder:   rec,
		Clock:      clock,
		Log:        log,
		SampleRate: 48000,
		SetupLead:  time.Minute,
	})
}

func TestExecuteTimeline(t *testing.T) {
	clock := newFakeClock(aos.Add(-2 * time.Minute))
	b := &bench{}
	rec := &fakeRecorder{}
	st := &states{}

	res, err := newTestScheduler(b, rec, clock, telemetry.Discard()).Execute(context.Background(), threeStepProfile(), st.set)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantCalls := []string{
		"rot 100 0", "freq 145800000", // setup
		"rot 100 0", "freq 145803000",
		"rot 111 10", "freq 145800000",
		"rot 120 21", "freq 145797000",
	}
	if got := b.Calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Fatalf("instrument calls:\n got %v\nwant %v", got, wantCalls)
	}

	wantSleeps := []time.Duration{time.Minute, time.Minute, 5 * time.Second, 5 * time.Second, 5 * time.Second}
	if got := clock.Sleeps(); !reflect.DeepEqual(got, wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", got, wantSleeps)
	}

	wantStates := []string{StateWaitSetup, StateSetup, StateWaitAOS, StateTracking, StateDone, StateIdle}
	if got := st.Seq(); !reflect.DeepEqual(got, wantStates) {
		t.Fatalf("states = %v, want %v", got, wantStates)
	}

	if res.Steps != 3 || res.DriftSteps != 0 {
		t.Fatalf("steps=%d drift=%d", res.Steps, res.DriftSteps)
	}
	if rec.duration != 15*time.Second || rec.rate != 48000 {
		t.Fatalf("recorder asked for %s at %d Hz", rec.duration, rec.rate)
	}
}

func TestExecuteDriftContinuesWithoutSleeping(t *testing.T) {
	clock := newFakeClock(aos.Add(-time.Minute))
	b := &bench{onMove: func(int) error {
		clock.Advance(7 * time.Second)
		return nil
	}}
	log := telemetry.NewMemory()

	res, err := newTestScheduler(b, &fakeRecorder{}, clock, log).Execute(context.Background(), threeStepProfile(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.DriftSteps != 3 || res.Steps != 3 {
		t.Fatalf("steps=%d drift=%d, want 3 and 3", res.Steps, res.DriftSteps)
	}
	// Only the wait for AOS; the setup move ate 7 s of the lead.
	if got := clock.Sleeps(); !reflect.DeepEqual(got, []time.Duration{53 * time.Second}) {
		t.Fatalf("sleeps = %v", got)
	}

	misaligned := 0
	for _, e := range log.Entries() {
		if e.Level == telemetry.LevelWarn && strings.Contains(e.Message, "time misalignment") {
			misaligned++
		}
	}
	if misaligned != 3 {
		t.Fatalf("%d misalignment warnings, want 3", misaligned)
	}
}

func TestExecuteContinuesAfterInstrumentFailures(t *testing.T) {
	clock := newFakeClock(aos.Add(-time.Minute))
	b := &bench{
		onMove: func(n int) error {
			if n == 2 {
				return fmt.Errorf("no answer: %w", instrument.ErrTimeout)
			}
			return nil
		},
		onTune: func(int) error { return instrument.ErrProtocol },
	}
	log := telemetry.NewMemory()

	res, err := newTestScheduler(b, &fakeRecorder{}, clock, log).Execute(context.Background(), threeStepProfile(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Steps != 3 {
		t.Fatalf("Steps = %d, want 3", res.Steps)
	}
	if res.RotatorErrors != 1 || res.RadioErrors != 4 {
		t.Fatalf("rotator errors %d, radio errors %d", res.RotatorErrors, res.RadioErrors)
	}
	if log.Count(telemetry.LevelError) != 4 {
		t.Fatalf("%d error lines, want 4 (one rotator and three radio steps)", log.Count(telemetry.LevelError))
	}
}

func TestExecuteAbandonedBeforeTracking(t *testing.T) {
	clock := newFakeClock(aos.Add(-10 * time.Minute))
	b := &bench{}
	st := &states{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScheduler(b, &fakeRecorder{}, clock, telemetry.Discard()).Execute(ctx, threeStepProfile(), st.set)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute err = %v, want context.Canceled", err)
	}
	if len(b.Calls()) != 0 {
		t.Fatalf("instruments commanded: %v", b.Calls())
	}
	if got := st.Seq(); !reflect.DeepEqual(got, []string{StateWaitSetup, StateIdle}) {
		t.Fatalf("states = %v", got)
	}
}

func TestExecuteIgnoresCancelOnceTracking(t *testing.T) {
	clock := newFakeClock(aos.Add(-time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := &bench{onMove: func(n int) error {
		if n == 2 {
			cancel()
		}
		return nil
	}}

	res, err := newTestScheduler(b, &fakeRecorder{}, clock, telemetry.Discard()).Execute(ctx, threeStepProfile(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Steps != 3 || b.moves != 4 {
		t.Fatalf("steps=%d moves=%d, want 3 and 4", res.Steps, b.moves)
	}
}

func TestExecuteArchivesResults(t *testing.T) {
	root := t.TempDir()
	store := storage.New(root, telemetry.Discard())
	m := metrics.New()
	h := &hub{}
	b := &bench{}
	p := threeStepProfile()

	s := New(Options{
		Rotator:    b,
		Radio:      b,
		Recorder:   &fakeRecorder{dir: t.TempDir()},
		Monitor:    &fakeMonitor{packets: []modem.Packet{{0xC0, 0x00, 0x01, 0xC0}, {0xC0, 0x00, 0x02, 0x03, 0xC0}}},
		Storage:    store,
		Hub:        h,
		Metrics:    m,
		Clock:      newFakeClock(aos.Add(-time.Minute)),
		SampleRate: 48000,
		SetupLead:  time.Minute,
	})
	res, err := s.Execute(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Packets) != 2 {
		t.Fatalf("got %d packets", len(res.Packets))
	}

	man, err := storage.ReadManifest(store.Dir(p))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if man.Steps != 3 || len(man.Packets) != 2 || man.Audio == nil {
		t.Fatalf("manifest = %+v", man)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(p), man.Packets[1].File)); err != nil {
		t.Fatalf("packet file: %v", err)
	}
	if _, err := os.Stat(store.AudioPath(p)); err != nil {
		t.Fatalf("audio file: %v", err)
	}

	if got := testutil.ToFloat64(m.Packets); got != 2 {
		t.Errorf("packets metric = %v", got)
	}
	if got := testutil.ToFloat64(m.Steps); got != 3 {
		t.Errorf("steps metric = %v", got)
	}
	if got := testutil.ToFloat64(m.Passes.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok passes = %v", got)
	}

	steps := h.count(func(e any) bool { _, ok := e.(telemetry.PassStep); return ok })
	done := h.count(func(e any) bool {
		d, ok := e.(telemetry.PassDone)
		return ok && d.Packets == 2 && d.AudioPath == store.AudioPath(p)
	})
	if steps != 3 || done != 1 {
		t.Fatalf("events: %d pass_step, %d matching pass_done", steps, done)
	}
}

func TestExecuteRejectsInvalidProfile(t *testing.T) {
	p := threeStepProfile()
	p.Elevation = p.Elevation[:2]
	b := &bench{}
	if _, err := newTestScheduler(b, &fakeRecorder{}, newFakeClock(aos), telemetry.Discard()).Execute(context.Background(), p, nil); err == nil {
		t.Fatal("Execute accepted mismatched sequences")
	}
	if len(b.Calls()) != 0 {
		t.Fatal("instruments commanded for an invalid profile")
	}
}
