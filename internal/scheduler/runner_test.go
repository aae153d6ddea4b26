package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/predict"
	"github.com/large-farva/ground-station/internal/telemetry"
)

type fakePlanner struct {
	mu       sync.Mutex
	passes   []pass.Profile
	err      error
	calls    int
	refreshN int
}

func (p *fakePlanner) UpcomingPasses(context.Context, predict.Satellite) ([]pass.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.passes, p.err
}

func (p *fakePlanner) RefreshTLEs(context.Context) (int, error) {
	if p.refreshN == 0 {
		return 0, errors.New("network down")
	}
	return p.refreshN, nil
}

func profileAt(start time.Time) pass.Profile {
	p := threeStepProfile()
	p.AOS = start
	p.LOS = start.Add(15 * time.Second)
	return p
}

func newTestRunner(pl Planner, clock *fakeClock, b *bench, mode string, indices []int) *Runner {
	return NewRunner(RunnerOptions{
		Planner:   pl,
		Scheduler: newTestScheduler(b, &fakeRecorder{}, clock, telemetry.Discard()),
		Satellite: predict.Satellite{Name: "TESTSAT"},
		Mode:      mode,
		Indices:   indices,
		Lead:      time.Minute,
		Retry:     2 * time.Hour,
		Clock:     clock,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunnerIndicesMode(t *testing.T) {
	now := aos.Add(-30 * time.Minute)
	clock := newFakeClock(now)
	planner := &fakePlanner{passes: []pass.Profile{
		profileAt(aos),
		profileAt(aos.Add(time.Hour)),
		profileAt(aos.Add(2 * time.Hour)),
	}}
	b := &bench{}
	st := &states{}
	r := newTestRunner(planner, clock, b, "indices", []int{0, 2, 9})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, st.set)
		close(done)
	}()
	waitFor(t, "plan to finish", r.Finished)
	cancel()
	<-done

	tracked := 0
	for _, s := range st.Seq() {
		if s == StateTracking {
			tracked++
		}
	}
	if tracked != 2 {
		t.Fatalf("tracked %d passes, want 2", tracked)
	}
	if planner.calls != 1 {
		t.Fatalf("predicted %d times, want once", planner.calls)
	}
	// Setup move plus three steps per pass.
	if b.moves != 8 {
		t.Fatalf("rotator moves = %d, want 8", b.moves)
	}
}

func TestRunnerNextModeTracksFollowingPass(t *testing.T) {
	clock := newFakeClock(aos.Add(-5 * time.Minute))
	planner := &fakePlanner{passes: []pass.Profile{
		profileAt(aos),
		profileAt(aos.Add(90 * time.Minute)),
	}}
	r := newTestRunner(planner, clock, &bench{}, "next", nil)

	plan, err := r.nextPlan(context.Background())
	if err != nil || len(plan) != 1 || plan[0].index != 0 {
		t.Fatalf("first plan = %+v, %v", plan, err)
	}
	r.handled(plan[0])

	plan, err = r.nextPlan(context.Background())
	if err != nil || len(plan) != 1 || plan[0].index != 1 {
		t.Fatalf("plan after first pass = %+v, %v", plan, err)
	}
	r.handled(plan[0])

	if _, err := r.nextPlan(context.Background()); err == nil {
		t.Fatal("nextPlan found a pass after every pass was handled")
	}
}

func TestRunnerNextModeDropsPassesInsideLead(t *testing.T) {
	clock := newFakeClock(aos.Add(-30 * time.Second))
	planner := &fakePlanner{passes: []pass.Profile{
		profileAt(aos),
		profileAt(aos.Add(time.Hour)),
	}}
	r := newTestRunner(planner, clock, &bench{}, "next", nil)

	plan, err := r.nextPlan(context.Background())
	if err != nil || plan[0].index != 1 {
		t.Fatalf("plan = %+v, %v; want the second pass", plan, err)
	}
}

func TestRunnerSkipDuringWait(t *testing.T) {
	clock := newFakeClock(aos.Add(-3 * time.Hour))
	r := newTestRunner(&fakePlanner{}, clock, &bench{}, "next", nil)
	p := profileAt(aos)
	r.setCurrent(&PassInfo{Satellite: p.Satellite, AOS: p.AOS})

	// Slices of the wait longer than the fake clock will fire force the
	// command to be what ends the sleep.
	clock.block = time.Second
	reply := make(chan CommandResult, 1)
	r.Commands <- Command{Type: CmdSkip, Reply: reply}

	if got := r.waitForSetup(context.Background(), p); got != waitSkipped {
		t.Fatalf("waitForSetup = %v, want waitSkipped", got)
	}
	if res := <-reply; !res.OK {
		t.Fatalf("skip reply: %+v", res)
	}
}

func TestRunnerCommands(t *testing.T) {
	planner := &fakePlanner{}
	r := newTestRunner(planner, newFakeClock(aos), &bench{}, "next", nil)
	ctx := context.Background()

	send := func(typ string) CommandResult {
		reply := make(chan CommandResult, 1)
		r.handleCommand(ctx, Command{Type: typ, Reply: reply})
		return <-reply
	}

	tests := []struct {
		cmd    string
		ok     bool
		paused bool
	}{
		{CmdPause, true, true},
		{CmdPause, true, true},
		{CmdResume, true, false},
		{CmdResume, true, false},
		{CmdSkip, false, false}, // nothing scheduled
		{CmdTLERefresh, false, false},
		{"reboot", false, false},
	}
	for _, tt := range tests {
		res := send(tt.cmd)
		if res.OK != tt.ok {
			t.Errorf("%s: OK = %v (%+v)", tt.cmd, res.OK, res)
		}
		if r.IsPaused() != tt.paused {
			t.Errorf("%s: paused = %v", tt.cmd, r.IsPaused())
		}
	}

	planner.refreshN = 42
	if res := send(CmdTLERefresh); !res.OK || res.TLEsLoaded != 42 {
		t.Fatalf("refresh = %+v", res)
	}
}

func TestRunnerRetriesAfterPredictionFailure(t *testing.T) {
	clock := newFakeClock(aos.Add(-time.Hour))
	planner := &fakePlanner{err: errors.New("no TLE")}
	r := newTestRunner(planner, clock, &bench{}, "next", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, func(string) {})
		close(done)
	}()
	// The 2 h retry parks on the fake clock; a command wakes the loop and
	// it predicts again.
	waitFor(t, "first prediction", func() bool {
		planner.mu.Lock()
		defer planner.mu.Unlock()
		return planner.calls == 1
	})
	reply := make(chan CommandResult, 1)
	r.Commands <- Command{Type: CmdResume, Reply: reply}
	<-reply
	waitFor(t, "second prediction", func() bool {
		planner.mu.Lock()
		defer planner.mu.Unlock()
		return planner.calls == 2
	})
	cancel()
	<-done
}
