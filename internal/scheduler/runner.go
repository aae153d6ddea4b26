package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/predict"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Planner supplies upcoming passes.
type Planner interface {
	UpcomingPasses(ctx context.Context, sat predict.Satellite) ([]pass.Profile, error)
	RefreshTLEs(ctx context.Context) (int, error)
}

// Command is an operator request handed to the Runner. Reply receives
// exactly one result.
type Command struct {
	Type  string
	Reply chan<- CommandResult
}

// Command types.
const (
	CmdTLERefresh = "tle_refresh"
	CmdPause      = "pause"
	CmdResume     = "resume"
	CmdSkip       = "skip"
)

// CommandResult is the answer to a Command.
type CommandResult struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	TLEsLoaded int    `json:"tles_loaded,omitempty"`
}

// PassInfo describes the pass the runner is working on.
type PassInfo struct {
	Satellite string    `json:"satellite"`
	AOS       time.Time `json:"aos"`
	LOS       time.Time `json:"los"`
	MaxElev   float64   `json:"max_elev"`
	Steps     int       `json:"steps"`
	Index     int       `json:"index"`
}

// RunnerOptions wires a Runner.
type RunnerOptions struct {
	Planner   Planner
	Scheduler *Scheduler
	Satellite predict.Satellite
	// Mode is "next" to follow every pass, or "indices" to run the listed
	// entries of the upcoming-pass table once.
	Mode    string
	Indices []int
	Lead    time.Duration
	// Retry is how long to back off after a failed or empty prediction.
	Retry time.Duration

	Hub   telemetry.Broadcaster
	Log   telemetry.Logger
	Clock Clock
}

// Runner picks passes and feeds them to the Scheduler. Commands are taken
// while waiting between passes; a pass in progress holds them until DONE.
type Runner struct {
	// Commands receives operator commands from the HTTP handlers.
	Commands chan Command

	planner Planner
	sched   *Scheduler
	sat     predict.Satellite
	mode    string
	indices []int
	lead    time.Duration
	retry   time.Duration
	hub     telemetry.Broadcaster
	log     telemetry.Logger
	clock   Clock

	paused atomic.Bool
	skip   atomic.Bool

	// Only touched by the Run goroutine.
	after time.Time
	plan  []planned

	mu      sync.Mutex
	current *PassInfo
	done    bool
}

func NewRunner(o RunnerOptions) *Runner {
	clock := o.Clock
	if clock == nil {
		clock = RealClock{}
	}
	log := o.Log
	if log == nil {
		log = telemetry.Discard()
	}
	retry := o.Retry
	if retry <= 0 {
		retry = 5 * time.Minute
	}
	return &Runner{
		Commands: make(chan Command, 4),
		planner:  o.Planner,
		sched:    o.Scheduler,
		sat:      o.Satellite,
		mode:     o.Mode,
		indices:  o.Indices,
		lead:     o.Lead,
		retry:    retry,
		hub:      o.Hub,
		log:      log.With("runner"),
		clock:    clock,
	}
}

// IsPaused reports whether the runner is holding off new passes.
func (r *Runner) IsPaused() bool { return r.paused.Load() }

// Current returns the pass being waited on or tracked, or nil.
func (r *Runner) Current() *PassInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	cp := *r.current
	return &cp
}

// Finished reports whether an "indices" plan has run all its passes.
func (r *Runner) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Runner) setCurrent(info *PassInfo) {
	r.mu.Lock()
	r.current = info
	r.mu.Unlock()
}

// Run loops until ctx is cancelled: predict, pick passes by mode, wait for
// each pass's setup time while answering commands, execute it.
func (r *Runner) Run(ctx context.Context, setState func(string)) {
	r.log.Infof("runner started in %q mode for %s", r.mode, r.sat.Name)

	for ctx.Err() == nil {
		if r.paused.Load() || r.Finished() {
			setState(StateIdle)
			r.setCurrent(nil)
			if r.paused.Load() {
				r.log.Infof("paused, waiting for resume")
			}
			// Keep answering commands until resumed or shut down.
			if r.sleepOrCommand(ctx, 24*time.Hour) == sleepCancelled {
				return
			}
			continue
		}

		plan, err := r.nextPlan(ctx)
		if err != nil {
			r.log.Warnf("%v, predicting again in %s", err, r.retry)
			if r.sleepOrCommand(ctx, r.retry) == sleepCancelled {
				return
			}
			continue
		}
		r.runPlan(ctx, plan, setState)

		if r.mode == "indices" && len(r.plan) == 0 {
			r.markDone()
		}
	}
}

type planned struct {
	index int
	p     pass.Profile
}

// nextPlan returns the passes to work through. In "next" mode that is the
// first pass after the last one handled; in "indices" mode the selection is
// made once from the first prediction and then worked down.
func (r *Runner) nextPlan(ctx context.Context) ([]planned, error) {
	if r.mode == "indices" && r.plan != nil {
		return r.plan, nil
	}

	passes, err := r.planner.UpcomingPasses(ctx, r.sat)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}

	if r.mode == "indices" {
		r.plan = []planned{}
		for _, i := range r.indices {
			if i < 0 || i >= len(passes) {
				r.log.Warnf("pass index %d is outside the %d predicted passes, skipping", i, len(passes))
				continue
			}
			r.plan = append(r.plan, planned{index: i, p: passes[i]})
		}
		return r.plan, nil
	}

	for i, p := range passes {
		if p.AOS.After(r.after) && r.startable(p) {
			return []planned{{index: i, p: p}}, nil
		}
	}
	return nil, fmt.Errorf("no upcoming pass of %s", r.sat.Name)
}

// startable reports whether there is still time to set up for p.
func (r *Runner) startable(p pass.Profile) bool {
	return p.AOS.Add(-r.lead).After(r.clock.Now())
}

// handled records that a planned pass is finished with, whether it ran or
// was skipped.
func (r *Runner) handled(pl planned) {
	r.after = pl.p.AOS
	if r.mode == "indices" && len(r.plan) > 0 {
		r.plan = r.plan[1:]
	}
	r.setCurrent(nil)
}

// runPlan executes each planned pass in turn, stopping early on shutdown or
// pause.
func (r *Runner) runPlan(ctx context.Context, plan []planned, setState func(string)) {
	for _, pl := range plan {
		p := pl.p
		if !r.startable(p) {
			r.log.Warnf("pass index %d (AOS %s) is too close to start, skipping", pl.index, p.AOS.Format(time.RFC3339))
			r.handled(pl)
			continue
		}

		r.setCurrent(&PassInfo{
			Satellite: p.Satellite,
			AOS:       p.AOS,
			LOS:       p.LOS,
			MaxElev:   p.MaxElevation,
			Steps:     p.Steps(),
			Index:     pl.index,
		})
		r.log.Infof("next pass: %s at %s (max elev %.1f, %s)", p.Satellite,
			p.AOS.Format(time.RFC3339), p.MaxElevation, p.Duration().Truncate(time.Second))

		setState(StateWaitSetup)
		switch r.waitForSetup(ctx, p) {
		case waitCancelled, waitPaused:
			r.setCurrent(nil)
			setState(StateIdle)
			return
		case waitSkipped:
			r.handled(pl)
			setState(StateIdle)
			continue
		}

		if _, err := r.sched.Execute(ctx, p, setState); err != nil {
			r.log.Warnf("pass index %d: %v", pl.index, err)
			if ctx.Err() != nil {
				r.setCurrent(nil)
				return
			}
		}
		r.handled(pl)
	}
}

type waitResult int

const (
	waitReached waitResult = iota
	waitCancelled
	waitPaused
	waitSkipped
)

// waitForSetup sleeps until the pass's setup time in 30 second slices,
// reporting the countdown. Commands that arrive meanwhile may end the wait.
func (r *Runner) waitForSetup(ctx context.Context, p pass.Profile) waitResult {
	setupAt := p.AOS.Add(-r.lead)
	for {
		remaining := setupAt.Sub(r.clock.Now())
		if remaining <= 0 {
			return waitReached
		}
		r.progress(fmt.Sprintf("setup for %s in %s", p.Satellite, remaining.Truncate(time.Second)))

		slice := 30 * time.Second
		if remaining < slice {
			slice = remaining
		}
		switch r.sleepOrCommand(ctx, slice) {
		case sleepCancelled:
			return waitCancelled
		case sleepInterrupted:
			if r.skip.Swap(false) {
				return waitSkipped
			}
			if r.paused.Load() {
				return waitPaused
			}
		}
	}
}

func (r *Runner) markDone() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
	r.log.Infof("all selected passes handled")
}

type sleepResult int

const (
	sleepCompleted sleepResult = iota
	sleepCancelled
	sleepInterrupted
)

// sleepOrCommand blocks for d, until ctx is cancelled, or until a command
// arrives. Commands are handled inline.
func (r *Runner) sleepOrCommand(ctx context.Context, d time.Duration) sleepResult {
	if ctx.Err() != nil {
		return sleepCancelled
	}
	select {
	case <-ctx.Done():
		return sleepCancelled
	case cmd := <-r.Commands:
		r.handleCommand(ctx, cmd)
		return sleepInterrupted
	case <-r.clock.After(d):
		return sleepCompleted
	}
}

func (r *Runner) handleCommand(ctx context.Context, cmd Command) {
	var res CommandResult
	switch cmd.Type {
	case CmdTLERefresh:
		n, err := r.planner.RefreshTLEs(ctx)
		if err != nil {
			res = CommandResult{Error: "TLE refresh failed: " + err.Error()}
			break
		}
		res = CommandResult{OK: true, Message: fmt.Sprintf("TLE data refreshed, %d element sets", n), TLEsLoaded: n}
	case CmdPause:
		if r.paused.Swap(true) {
			res = CommandResult{OK: true, Message: "runner already paused"}
			break
		}
		res = CommandResult{OK: true, Message: "runner paused"}
	case CmdResume:
		if !r.paused.Swap(false) {
			res = CommandResult{OK: true, Message: "runner already running"}
			break
		}
		res = CommandResult{OK: true, Message: "runner resumed"}
	case CmdSkip:
		if r.Current() == nil {
			res = CommandResult{Error: "no pass is scheduled"}
			break
		}
		r.skip.Store(true)
		res = CommandResult{OK: true, Message: "pass skipped, predicting again"}
	default:
		res = CommandResult{Error: "unknown command: " + cmd.Type}
	}

	if res.OK {
		r.log.Infof("%s", res.Message)
	} else {
		r.log.Warnf("%s", res.Error)
	}
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
}

func (r *Runner) progress(detail string) {
	if r.hub == nil {
		return
	}
	r.hub.BroadcastJSON(telemetry.Progress{
		Event:  telemetry.NewEvent(telemetry.EventProgress, "runner"),
		Stage:  "waiting",
		Detail: detail,
	})
}
