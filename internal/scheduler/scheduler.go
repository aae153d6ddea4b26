// Package scheduler runs satellite passes. A Scheduler executes one pass
// profile through its states, pointing the antenna and retuning the radio at
// every step while audio and packets are captured in the background. A
// Runner sits above it, picking passes from the predictor and taking
// operator commands between them.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/large-farva/ground-station/internal/capture"
	"github.com/large-farva/ground-station/internal/metrics"
	"github.com/large-farva/ground-station/internal/modem"
	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/storage"
	"github.com/large-farva/ground-station/internal/telemetry"
	"github.com/large-farva/ground-station/internal/tracing"
)

// Pass states, in order.
const (
	StateIdle      = "IDLE"
	StateWaitSetup = "WAIT_SETUP"
	StateSetup     = "SETUP"
	StateWaitAOS   = "WAIT_AOS"
	StateTracking  = "TRACKING"
	StateDone      = "DONE"
)

// Rotator is the part of a rotator controller the scheduler drives.
type Rotator interface {
	GoToAzEl(ctx context.Context, az, el int) error
}

// Radio is the part of a transceiver controller the scheduler drives.
type Radio interface {
	SetFrequency(ctx context.Context, hz int64) error
}

// PacketMonitor decodes packets for a fixed duration.
type PacketMonitor interface {
	Run(ctx context.Context, d time.Duration) ([]modem.Packet, error)
}

// Storage files the products of a finished pass.
type Storage interface {
	Dir(p pass.Profile) string
	StorePacket(p pass.Profile, idx int, data []byte) error
	StoreAudio(p pass.Profile, a capture.Audio) error
	WriteManifest(p pass.Profile, m storage.Manifest) error
}

// Options wires a Scheduler. Monitor and Storage may be nil when packet
// decoding or archiving is not wanted.
type Options struct {
	Rotator  Rotator
	Radio    Radio
	Recorder capture.Recorder
	Monitor  PacketMonitor
	Storage  Storage

	Hub     telemetry.Broadcaster
	Metrics *metrics.Collector
	Log     telemetry.Logger
	Clock   Clock

	SampleRate int
	// SetupLead is how long before AOS the instruments are positioned.
	SetupLead time.Duration
}

// Result is everything a pass produced.
type Result struct {
	Profile       pass.Profile
	Audio         capture.Audio
	AudioErr      error
	Packets       []modem.Packet
	ModemErr      error
	Steps         int
	DriftSteps    int
	RotatorErrors int
	RadioErrors   int
}

// Scheduler executes passes one at a time. It is not safe for concurrent
// Execute calls; the instruments it drives have no locking of their own.
type Scheduler struct {
	rot      Rotator
	radio    Radio
	recorder capture.Recorder
	monitor  PacketMonitor
	store    Storage

	hub     telemetry.Broadcaster
	metrics *metrics.Collector
	log     telemetry.Logger
	clock   Clock
	tracer  trace.Tracer

	sampleRate int
	lead       time.Duration
}

func New(o Options) *Scheduler {
	clock := o.Clock
	if clock == nil {
		clock = RealClock{}
	}
	log := o.Log
	if log == nil {
		log = telemetry.Discard()
	}
	return &Scheduler{
		rot:        o.Rotator,
		radio:      o.Radio,
		recorder:   o.Recorder,
		monitor:    o.Monitor,
		store:      o.Storage,
		hub:        o.Hub,
		metrics:    o.Metrics,
		log:        log.With("scheduler"),
		clock:      clock,
		tracer:     tracing.Tracer(),
		sampleRate: o.SampleRate,
		lead:       o.SetupLead,
	}
}

// Execute runs p from WAIT_SETUP to DONE. Waiting before TRACKING honours
// ctx; once tracking starts the pass runs to completion regardless. An error
// means the pass never reached TRACKING.
func (s *Scheduler) Execute(ctx context.Context, p pass.Profile, setState func(string)) (Result, error) {
	res := Result{Profile: p}
	if err := p.Validate(); err != nil {
		return res, err
	}
	if setState == nil {
		setState = func(string) {}
	}
	state := func(st string) {
		s.metrics.SetState(st)
		setState(st)
	}

	ctx, span := s.tracer.Start(ctx, "pass", trace.WithAttributes(
		attribute.String("satellite", p.Satellite),
		attribute.String("aos", p.AOS.Format(time.RFC3339)),
		attribute.Int("steps", p.Steps()),
	))
	defer span.End()

	s.log.Infof("pass of %s: AOS %s, LOS %s, %d steps every %s",
		p.Satellite, p.AOS.Format(time.RFC3339), p.LOS.Format(time.RFC3339), p.Steps(), p.SampleInterval)

	state(StateWaitSetup)
	if err := s.waitUntil(ctx, p.AOS.Add(-s.lead), "setup"); err != nil {
		return s.abort(res, span, state, err)
	}

	state(StateSetup)
	s.setup(ctx, p, &res)

	state(StateWaitAOS)
	if err := s.waitUntil(ctx, p.AOS, "AOS"); err != nil {
		return s.abort(res, span, state, err)
	}

	// From here on shutdown waits for LOS.
	trackCtx := context.WithoutCancel(ctx)

	state(StateTracking)
	s.track(trackCtx, p, &res)

	state(StateDone)
	s.finish(trackCtx, p, &res)
	span.SetAttributes(
		attribute.Int("drift_steps", res.DriftSteps),
		attribute.Int("packets", len(res.Packets)),
	)
	state(StateIdle)
	return res, nil
}

func (s *Scheduler) abort(res Result, span trace.Span, state func(string), err error) (Result, error) {
	s.log.Warnf("pass of %s abandoned before tracking: %v", res.Profile.Satellite, err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.PassFinished("aborted")
	state(StateIdle)
	return res, fmt.Errorf("pass abandoned: %w", err)
}

// waitUntil sleeps until t on the scheduler clock, reporting progress.
func (s *Scheduler) waitUntil(ctx context.Context, t time.Time, what string) error {
	d := t.Sub(s.clock.Now())
	if d > 0 {
		s.log.Infof("waiting %s for %s", d.Truncate(time.Second), what)
		s.progress("waiting", 0, fmt.Sprintf("%s in %s", what, d.Truncate(time.Second)))
	}
	return sleep(ctx, s.clock, d)
}

// setup parks the antenna at the first look angle and tunes the nominal
// downlink. Failures are logged; tracking proceeds regardless.
func (s *Scheduler) setup(ctx context.Context, p pass.Profile, res *Result) {
	_, span := s.tracer.Start(ctx, "pass.setup")
	defer span.End()

	az, el := p.Point(0)
	s.log.Debugf("moving rotator to initial position az %d el %d", az, el)
	if err := s.rot.GoToAzEl(ctx, az, el); err != nil {
		res.RotatorErrors++
		s.metrics.InstrumentError("rotator")
		s.log.Warnf("initial rotator move failed: %v", err)
	}
	s.log.Debugf("tuning to nominal downlink %d Hz", p.NominalFreqHz)
	if err := s.radio.SetFrequency(ctx, p.NominalFreqHz); err != nil {
		res.RadioErrors++
		s.metrics.InstrumentError("transceiver")
		s.log.Warnf("initial frequency set failed: %v", err)
	}
}

// track starts audio and packet capture, walks every profile step, then
// joins both background tasks.
func (s *Scheduler) track(ctx context.Context, p pass.Profile, res *Result) {
	ctx, span := s.tracer.Start(ctx, "pass.tracking")
	defer span.End()

	var wg sync.WaitGroup
	d := p.Duration()

	wg.Add(1)
	go func() {
		defer wg.Done()
		res.Audio, res.AudioErr = s.recorder.Capture(ctx, d, s.sampleRate)
	}()
	if s.monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Packets, res.ModemErr = s.monitor.Run(ctx, d)
		}()
	}

	n := p.Steps()
	for i := 0; i < n; i++ {
		s.step(ctx, p, i, res)
	}

	wg.Wait()
	if res.AudioErr != nil {
		s.log.Errorf("audio capture failed: %v", res.AudioErr)
	}
	if res.ModemErr != nil {
		s.log.Errorf("packet monitor failed: %v", res.ModemErr)
	}
}

// step runs one tracking step. The instruments are commanded in sequence
// and the rest of the sample interval is slept off. An overrun is logged and
// the next step starts at once.
func (s *Scheduler) step(ctx context.Context, p pass.Profile, i int, res *Result) {
	az, el := p.Point(i)
	hz := p.DopplerFreqHz[i]

	start := s.clock.Now()
	rotErr := s.rot.GoToAzEl(ctx, az, el)
	radioErr := s.radio.SetFrequency(ctx, hz)
	elapsed := s.clock.Now().Sub(start)

	if rotErr != nil {
		res.RotatorErrors++
		s.metrics.InstrumentError("rotator")
		s.log.Errorf("step %d: rotator to az %d el %d: %v", i, az, el, rotErr)
	}
	if radioErr != nil {
		res.RadioErrors++
		s.metrics.InstrumentError("transceiver")
		s.log.Errorf("step %d: frequency %d Hz: %v", i, hz, radioErr)
	}

	drift := elapsed >= p.SampleInterval
	res.Steps++
	if drift {
		res.DriftSteps++
	}
	s.metrics.Step(elapsed.Seconds(), drift)

	if s.hub != nil {
		s.hub.BroadcastJSON(telemetry.PassStep{
			Event:     telemetry.NewEvent(telemetry.EventPassStep, "scheduler"),
			Index:     i,
			Total:     p.Steps(),
			Azimuth:   az,
			Elevation: el,
			FreqHz:    hz,
			ElapsedMS: elapsed.Milliseconds(),
			Drift:     drift,
			RotatorOK: rotErr == nil,
			RadioOK:   radioErr == nil,
			Percent:   float64(i+1) / float64(p.Steps()) * 100,
		})
	}

	if drift {
		s.log.Warnf("time misalignment at step %d: instruments took %s of a %s interval, antenna may lag",
			i, elapsed.Truncate(time.Millisecond), p.SampleInterval)
		return
	}
	_ = sleep(ctx, s.clock, p.SampleInterval-elapsed)
}

// finish hands the products to storage and announces the pass as done.
func (s *Scheduler) finish(ctx context.Context, p pass.Profile, res *Result) {
	_, span := s.tracer.Start(ctx, "pass.store")
	defer span.End()

	for _, pkt := range res.Packets {
		s.metrics.Packet(len(pkt))
	}

	outcome := "ok"
	if res.AudioErr != nil || res.ModemErr != nil || res.RotatorErrors > 0 || res.RadioErrors > 0 {
		outcome = "degraded"
	}
	s.metrics.PassFinished(outcome)

	audioPath := ""
	if s.store != nil {
		audioPath = s.archive(p, res)
	}

	s.log.Infof("pass of %s done: %d steps (%d drifted), %d packets, %d audio bytes",
		p.Satellite, res.Steps, res.DriftSteps, len(res.Packets), res.Audio.Bytes)

	if s.hub != nil {
		s.hub.BroadcastJSON(telemetry.PassDone{
			Event:      telemetry.NewEvent(telemetry.EventPassDone, "scheduler"),
			Satellite:  p.Satellite,
			Steps:      res.Steps,
			DriftSteps: res.DriftSteps,
			Packets:    len(res.Packets),
			AudioPath:  audioPath,
			AudioBytes: res.Audio.Bytes,
		})
	}
}

// archive stores packets, audio and the manifest, returning where the audio
// ended up. Storage failures are logged and never fail the pass.
func (s *Scheduler) archive(p pass.Profile, res *Result) string {
	m := storage.Manifest{
		Satellite:      p.Satellite,
		AOS:            p.AOS,
		LOS:            p.LOS,
		MaxElevation:   p.MaxElevation,
		SampleInterval: p.SampleInterval.String(),
		NominalFreqHz:  p.NominalFreqHz,
		Steps:          res.Steps,
		DriftSteps:     res.DriftSteps,
		RotatorErrors:  res.RotatorErrors,
		RadioErrors:    res.RadioErrors,
		Completed:      s.clock.Now().UTC(),
	}

	for i, pkt := range res.Packets {
		if err := s.store.StorePacket(p, i, pkt); err != nil {
			s.log.Errorf("store packet %d: %v", i, err)
			m.Errors = append(m.Errors, err.Error())
			continue
		}
		m.Packets = append(m.Packets, storage.PacketEntry{Index: i, Bytes: len(pkt), File: storage.PacketFile(i)})
	}

	audioPath := ""
	if res.Audio.Path != "" {
		if err := s.store.StoreAudio(p, res.Audio); err != nil {
			s.log.Errorf("store audio: %v", err)
			m.Errors = append(m.Errors, err.Error())
		} else {
			audioPath = filepath.Join(s.store.Dir(p), storage.AudioFile)
			m.Audio = &storage.AudioEntry{File: storage.AudioFile, Bytes: res.Audio.Bytes, SampleRate: res.Audio.SampleRate}
		}
	}
	if res.AudioErr != nil {
		m.Errors = append(m.Errors, "audio: "+res.AudioErr.Error())
	}
	if res.ModemErr != nil {
		m.Errors = append(m.Errors, "modem: "+res.ModemErr.Error())
	}

	if err := s.store.WriteManifest(p, m); err != nil {
		s.log.Errorf("write manifest: %v", err)
	}
	return audioPath
}

func (s *Scheduler) progress(stage string, pct float64, detail string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastJSON(telemetry.Progress{
		Event:   telemetry.NewEvent(telemetry.EventProgress, "scheduler"),
		Stage:   stage,
		Percent: pct,
		Detail:  detail,
	})
}
