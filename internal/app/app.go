// Package app wires the station daemon together: instruments, predictor,
// recorder, modem, storage and the pass runner, plus the HTTP API and
// WebSocket hub operators watch it through. It owns the daemon's lifecycle
// and is the single source of truth for the current operating state.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/large-farva/ground-station/internal/capture"
	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/metrics"
	"github.com/large-farva/ground-station/internal/modem"
	"github.com/large-farva/ground-station/internal/predict"
	"github.com/large-farva/ground-station/internal/rotator"
	"github.com/large-farva/ground-station/internal/scheduler"
	"github.com/large-farva/ground-station/internal/storage"
	"github.com/large-farva/ground-station/internal/telemetry"
	"github.com/large-farva/ground-station/internal/tracing"
	"github.com/large-farva/ground-station/internal/transceiver"
	"github.com/large-farva/ground-station/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
}

// App is the daemon process.
type App struct {
	log        telemetry.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, IDLE, TRACKING, ...)

	hub     *ws.Hub
	metrics *metrics.Collector
	tracker *predict.Tracker
	store   *storage.Store
	rot     rotator.Rotator
	radio   transceiver.Transceiver
	runner  *scheduler.Runner
}

// New builds every component from config but touches no hardware; Run does
// the start-up checks.
func New(opts Options) (*App, error) {
	cfg := opts.Cfg
	level := telemetry.ParseLevel(cfg.Logging.Level)

	hub := ws.NewHub(32, telemetry.NewLogger(opts.Logger, nil, level))
	logger := telemetry.NewLogger(opts.Logger, hub, level)

	rot, err := rotator.New(cfg.Rotator, logger)
	if err != nil {
		return nil, fmt.Errorf("rotator: %w", err)
	}
	radio, err := transceiver.New(cfg.Transceiver, logger)
	if err != nil {
		return nil, fmt.Errorf("transceiver: %w", err)
	}

	a := &App{
		log:        logger.With("stationd"),
		cfg:        cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		hub:        hub,
		metrics:    metrics.New(),
		tracker:    predict.NewTracker(cfg, logger),
		store:      storage.New(cfg.Data.Root, logger),
		rot:        rot,
		radio:      radio,
	}
	a.state.Store("BOOTING")

	var mon scheduler.PacketMonitor
	if cfg.Modem.Enabled {
		m := modem.New(cfg.Modem, logger)
		m.OnPacket = a.packetEvent
		mon = m
	}

	sched := scheduler.New(scheduler.Options{
		Rotator:    rot,
		Radio:      radio,
		Recorder:   capture.New(cfg, hub, logger),
		Monitor:    mon,
		Storage:    a.store,
		Hub:        hub,
		Metrics:    a.metrics,
		Log:        logger,
		SampleRate: cfg.Recorder.SampleRate,
		SetupLead:  time.Duration(cfg.Schedule.SetupLeadSeconds) * time.Second,
	})
	a.runner = scheduler.NewRunner(scheduler.RunnerOptions{
		Planner:   a.tracker,
		Scheduler: sched,
		Satellite: predict.SatelliteFromConfig(cfg.Satellite),
		Mode:      cfg.Schedule.Mode,
		Indices:   cfg.Schedule.Indices,
		Lead:      time.Duration(cfg.Schedule.SetupLeadSeconds) * time.Second,
		Hub:       hub,
		Log:       logger,
	})
	return a, nil
}

// Run checks the instruments, then serves HTTP and runs passes until ctx is
// cancelled. A pass in TRACKING is allowed to finish before the server shuts
// down.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := tracing.Init(ctx, a.cfg.Tracing, a.log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer tracing.ShutdownWithTimeout(context.Background(), shutdownTracing, a.log)

	if a.configPath != "" {
		a.log.Infof("config loaded from %s", a.configPath)
	}
	if err := a.startupChecks(ctx); err != nil {
		return err
	}

	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.log.Infof("listening on http://%s", bind)

	go a.hub.Run(ctx)
	a.transition(scheduler.StateIdle)
	go a.heartbeatLoop(ctx)

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		a.runner.Run(ctx, a.transition)
	}()

	go func() {
		<-ctx.Done()
		a.log.Infof("shutdown requested")
		<-runnerDone
		_ = a.server.Shutdown(context.Background())
	}()

	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-runnerDone
	return nil
}

// startupChecks proves both instruments answer before any pass is planned,
// then sets the configured modulation. Any failure is fatal.
func (a *App) startupChecks(ctx context.Context) error {
	for _, dev := range []struct {
		name string
		inst instrument.Instrument
	}{
		{"rotator", a.rot},
		{"transceiver", a.radio},
	} {
		if err := dev.inst.TestConnection(ctx); err != nil {
			return fmt.Errorf("%s connection test failed: %w", dev.name, err)
		}
		if err := dev.inst.Read(ctx); err != nil {
			return fmt.Errorf("%s initial read failed: %w", dev.name, err)
		}
	}
	az, el := a.rot.Position()
	a.log.Infof("rotator %s ready at az %d el %d", a.cfg.Rotator.Model, az, el)

	mode, err := transceiver.ParseModulation(a.cfg.Transceiver.Modulation)
	if err != nil {
		return err
	}
	if err := a.radio.SetModulation(ctx, mode); err != nil {
		return fmt.Errorf("transceiver set modulation %s: %w", mode, err)
	}
	a.log.Infof("transceiver %s ready at %d Hz, %s", a.cfg.Transceiver.Model, a.radio.Frequency(), mode)
	return nil
}

// transition updates the daemon state and broadcasts the change.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.hub.BroadcastJSON(telemetry.StateTransition{
		Event: telemetry.NewEvent(telemetry.EventState, "stationd"),
		From:  old,
		To:    newState,
	})
}

// heartbeatLoop lets clients detect connectivity and track uptime without
// polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.hub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.NewEvent(telemetry.EventHeartbeat, "stationd"),
				State:         a.state.Load().(string),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}

func (a *App) packetEvent(idx int, p modem.Packet) {
	a.hub.BroadcastJSON(telemetry.Packet{
		Event: telemetry.NewEvent(telemetry.EventPacket, "modem"),
		Index: idx,
		Bytes: len(p),
		Hex:   hex.EncodeToString(p),
	})
}
