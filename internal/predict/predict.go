// Package predict turns element sets into pass profiles for the station:
// SGP4 finds the AOS/LOS windows, and each window is sampled at the tracking
// step for antenna look angles and the Doppler-shifted downlink frequency.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/mohae/deepcopy"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// ErrNoPass is returned when nothing rises above the elevation mask within
// the lookahead window.
var ErrNoPass = errors.New("no pass in lookahead window")

const speedOfLightKmS = 299792.458

// Satellite identifies what to track and on which downlink.
type Satellite struct {
	Name       string
	NoradID    int
	DownlinkHz int64
}

// SatelliteFromConfig is a convenience for the daemon.
func SatelliteFromConfig(c config.SatelliteConfig) Satellite {
	return Satellite{Name: c.Name, NoradID: c.NoradID, DownlinkHz: c.DownlinkHz}
}

// Tracker predicts passes for one ground station.
type Tracker struct {
	store     *TLEStore
	station   config.StationConfig
	lookahead time.Duration
	step      time.Duration
	log       telemetry.Logger

	// now is swapped in tests so predictions line up with a fixed epoch.
	now func() time.Time

	mu   sync.Mutex
	loc  *Location
	last []pass.Profile
}

func NewTracker(cfg config.Config, log telemetry.Logger) *Tracker {
	return &Tracker{
		store: NewTLEStore(
			cfg.Predict.TLEURL,
			cfg.Satellite.TLEPath,
			cfg.Data.Root,
			cfg.Predict.TLERefreshHours,
		),
		station:   cfg.Station,
		lookahead: time.Duration(cfg.Predict.LookaheadHours) * time.Hour,
		step:      time.Duration(cfg.Predict.StepSeconds) * time.Second,
		log:       log.With("predict"),
		now:       time.Now,
	}
}

// Location resolves the station position once and remembers it. With
// use_gpsd it asks gpsd first and falls back to the configured values.
func (t *Tracker) Location(ctx context.Context) Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loc != nil {
		return *t.loc
	}

	loc := Location{Lat: t.station.Latitude, Lon: t.station.Longitude, Alt: t.station.Altitude}
	if t.station.UseGPSD {
		gctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		g, err := LocationFromGPSD(gctx, t.station.GPSDHost)
		cancel()
		if err != nil {
			t.log.Warnf("gpsd failed (%v), falling back to config", err)
		} else {
			t.log.Infof("location from gpsd: %.4f, %.4f, %.0fm", g.Lat, g.Lon, g.Alt)
			loc = g
		}
	}
	t.loc = &loc
	return loc
}

// UpcomingPasses lists every pass above the elevation mask in the
// lookahead window, soonest first, each with a full tracking profile.
func (t *Tracker) UpcomingPasses(ctx context.Context, sat Satellite) ([]pass.Profile, error) {
	loc := t.Location(ctx)
	els, err := t.store.Lookup(ctx, sat)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	prop := satellite.TLEToSat(els.Line1, els.Line2, satellite.GravityWGS72)

	start := t.now().UTC()
	end := start.Add(t.lookahead)
	windows, err := els.tle.GeneratePasses(loc.Lat, loc.Lon, loc.Alt, start, end, 1)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", els.Name, err)
	}

	name := sat.Name
	if name == "" {
		name = els.Name
	}

	var out []pass.Profile
	for _, w := range windows {
		if w.MaxElevation < t.station.MinElevation || !w.AOS.Before(w.LOS) {
			continue
		}
		p := Profile(prop, loc, w.AOS.UTC(), w.LOS.UTC(), t.step, sat.DownlinkHz)
		p.Satellite = name
		p.MaxElevation = w.MaxElevation
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AOS.Before(out[j].AOS) })

	t.log.Infof("found %d passes of %s in next %s", len(out), name, t.lookahead)

	t.mu.Lock()
	t.last = out
	t.mu.Unlock()
	return out, nil
}

// NextPass is the soonest upcoming pass.
func (t *Tracker) NextPass(ctx context.Context, sat Satellite) (pass.Profile, error) {
	passes, err := t.UpcomingPasses(ctx, sat)
	if err != nil {
		return pass.Profile{}, err
	}
	if len(passes) == 0 {
		return pass.Profile{}, ErrNoPass
	}
	return passes[0], nil
}

// Cached returns a private copy of the last prediction, for readers that
// must not share the scheduler's slices.
func (t *Tracker) Cached() []pass.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.last) == 0 {
		return nil
	}
	return deepcopy.Copy(t.last).([]pass.Profile)
}

// RefreshTLEs forces a network fetch of the element sets.
func (t *Tracker) RefreshTLEs(ctx context.Context) (int, error) {
	return t.store.ForceRefresh(ctx)
}

// Profile samples [aos, los) every step. Doppler comes from the range rate
// over the following second: f = f0 * (1 - rr/c).
func Profile(sat satellite.Satellite, loc Location, aos, los time.Time, step time.Duration, nominalHz int64) pass.Profile {
	p := pass.Profile{
		AOS:            aos,
		LOS:            los,
		SampleInterval: step,
		NominalFreqHz:  nominalHz,
	}
	for ts := aos; ts.Before(los); ts = ts.Add(step) {
		now := lookAngles(sat, loc, ts)
		next := lookAngles(sat, loc, ts.Add(time.Second))
		rangeRate := next.Rg - now.Rg

		az := math.Mod(now.Az*180/math.Pi+360, 360)
		p.Azimuth = append(p.Azimuth, az)
		p.Elevation = append(p.Elevation, now.El*180/math.Pi)
		p.DopplerFreqHz = append(p.DopplerFreqHz,
			int64(math.Round(float64(nominalHz)*(1-rangeRate/speedOfLightKmS))))
	}
	return p
}

func lookAngles(sat satellite.Satellite, loc Location, ts time.Time) satellite.LookAngles {
	y, mo, d := ts.Date()
	h, mi, s := ts.Clock()
	pos, _ := satellite.Propagate(sat, y, int(mo), d, h, mi, s)
	jd := satellite.JDay(y, int(mo), d, h, mi, s)
	obs := satellite.LatLong{
		Latitude:  loc.Lat * math.Pi / 180,
		Longitude: loc.Lon * math.Pi / 180,
	}
	return satellite.ECIToLookAngles(pos, obs, loc.Alt/1000, jd)
}
