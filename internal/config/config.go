// Package config handles loading, defaulting, and validation of the ground
// station TOML configuration file. Every section maps to a typed struct so the
// rest of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Data        DataConfig        `toml:"data"        json:"data"`
	Logging     LoggingConfig     `toml:"logging"     json:"logging"`
	Server      ServerConfig      `toml:"server"      json:"server"`
	Station     StationConfig     `toml:"station"     json:"station"`
	Satellite   SatelliteConfig   `toml:"satellite"   json:"satellite"`
	Predict     PredictConfig     `toml:"predict"     json:"predict"`
	Rotator     RotatorConfig     `toml:"rotator"     json:"rotator"`
	Transceiver TransceiverConfig `toml:"transceiver" json:"transceiver"`
	Modem       ModemConfig       `toml:"modem"       json:"modem"`
	Recorder    RecorderConfig    `toml:"recorder"    json:"recorder"`
	Schedule    ScheduleConfig    `toml:"schedule"    json:"schedule"`
	Tracing     TracingConfig     `toml:"tracing"     json:"tracing"`
}

type DataConfig struct {
	Root string `toml:"root" json:"root"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type StationConfig struct {
	Latitude     float64 `toml:"latitude"      json:"latitude"`
	Longitude    float64 `toml:"longitude"     json:"longitude"`
	Altitude     float64 `toml:"altitude"      json:"altitude"`
	MinElevation float64 `toml:"min_elevation" json:"min_elevation"`
	UseGPSD      bool    `toml:"use_gpsd"      json:"use_gpsd"`
	GPSDHost     string  `toml:"gpsd_host"     json:"gpsd_host"`
}

// SatelliteConfig names the single spacecraft this station tracks.
type SatelliteConfig struct {
	Name       string `toml:"name"         json:"name"`
	NoradID    int    `toml:"norad_id"     json:"norad_id"`
	DownlinkHz int64  `toml:"downlink_hz"  json:"downlink_hz"`
	TLEPath    string `toml:"tle_path"     json:"tle_path"`
}

type PredictConfig struct {
	TLEURL          string `toml:"tle_url"           json:"tle_url"`
	TLERefreshHours int    `toml:"tle_refresh_hours" json:"tle_refresh_hours"`
	LookaheadHours  int    `toml:"lookahead_hours"   json:"lookahead_hours"`
	StepSeconds     int    `toml:"step_seconds"      json:"step_seconds"`
}

type RotatorConfig struct {
	Model           string `toml:"model"            json:"model"`
	Device          string `toml:"device"           json:"device"`
	Baud            int    `toml:"baud"             json:"baud"`
	CalibrationPath string `toml:"calibration_path" json:"calibration_path"`
}

type TransceiverConfig struct {
	Model       string `toml:"model"          json:"model"`
	Device      string `toml:"device"         json:"device"`
	Baud        int    `toml:"baud"           json:"baud"`
	Address     string `toml:"address"        json:"address"`
	Modulation  string `toml:"modulation"     json:"modulation"`
	BandALowHz  int64  `toml:"band_a_low_hz"  json:"band_a_low_hz"`
	BandAHighHz int64  `toml:"band_a_high_hz" json:"band_a_high_hz"`
	BandBLowHz  int64  `toml:"band_b_low_hz"  json:"band_b_low_hz"`
	BandBHighHz int64  `toml:"band_b_high_hz" json:"band_b_high_hz"`
}

// ModemConfig describes the external packet modem (Dire Wolf) and the KISS
// socket it exposes.
type ModemConfig struct {
	Enabled      bool   `toml:"enabled"       json:"enabled"`
	Dir          string `toml:"dir"           json:"dir"`
	Executable   string `toml:"executable"    json:"executable"`
	Baud         int    `toml:"baud"          json:"baud"`
	KISSPort     int    `toml:"kiss_port"     json:"kiss_port"`
	SettleMillis int    `toml:"settle_millis" json:"settle_millis"`
}

type RecorderConfig struct {
	Model      string `toml:"model"       json:"model"`
	Device     string `toml:"device"      json:"device"`
	SampleRate int    `toml:"sample_rate" json:"sample_rate"`
}

// ScheduleConfig replaces the interactive pass picker: either follow every
// next pass, or record the listed indices of the upcoming-pass table.
type ScheduleConfig struct {
	Mode             string `toml:"mode"               json:"mode"`
	Indices          []int  `toml:"indices"            json:"indices"`
	SetupLeadSeconds int    `toml:"setup_lead_seconds" json:"setup_lead_seconds"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"      json:"enabled"`
	Exporter    string  `toml:"exporter"     json:"exporter"`
	Endpoint    string  `toml:"endpoint"     json:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Data: DataConfig{
			Root: "/var/lib/ground-station",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Station: StationConfig{
			Latitude:     44.23,
			Longitude:    -76.48,
			Altitude:     95,
			MinElevation: 0,
			UseGPSD:      false,
			GPSDHost:     "localhost:2947",
		},
		Satellite: SatelliteConfig{
			DownlinkHz: 145800000,
		},
		Predict: PredictConfig{
			TLEURL:          "https://celestrak.org/NORAD/elements/gp.php?GROUP=amateur&FORMAT=tle",
			TLERefreshHours: 24,
			LookaheadHours:  48,
			StepSeconds:     5,
		},
		Rotator: RotatorConfig{
			Model: "stub",
			Baud:  9600,
		},
		Transceiver: TransceiverConfig{
			Model:       "stub",
			Baud:        19200,
			Address:     "7C",
			Modulation:  "fm",
			BandALowHz:  144000000,
			BandAHighHz: 147990000,
			BandBLowHz:  430025000,
			BandBHighHz: 450000000,
		},
		Modem: ModemConfig{
			Enabled:      true,
			Executable:   "direwolf",
			Baud:         1200,
			KISSPort:     8001,
			SettleMillis: 1000,
		},
		Recorder: RecorderConfig{
			Model:      "simulated",
			Device:     "default",
			SampleRate: 48000,
		},
		Schedule: ScheduleConfig{
			Mode:             "next",
			SetupLeadSeconds: 60,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// CIVAddress parses the transceiver address, written in hex as the radio's
// menu shows it (e.g. "7C").
func (t TransceiverConfig) CIVAddress() (byte, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t.Address)), "0x")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("transceiver.address %q: %w", t.Address, err)
	}
	return byte(v), nil
}

func validate(cfg Config) error {
	if cfg.Data.Root == "" {
		return errors.New("data.root must not be empty")
	}
	if cfg.Station.MinElevation < 0 || cfg.Station.MinElevation > 90 {
		return errors.New("station.min_elevation must be between 0 and 90")
	}
	if cfg.Satellite.Name == "" && cfg.Satellite.NoradID == 0 {
		return errors.New("satellite.name or satellite.norad_id must be set")
	}
	if cfg.Satellite.DownlinkHz <= 0 {
		return errors.New("satellite.downlink_hz must be > 0")
	}
	if cfg.Predict.TLERefreshHours < 1 {
		return errors.New("predict.tle_refresh_hours must be >= 1")
	}
	if cfg.Predict.LookaheadHours < 1 {
		return errors.New("predict.lookahead_hours must be >= 1")
	}
	if cfg.Predict.StepSeconds < 1 {
		return errors.New("predict.step_seconds must be >= 1")
	}

	switch cfg.Rotator.Model {
	case "stub":
	case "gs232b", "rot2prog":
		if cfg.Rotator.Device == "" {
			return errors.New("rotator.device must be set for a physical rotator")
		}
		if cfg.Rotator.CalibrationPath == "" {
			return errors.New("rotator.calibration_path must be set for a physical rotator")
		}
	default:
		return fmt.Errorf("rotator.model %q is not one of gs232b, rot2prog, stub", cfg.Rotator.Model)
	}

	switch cfg.Transceiver.Model {
	case "stub":
	case "ic9100":
		if cfg.Transceiver.Device == "" {
			return errors.New("transceiver.device must be set for a physical transceiver")
		}
		if _, err := cfg.Transceiver.CIVAddress(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("transceiver.model %q is not one of ic9100, stub", cfg.Transceiver.Model)
	}
	switch strings.ToLower(cfg.Transceiver.Modulation) {
	case "fm", "am":
	default:
		return fmt.Errorf("transceiver.modulation %q is not one of fm, am", cfg.Transceiver.Modulation)
	}
	t := cfg.Transceiver
	if t.BandALowHz >= t.BandAHighHz || t.BandBLowHz >= t.BandBHighHz {
		return errors.New("transceiver band ranges must have low < high")
	}

	if cfg.Modem.Enabled {
		if cfg.Modem.KISSPort < 1 || cfg.Modem.KISSPort > 65535 {
			return errors.New("modem.kiss_port must be between 1 and 65535")
		}
		if cfg.Modem.Baud <= 0 {
			return errors.New("modem.baud must be > 0")
		}
		if cfg.Modem.SettleMillis < 0 {
			return errors.New("modem.settle_millis must be >= 0")
		}
	}

	switch cfg.Recorder.Model {
	case "arecord", "simulated":
	default:
		return fmt.Errorf("recorder.model %q is not one of arecord, simulated", cfg.Recorder.Model)
	}
	if cfg.Recorder.SampleRate <= 0 {
		return errors.New("recorder.sample_rate must be > 0")
	}

	switch cfg.Schedule.Mode {
	case "next":
	case "indices":
		if len(cfg.Schedule.Indices) == 0 {
			return errors.New("schedule.indices must list at least one pass when schedule.mode is \"indices\"")
		}
		for _, i := range cfg.Schedule.Indices {
			if i < 0 {
				return fmt.Errorf("schedule.indices contains negative index %d", i)
			}
		}
	default:
		return fmt.Errorf("schedule.mode %q is not one of next, indices", cfg.Schedule.Mode)
	}
	if cfg.Schedule.SetupLeadSeconds < 0 {
		return errors.New("schedule.setup_lead_seconds must be >= 0")
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}
