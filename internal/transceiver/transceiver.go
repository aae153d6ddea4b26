// Package transceiver tunes the station radio over Icom CI-V. Every setter
// verifies itself by reading the radio back; a write the radio silently
// ignored is reported as a failure.
package transceiver

import (
	"context"
	"fmt"
	"strings"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/serial"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Modulation is the CI-V mode byte.
type Modulation byte

const (
	AM Modulation = 0x02
	FM Modulation = 0x05
)

func (m Modulation) String() string {
	switch m {
	case AM:
		return "AM"
	case FM:
		return "FM"
	default:
		return fmt.Sprintf("mode(%#02x)", byte(m))
	}
}

// ParseModulation accepts "fm" or "am" in any case.
func ParseModulation(s string) (Modulation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fm":
		return FM, nil
	case "am":
		return AM, nil
	}
	return 0, fmt.Errorf("unknown modulation %q", s)
}

// Transceiver is the radio as the scheduler sees it.
type Transceiver interface {
	instrument.Instrument

	Frequency() int64
	Modulation() Modulation
	SetFrequency(ctx context.Context, hz int64) error
	SetModulation(ctx context.Context, m Modulation) error
}

// Band is an inclusive frequency range.
type Band struct {
	Name   string
	LowHz  int64
	HighHz int64
}

func (b Band) Contains(hz int64) bool {
	return hz >= b.LowHz && hz <= b.HighHz
}

// Bands are the two ranges the radio may be tuned in. The IC-9100 keeps one
// on its main receiver and the other on sub, so moving between them takes a
// main/sub swap.
type Bands struct {
	A, B Band
}

// DefaultBands are the 2 m and 70 cm amateur allocations.
func DefaultBands() Bands {
	return Bands{
		A: Band{Name: "2m", LowHz: 144_000_000, HighHz: 147_990_000},
		B: Band{Name: "70cm", LowHz: 430_025_000, HighHz: 450_000_000},
	}
}

// Valid reports whether hz falls in either band.
func (b Bands) Valid(hz int64) bool {
	return b.A.Contains(hz) || b.B.Contains(hz)
}

// New builds the transceiver named by cfg.Model.
func New(cfg config.TransceiverConfig, log telemetry.Logger) (Transceiver, error) {
	log = log.With("transceiver")
	bands := Bands{
		A: Band{Name: "A", LowHz: cfg.BandALowHz, HighHz: cfg.BandAHighHz},
		B: Band{Name: "B", LowHz: cfg.BandBLowHz, HighHz: cfg.BandBHighHz},
	}

	switch cfg.Model {
	case "stub":
		return NewStub(bands, log), nil
	case "ic9100":
		addr, err := cfg.CIVAddress()
		if err != nil {
			return nil, err
		}
		link := serial.NewPort(serial.Config{Device: cfg.Device, Baud: cfg.Baud})
		return NewIC9100(link, addr, bands, log), nil
	default:
		return nil, fmt.Errorf("unknown transceiver model %q", cfg.Model)
	}
}
