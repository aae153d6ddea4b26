package transceiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Stub accepts every in-band frequency and either modulation without any
// hardware attached.
type Stub struct {
	mu    sync.Mutex
	bands Bands
	log   telemetry.Logger
	freq  int64
	mode  Modulation
	sets  int
}

func NewStub(bands Bands, log telemetry.Logger) *Stub {
	return &Stub{bands: bands, log: log, mode: FM}
}

func (s *Stub) Read(context.Context) error           { return nil }
func (s *Stub) TestConnection(context.Context) error { return nil }

func (s *Stub) Frequency() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freq
}

func (s *Stub) Modulation() Modulation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Sets reports how many frequency changes succeeded.
func (s *Stub) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *Stub) SetFrequency(_ context.Context, hz int64) error {
	if !s.bands.Valid(hz) {
		return fmt.Errorf("stub: %d Hz is outside both bands: %w", hz, instrument.ErrOutOfRange)
	}
	s.mu.Lock()
	s.freq = hz
	s.sets++
	s.mu.Unlock()
	s.log.Debugf("stub tuned to %d Hz", hz)
	return nil
}

func (s *Stub) SetModulation(_ context.Context, m Modulation) error {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	return nil
}
