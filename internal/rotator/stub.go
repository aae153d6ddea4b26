package rotator

import (
	"context"
	"sync"

	"github.com/large-farva/ground-station/internal/telemetry"
)

// Stub stands in for a rotator when none is attached. Every move succeeds
// immediately and becomes the reported position.
type Stub struct {
	mu     sync.Mutex
	log    telemetry.Logger
	az, el int
	moves  int
}

// NewStub returns a stub parked at 0/0.
func NewStub(log telemetry.Logger) *Stub {
	return &Stub{log: log}
}

func (s *Stub) Read(context.Context) error           { return nil }
func (s *Stub) TestConnection(context.Context) error { return nil }

func (s *Stub) ReadPosition(context.Context) (int, int, error) {
	az, el := s.Position()
	return az, el, nil
}

func (s *Stub) Position() (az, el int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.az, s.el
}

// Moves reports how many successful move calls the stub has seen.
func (s *Stub) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

func (s *Stub) GoToAz(ctx context.Context, az int) error {
	_, el := s.Position()
	return s.GoToAzEl(ctx, az, el)
}

func (s *Stub) GoToEl(ctx context.Context, el int) error {
	az, _ := s.Position()
	return s.GoToAzEl(ctx, az, el)
}

func (s *Stub) GoToAzEl(_ context.Context, az, el int) error {
	if err := checkTarget(az, el); err != nil {
		return err
	}
	s.mu.Lock()
	s.az, s.el = az, el
	s.moves++
	s.mu.Unlock()
	s.log.Debugf("stub move az=%d el=%d", az, el)
	return nil
}
