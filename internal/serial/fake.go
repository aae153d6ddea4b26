package serial

import (
	"errors"
	"sync"
)

// Fake is an in-memory Link for exercising controllers without hardware.
// Every Write is recorded and handed to Respond; whatever Respond returns is
// queued for the next Read, mimicking a device that answers each command.
type Fake struct {
	mu sync.Mutex

	// Respond computes the device's answer to one written frame. A nil
	// return means the device stays silent.
	Respond func(written []byte) []byte
	// OpenErr, when set, makes every Open fail.
	OpenErr error

	open    bool
	pending []byte
	writes  [][]byte
	opens   int
	closes  int
}

// NewFake returns a Fake that answers each write with respond.
func NewFake(respond func(written []byte) []byte) *Fake {
	return &Fake{Respond: respond}
}

func (f *Fake) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.open = true
	f.opens++
	return nil
}

func (f *Fake) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errors.New("fake serial: write on closed port")
	}
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	if f.Respond != nil {
		f.pending = append(f.pending, f.Respond(cp)...)
	}
	return nil
}

func (f *Fake) Read() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, errors.New("fake serial: read on closed port")
	}
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

// Writes returns a copy of every frame written so far, in order.
func (f *Fake) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// Opens reports how many times the link was successfully opened.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// IsOpen reports whether the link is currently held.
func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
