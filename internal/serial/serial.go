// Package serial is the byte-level link every instrument controller talks
// through. A link is opened for one transaction and closed again; it is never
// held across unrelated operations, and a single link must not be shared
// between goroutines without the caller serialising access.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Link is an exclusive, transaction-scoped byte pipe to one device.
type Link interface {
	Open() error
	Write(b []byte) error
	// Read returns whatever the driver has buffered, or an empty slice if
	// nothing is waiting. It never blocks for longer than one poll interval.
	Read() ([]byte, error)
	Close() error
}

// Config describes how to open a physical port. Framing is always 8N1.
type Config struct {
	Device string
	Baud   int
	// Poll bounds how long a single Read waits for the first byte. The
	// driver rounds this up to 100 ms on POSIX systems.
	Poll time.Duration
}

// Port is a Link backed by a real serial device.
type Port struct {
	cfg  Config
	port *serial.Port
}

// NewPort returns a closed port. Nothing touches the device until Open.
func NewPort(cfg Config) *Port {
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	return &Port{cfg: cfg}
}

// Open acquires the device. Opening an already open port is an error so
// overlapping transactions surface instead of silently sharing the handle.
func (p *Port) Open() error {
	if p.port != nil {
		return fmt.Errorf("serial %s: already open", p.cfg.Device)
	}
	sp, err := serial.OpenPort(&serial.Config{
		Name:        p.cfg.Device,
		Baud:        p.cfg.Baud,
		ReadTimeout: p.cfg.Poll,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return fmt.Errorf("serial %s: open: %w", p.cfg.Device, err)
	}
	p.port = sp
	return nil
}

func (p *Port) Write(b []byte) error {
	if p.port == nil {
		return fmt.Errorf("serial %s: write on closed port", p.cfg.Device)
	}
	if _, err := p.port.Write(b); err != nil {
		return fmt.Errorf("serial %s: write: %w", p.cfg.Device, err)
	}
	return nil
}

// Read drains the driver buffer. A zero-length read (io.EOF under a read
// timeout) marks the end of what is currently available.
func (p *Port) Read() ([]byte, error) {
	if p.port == nil {
		return nil, fmt.Errorf("serial %s: read on closed port", p.cfg.Device)
	}

	var out []byte
	buf := make([]byte, 256)
	for {
		n, err := p.port.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) || n == 0 {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("serial %s: read: %w", p.cfg.Device, err)
		}
		if n < len(buf) {
			return out, nil
		}
	}
}

func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return fmt.Errorf("serial %s: close: %w", p.cfg.Device, err)
	}
	return nil
}
