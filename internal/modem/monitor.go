// Package modem runs the external packet modem (Dire Wolf) for the length
// of a pass and collects what it decodes from its KISS TCP port.
package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Packet is one burst read off the KISS socket, left undecoded.
type Packet []byte

// Process is a started modem.
type Process interface {
	Kill() error
	Wait() error
}

// Launcher starts the modem executable in dir.
type Launcher interface {
	Start(ctx context.Context, dir, name string, args ...string) (Process, error)
}

// Dialer opens the KISS socket. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Monitor owns one modem session at a time.
type Monitor struct {
	Launcher Launcher
	Dialer   Dialer
	// OnPacket, when set, is called for every packet as it arrives.
	OnPacket func(index int, p Packet)

	dir        string
	executable string
	baud       int
	kissPort   int
	settle     time.Duration
	// poll bounds each wait for the first byte of a burst, so the deadline
	// is noticed promptly.
	poll time.Duration
	// settleRead is how long the stream may stay quiet before a burst is
	// considered complete.
	settleRead time.Duration
	log        telemetry.Logger
}

// New returns a Monitor that launches the configured executable with the
// real process launcher and a TCP dialer.
func New(cfg config.ModemConfig, log telemetry.Logger) *Monitor {
	return &Monitor{
		Launcher:   execLauncher{},
		Dialer:     &net.Dialer{Timeout: 5 * time.Second},
		dir:        cfg.Dir,
		executable: cfg.Executable,
		baud:       cfg.Baud,
		kissPort:   cfg.KISSPort,
		settle:     time.Duration(cfg.SettleMillis) * time.Millisecond,
		poll:       100 * time.Millisecond,
		settleRead: 5 * time.Millisecond,
		log:        log.With("modem"),
	}
}

// Run launches the modem, connects to its KISS port and gathers packets
// until d has elapsed, then kills the modem. Launch and connection failures
// are not retried.
func (m *Monitor) Run(ctx context.Context, d time.Duration) ([]Packet, error) {
	name := m.executable
	if m.dir != "" && filepath.Base(name) == name {
		name = filepath.Join(m.dir, name)
	}
	args := []string{"-B", strconv.Itoa(m.baud)}

	m.log.Debugf("starting %s %v in %s", name, args, m.dir)
	proc, err := m.Launcher.Start(ctx, m.dir, name, args...)
	if err != nil {
		return nil, fmt.Errorf("modem: start %s: %v: %w", name, err, instrument.ErrSpawn)
	}
	defer func() {
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.log.Warnf("kill modem: %v", err)
		}
		_ = proc.Wait()
	}()

	timer := time.NewTimer(m.settle)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	addr := net.JoinHostPort("localhost", strconv.Itoa(m.kissPort))
	conn, err := m.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("modem: KISS port %s: %v: %w", addr, err, instrument.ErrConnection)
	}
	defer conn.Close()

	m.log.Infof("modem up, monitoring %s for %s", addr, d)
	return m.collect(ctx, conn, time.Now().Add(d))
}

// collect frames the stream into bursts: everything available once the
// first byte arrives becomes one packet.
func (m *Monitor) collect(ctx context.Context, conn net.Conn, end time.Time) ([]Packet, error) {
	br := bufio.NewReader(conn)
	var packets []Packet

	for time.Now().Before(end) {
		if ctx.Err() != nil {
			return packets, ctx.Err()
		}
		wait := time.Now().Add(m.poll)
		if wait.After(end) {
			wait = end
		}
		if err := conn.SetReadDeadline(wait); err != nil {
			return packets, fmt.Errorf("modem: %w", err)
		}

		first, err := br.ReadByte()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				m.log.Warnf("KISS port closed by modem")
				return packets, nil
			}
			return packets, fmt.Errorf("modem: read: %w", err)
		}

		p, err := m.drain(conn, br, first)
		if err != nil && !errors.Is(err, io.EOF) {
			return packets, fmt.Errorf("modem: read: %w", err)
		}
		packets = append(packets, p)
		m.log.Infof("received packet %d (%d bytes):\n%s", len(packets), len(p), instrument.HexDump(p))
		if m.OnPacket != nil {
			m.OnPacket(len(packets)-1, p)
		}
		if errors.Is(err, io.EOF) {
			m.log.Warnf("KISS port closed by modem")
			return packets, nil
		}
	}

	m.log.Debugf("monitoring complete, %d packets", len(packets))
	return packets, nil
}

// drain reads the rest of a burst: bytes keep joining the packet until a read
// waits m.settleRead with nothing arriving. A burst may exceed the reader's
// buffer.
func (m *Monitor) drain(conn net.Conn, br *bufio.Reader, first byte) (Packet, error) {
	p := Packet{first}
	for {
		if n := br.Buffered(); n > 0 {
			chunk := make([]byte, n)
			if _, err := io.ReadFull(br, chunk); err != nil {
				return p, err
			}
			p = append(p, chunk...)
			continue
		}
		if err := conn.SetReadDeadline(time.Now().Add(m.settleRead)); err != nil {
			return p, err
		}
		b, err := br.ReadByte()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return p, nil
			}
			return p, err
		}
		p = append(p, b)
	}
}

type execLauncher struct{}

func (execLauncher) Start(ctx context.Context, dir, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd}, nil
}

type execProcess struct{ cmd *exec.Cmd }

func (p execProcess) Kill() error { return p.cmd.Process.Kill() }
func (p execProcess) Wait() error { return p.cmd.Wait() }
