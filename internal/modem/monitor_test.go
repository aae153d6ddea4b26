package modem

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/telemetry"
)

type fakeProcess struct {
	mu    sync.Mutex
	kills int
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	return nil
}

func (p *fakeProcess) Wait() error { return nil }

type fakeLauncher struct {
	proc      *fakeProcess
	err       error
	dir, name string
	args      []string
}

func (l *fakeLauncher) Start(_ context.Context, dir, name string, args ...string) (Process, error) {
	l.dir, l.name, l.args = dir, name, args
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

type fakeDialer struct {
	conn net.Conn
	err  error
	addr string
}

func (d *fakeDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.addr = address
	return d.conn, d.err
}

func newTestMonitor(l Launcher, d Dialer) *Monitor {
	m := New(config.ModemConfig{
		Dir:        "/opt/direwolf",
		Executable: "direwolf",
		Baud:       1200,
		KISSPort:   8001,
	}, telemetry.Discard())
	m.Launcher = l
	m.Dialer = d
	m.poll = 5 * time.Millisecond
	return m
}

func TestRunFramesBursts(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		server.Write([]byte{0xC0, 0x00})
		time.Sleep(30 * time.Millisecond)
		server.Write([]byte{0xC1})
	}()

	proc := &fakeProcess{}
	launcher := &fakeLauncher{proc: proc}
	dialer := &fakeDialer{conn: client}
	m := newTestMonitor(launcher, dialer)

	var seen []int
	m.OnPacket = func(i int, _ Packet) { seen = append(seen, i) }

	packets, err := m.Run(context.Background(), 150*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2: %v", len(packets), packets)
	}
	if !bytes.Equal(packets[0], []byte{0xC0, 0x00}) || !bytes.Equal(packets[1], []byte{0xC1}) {
		t.Fatalf("packets = % X", packets)
	}
	if len(seen) != 2 || seen[1] != 1 {
		t.Fatalf("OnPacket indices = %v", seen)
	}

	if launcher.name != "/opt/direwolf/direwolf" || launcher.dir != "/opt/direwolf" {
		t.Fatalf("launched %q in %q", launcher.name, launcher.dir)
	}
	if len(launcher.args) != 2 || launcher.args[0] != "-B" || launcher.args[1] != "1200" {
		t.Fatalf("args = %v", launcher.args)
	}
	if dialer.addr != "localhost:8001" {
		t.Fatalf("dialed %q", dialer.addr)
	}
	if proc.kills != 1 {
		t.Fatalf("modem killed %d times, want 1", proc.kills)
	}
}

func TestRunKeepsLargeBurstWhole(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	burst := bytes.Repeat([]byte{0xAB}, 6000)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write(burst)
		time.Sleep(200 * time.Millisecond)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	// Let the whole burst land in the socket buffer before monitoring.
	time.Sleep(50 * time.Millisecond)

	m := newTestMonitor(&fakeLauncher{proc: &fakeProcess{}}, &fakeDialer{conn: client})
	packets, err := m.Run(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(packets) != 1 || len(packets[0]) != len(burst) {
		sizes := make([]int, len(packets))
		for i, p := range packets {
			sizes[i] = len(p)
		}
		t.Fatalf("packet sizes = %v, want [%d]", sizes, len(burst))
	}
}

func TestRunSilentModemStopsAtDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	m := newTestMonitor(&fakeLauncher{proc: &fakeProcess{}}, &fakeDialer{conn: client})
	start := time.Now()
	packets, err := m.Run(context.Background(), 40*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(packets) != 0 {
		t.Fatalf("got %d packets from a silent modem", len(packets))
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("returned before the deadline")
	}
}

func TestRunLaunchFailure(t *testing.T) {
	m := newTestMonitor(&fakeLauncher{err: errors.New("no such file")}, &fakeDialer{})
	if _, err := m.Run(context.Background(), time.Second); !errors.Is(err, instrument.ErrSpawn) {
		t.Fatalf("err = %v, want ErrSpawn", err)
	}
}

func TestRunDialFailureKillsModem(t *testing.T) {
	proc := &fakeProcess{}
	m := newTestMonitor(&fakeLauncher{proc: proc}, &fakeDialer{err: errors.New("connection refused")})
	if _, err := m.Run(context.Background(), time.Second); !errors.Is(err, instrument.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if proc.kills != 1 {
		t.Fatalf("modem killed %d times, want 1", proc.kills)
	}
}
