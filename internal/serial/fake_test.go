package serial

import (
	"bytes"
	"errors"
	"testing"
)

func TestFakeAnswersEachWrite(t *testing.T) {
	f := NewFake(func(w []byte) []byte {
		return append([]byte("echo:"), w...)
	})

	if err := f.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Write([]byte{0x01}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("echo:\x01")) {
		t.Fatalf("Read = %q", got)
	}

	// Buffer is drained by the first read.
	got, _ = f.Read()
	if len(got) != 0 {
		t.Fatalf("second Read = %q, want empty", got)
	}

	_ = f.Close()
	if f.IsOpen() {
		t.Fatal("still open after Close")
	}
	if f.Opens() != 1 || len(f.Writes()) != 1 {
		t.Fatalf("opens=%d writes=%d", f.Opens(), len(f.Writes()))
	}
}

func TestFakeRejectsTrafficWhenClosed(t *testing.T) {
	f := NewFake(nil)
	if err := f.Write([]byte{0x00}); err == nil {
		t.Fatal("Write on closed fake should fail")
	}
	if _, err := f.Read(); err == nil {
		t.Fatal("Read on closed fake should fail")
	}
}

func TestFakeOpenError(t *testing.T) {
	boom := errors.New("no such device")
	f := &Fake{OpenErr: boom}
	if err := f.Open(); !errors.Is(err, boom) {
		t.Fatalf("Open = %v, want %v", err, boom)
	}
}

func TestPortClosedOperations(t *testing.T) {
	p := NewPort(Config{Device: "/dev/does-not-exist", Baud: 9600})
	if err := p.Write([]byte{0x00}); err == nil {
		t.Fatal("Write before Open should fail")
	}
	if _, err := p.Read(); err == nil {
		t.Fatal("Read before Open should fail")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close on never-opened port: %v", err)
	}
	if err := p.Open(); err == nil {
		t.Fatal("Open of a missing device should fail")
	}
}
