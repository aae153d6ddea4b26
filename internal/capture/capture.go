// Package capture records pass audio to WAV files, either from an ALSA input
// through arecord or from a synthetic tone when no sound card is attached.
// Recordings land in a spool directory; storage moves them into the pass
// directory once the pass is done.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/large-farva/ground-station/internal/config"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Audio describes one finished recording.
type Audio struct {
	Path       string        `json:"path" yaml:"path"`
	SampleRate int           `json:"sample_rate" yaml:"sample_rate"`
	Bytes      int64         `json:"bytes" yaml:"bytes"`
	Started    time.Time     `json:"started" yaml:"started"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Recorder captures audio for a fixed duration.
type Recorder interface {
	Capture(ctx context.Context, duration time.Duration, sampleRateHz int) (Audio, error)
}

// Runner is the Recorder used by the daemon.
type Runner struct {
	hub      telemetry.Broadcaster
	log      telemetry.Logger
	spool    string
	device   string
	simulate bool
}

// New builds a Runner from config. recorder.model = "simulated" selects the
// tone generator.
func New(cfg config.Config, hub telemetry.Broadcaster, log telemetry.Logger) *Runner {
	return &Runner{
		hub:      hub,
		log:      log.With("capture"),
		spool:    filepath.Join(cfg.Data.Root, "spool"),
		device:   cfg.Recorder.Device,
		simulate: cfg.Recorder.Model == "simulated",
	}
}

// Capture records for duration at sampleRateHz and blocks until done or ctx
// is cancelled. A cancelled capture still returns what was written.
func (r *Runner) Capture(ctx context.Context, duration time.Duration, sampleRateHz int) (Audio, error) {
	if duration <= 0 || sampleRateHz <= 0 {
		return Audio{}, fmt.Errorf("capture: invalid duration %s or sample rate %d", duration, sampleRateHz)
	}
	if err := os.MkdirAll(r.spool, 0o755); err != nil {
		return Audio{}, fmt.Errorf("capture: spool dir: %w", err)
	}

	started := time.Now().UTC()
	path := filepath.Join(r.spool, "audio_"+started.Format("20060102T150405.000Z")+".wav")
	f, err := os.Create(path)
	if err != nil {
		return Audio{}, fmt.Errorf("create wav: %w", err)
	}
	// The file is only handed to the caller once audio has been written;
	// every earlier failure takes it back off the spool.
	keep := false
	defer func() {
		f.Close()
		if !keep {
			os.Remove(path)
		}
	}()

	if err := writeWAVHeader(f, uint32(sampleRateHz)); err != nil {
		return Audio{}, fmt.Errorf("write wav header: %w", err)
	}

	mode := "arecord"
	if r.simulate {
		mode = "simulated"
	}
	r.log.Infof("starting %s capture, %s at %d Hz -> %s", mode, duration, sampleRateHz, path)

	var written int64
	var captureErr error
	if r.simulate {
		written, captureErr = r.tone(ctx, f, duration, sampleRateHz)
	} else {
		written, captureErr = r.arecord(ctx, f, duration, sampleRateHz)
	}

	if captureErr != nil && written == 0 {
		return Audio{}, captureErr
	}
	keep = true

	if err := finalizeWAV(f, uint32(sampleRateHz)); err != nil {
		r.log.Warnf("failed to finalize WAV header: %v", err)
	}

	audio := Audio{
		Path:       path,
		SampleRate: sampleRateHz,
		Bytes:      written,
		Started:    started,
		Duration:   time.Since(started),
	}
	r.log.Infof("finished capture, %d bytes written to %s", written, filepath.Base(path))
	return audio, captureErr
}

// arecord pipes raw PCM from arecord into the WAV file. arecord stops itself
// after the requested seconds; the context deadline is a backstop.
func (r *Runner) arecord(ctx context.Context, f io.Writer, d time.Duration, rate int) (int64, error) {
	runCtx, cancel := context.WithTimeout(ctx, d+5*time.Second)
	defer cancel()

	secs := int(math.Ceil(d.Seconds()))
	cmd := exec.CommandContext(runCtx, "arecord",
		"-q",
		"-D", r.device,
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(rate),
		"-t", "raw",
		"-d", strconv.Itoa(secs),
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start arecord: %w", err)
	}

	written := r.stream(runCtx, f, stdout, d)

	if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
		return written, fmt.Errorf("arecord: %w", err)
	}
	return written, nil
}

// tone writes a 1200 Hz sine, paced to real time in 100 ms chunks.
func (r *Runner) tone(ctx context.Context, f io.Writer, d time.Duration, rate int) (int64, error) {
	const freq = 1200.0
	chunk := rate / 10
	if chunk == 0 {
		chunk = 1
	}
	total := int(int64(d) * int64(rate) / int64(time.Second))
	buf := make([]byte, chunk*2)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	var written int64
	lastReport := time.Now()
	for n := 0; n < total; {
		k := chunk
		if n+k > total {
			k = total - n
		}
		for i := 0; i < k; i++ {
			t := float64(n+i) / float64(rate)
			s := int16(16000.0 * math.Sin(2.0*math.Pi*freq*t))
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
		}
		nw, err := f.Write(buf[:k*2])
		written += int64(nw)
		if err != nil {
			return written, fmt.Errorf("simulated write: %w", err)
		}
		n += k

		if time.Since(lastReport) >= 2*time.Second {
			r.progress(float64(n)/float64(total)*100, fmt.Sprintf("simulated capture: %d bytes", written))
			lastReport = time.Now()
		}

		select {
		case <-ctx.Done():
			return written, nil
		case <-tick.C:
		}
	}
	return written, nil
}

// stream copies PCM from src to dst, reporting progress every 2 seconds.
func (r *Runner) stream(ctx context.Context, dst io.Writer, src io.Reader, total time.Duration) int64 {
	buf := make([]byte, 8192)
	var written int64
	start := time.Now()
	lastReport := start

	for ctx.Err() == nil {
		n, readErr := src.Read(buf)
		if n > 0 {
			nw, err := dst.Write(buf[:n])
			written += int64(nw)
			if err != nil {
				r.log.Errorf("write error: %v", err)
				return written
			}
		}

		if time.Since(lastReport) >= 2*time.Second {
			pct := math.Min(time.Since(start).Seconds()/total.Seconds()*100, 100)
			r.progress(pct, fmt.Sprintf("capture: %d bytes", written))
			lastReport = time.Now()
		}

		if errors.Is(readErr, io.EOF) {
			return written
		}
		if readErr != nil {
			r.log.Errorf("read error: %v", readErr)
			return written
		}
	}
	return written
}

func (r *Runner) progress(pct float64, detail string) {
	if r.hub == nil {
		return
	}
	r.hub.BroadcastJSON(telemetry.Progress{
		Event:   telemetry.NewEvent(telemetry.EventProgress, "capture"),
		Stage:   "recording",
		Percent: pct,
		Detail:  detail,
	})
}
