package transceiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/large-farva/ground-station/internal/instrument"
	"github.com/large-farva/ground-station/internal/serial"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// Replies arrive after the radio's echo of the request (6 bytes) and the
// reply header FE FE 00 addr cmd, so the payload starts at byte 11.
const replyOffset = 11

// IC9100 controls an Icom IC-9100.
type IC9100 struct {
	// ReplyDelay is how long the radio needs before a reply can be read.
	ReplyDelay time.Duration

	link  serial.Link
	addr  byte
	bands Bands
	log   telemetry.Logger

	freq int64
	mode Modulation
}

func NewIC9100(link serial.Link, addr byte, bands Bands, log telemetry.Logger) *IC9100 {
	return &IC9100{
		ReplyDelay: 200 * time.Millisecond,
		link:       link,
		addr:       addr,
		bands:      bands,
		log:        log,
	}
}

func (r *IC9100) Frequency() int64       { return r.freq }
func (r *IC9100) Modulation() Modulation { return r.mode }

// Read refreshes frequency and mode from the radio.
func (r *IC9100) Read(ctx context.Context) error {
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}
	defer r.link.Close()
	return r.query(ctx)
}

func (r *IC9100) query(ctx context.Context) error {
	// Anything still buffered (a set acknowledgement, a transceive
	// broadcast) would shift the reply offsets.
	if _, err := r.link.Read(); err != nil {
		return fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}

	resp, err := r.transact(ctx, Command{Address: r.addr, Code: cmdReadFrequency})
	if err != nil {
		return err
	}
	if len(resp) < replyOffset+5 {
		r.log.Debugf("short frequency reply:\n%s", instrument.HexDump(resp))
		return fmt.Errorf("ic9100: frequency reply is %d bytes: %w", len(resp), instrument.ErrProtocol)
	}
	freq, err := DecodeFrequency(resp[replyOffset : replyOffset+5])
	if err != nil {
		r.log.Debugf("malformed frequency reply:\n%s", instrument.HexDump(resp))
		return fmt.Errorf("ic9100: %w", err)
	}

	resp, err = r.transact(ctx, Command{Address: r.addr, Code: cmdReadMode})
	if err != nil {
		return err
	}
	if len(resp) < replyOffset+1 {
		r.log.Debugf("short mode reply:\n%s", instrument.HexDump(resp))
		return fmt.Errorf("ic9100: mode reply is %d bytes: %w", len(resp), instrument.ErrProtocol)
	}

	r.freq = freq
	r.mode = Modulation(resp[replyOffset])
	return nil
}

// transact writes one command on the open link and returns the reply.
func (r *IC9100) transact(ctx context.Context, c Command) ([]byte, error) {
	if err := r.link.Write(c.Bytes()); err != nil {
		return nil, fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}
	if err := sleep(ctx, r.ReplyDelay); err != nil {
		return nil, err
	}
	resp, err := r.link.Read()
	if err != nil {
		return nil, fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("ic9100: no reply to command %#02x: %w", c.Code, instrument.ErrConnection)
	}
	return resp, nil
}

func (r *IC9100) TestConnection(ctx context.Context) error {
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}
	qerr := r.query(ctx)
	cerr := r.link.Close()
	return errors.Join(qerr, cerr)
}

// SetFrequency tunes the main receiver. Moving between band A and band B
// first swaps main and sub, since both cannot sit in the same band.
func (r *IC9100) SetFrequency(ctx context.Context, hz int64) error {
	if !r.bands.Valid(hz) {
		return fmt.Errorf("ic9100: %d Hz is outside %s and %s: %w", hz, r.bands.A.Name, r.bands.B.Name, instrument.ErrOutOfRange)
	}
	data, err := EncodeFrequency(hz)
	if err != nil {
		return err
	}

	if r.bands.A.Contains(r.freq) != r.bands.A.Contains(hz) {
		if err := r.swapMainSub(ctx); err != nil {
			return err
		}
		r.log.Debugf("main/sub swapped")
	}

	if err := r.write(ctx, Command{Address: r.addr, Code: cmdSetFrequency, Data: data}); err != nil {
		return err
	}
	if err := r.Read(ctx); err != nil {
		return err
	}
	if r.freq != hz {
		return fmt.Errorf("ic9100: set %d Hz, radio reports %d Hz: %w", hz, r.freq, instrument.ErrProtocol)
	}
	return nil
}

func (r *IC9100) swapMainSub(ctx context.Context) error {
	before := r.freq
	if err := r.write(ctx, Command{Address: r.addr, Code: cmdBand, Sub: SubCommand(subSwapMainSub)}); err != nil {
		return err
	}
	if err := r.Read(ctx); err != nil {
		return err
	}
	if r.freq == before {
		return fmt.Errorf("ic9100: main/sub swap left frequency at %d Hz: %w", before, instrument.ErrProtocol)
	}
	return nil
}

func (r *IC9100) SetModulation(ctx context.Context, m Modulation) error {
	if m != FM && m != AM {
		return fmt.Errorf("ic9100: unsupported modulation %s: %w", m, instrument.ErrOutOfRange)
	}
	if err := r.write(ctx, Command{Address: r.addr, Code: cmdSetMode, Data: []byte{byte(m)}}); err != nil {
		return err
	}
	if err := r.Read(ctx); err != nil {
		return err
	}
	if r.mode != m {
		return fmt.Errorf("ic9100: set %s, radio reports %s: %w", m, r.mode, instrument.ErrProtocol)
	}
	return nil
}

// write sends a set command and holds the link for one reply delay so the
// radio has acted on it before anything is read back.
func (r *IC9100) write(ctx context.Context, c Command) error {
	if err := r.link.Open(); err != nil {
		return fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}
	defer r.link.Close()
	if err := r.link.Write(c.Bytes()); err != nil {
		return fmt.Errorf("ic9100: %v: %w", err, instrument.ErrConnection)
	}
	return sleep(ctx, r.ReplyDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
