package transceiver

import (
	"fmt"

	"github.com/large-farva/ground-station/internal/instrument"
)

// CI-V framing bytes.
const (
	preamble      = 0xFE
	endOfMessage  = 0xFD
	controllerAdr = 0x00
)

// CI-V command codes used by the controller.
const (
	cmdSetFrequency  = 0x00
	cmdSetMode       = 0x01
	cmdReadFrequency = 0x03
	cmdReadMode      = 0x04
	cmdBand          = 0x07
	subSwapMainSub   = 0xB0
)

// Command is one CI-V frame: FE FE addr 00 code [sub] [data...] FD.
type Command struct {
	Address byte
	Code    byte
	// Sub is nil when the command carries no sub-command. Any byte value,
	// 0xFF included, is a real sub-command when present.
	Sub  *byte
	Data []byte
}

// SubCommand is a convenience for filling Command.Sub.
func SubCommand(b byte) *byte { return &b }

// Bytes serialises the frame.
func (c Command) Bytes() []byte {
	out := make([]byte, 0, 7+len(c.Data))
	out = append(out, preamble, preamble, c.Address, controllerAdr, c.Code)
	if c.Sub != nil {
		out = append(out, *c.Sub)
	}
	out = append(out, c.Data...)
	return append(out, endOfMessage)
}

// frequencyDigits is the number of decimal digits a CI-V frequency carries.
const frequencyDigits = 10

// EncodeFrequency packs hz into five BCD bytes, least significant pair
// first. Each byte holds two digits with the more significant one in the
// high nibble.
func EncodeFrequency(hz int64) ([]byte, error) {
	if hz < 0 || hz > 9_999_999_999 {
		return nil, fmt.Errorf("frequency %d Hz does not fit %d digits: %w", hz, frequencyDigits, instrument.ErrOutOfRange)
	}
	out := make([]byte, frequencyDigits/2)
	for i := range out {
		lo := byte(hz % 10)
		hz /= 10
		hi := byte(hz % 10)
		hz /= 10
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// DecodeFrequency is the inverse of EncodeFrequency. b must hold five bytes
// in wire order (least significant pair first).
func DecodeFrequency(b []byte) (int64, error) {
	if len(b) != frequencyDigits/2 {
		return 0, fmt.Errorf("frequency field is %d bytes, want %d: %w", len(b), frequencyDigits/2, instrument.ErrProtocol)
	}
	var hz int64
	for i := len(b) - 1; i >= 0; i-- {
		hi, lo := int64(b[i]>>4), int64(b[i]&0x0F)
		if hi > 9 || lo > 9 {
			return 0, fmt.Errorf("byte %#02x is not BCD: %w", b[i], instrument.ErrProtocol)
		}
		hz = hz*100 + hi*10 + lo
	}
	return hz, nil
}
