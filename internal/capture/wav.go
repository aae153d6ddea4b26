package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF header for 16-bit LE mono PCM.
type wavHeader struct {
	RiffID        [4]byte
	RiffSize      uint32
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

func newWAVHeader(sampleRate, dataSize uint32) wavHeader {
	const (
		channels = 1
		bits     = 16
	)
	return wavHeader{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      36 + dataSize,
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * channels * bits / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
}

// writeWAVHeader writes a placeholder header; finalizeWAV patches the sizes
// once recording stops.
func writeWAVHeader(w io.Writer, sampleRate uint32) error {
	h := newWAVHeader(sampleRate, 0)
	return binary.Write(w, binary.LittleEndian, &h)
}

// finalizeWAV rewrites the header of f with sizes derived from its length.
func finalizeWAV(f *os.File, sampleRate uint32) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < wavHeaderSize {
		return nil
	}
	h := newWAVHeader(sampleRate, uint32(info.Size()-wavHeaderSize))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, &h)
}

// ReadWAVInfo returns the sample rate and PCM byte count recorded in the
// header of the WAV file at path.
func ReadWAVInfo(path string) (sampleRate int, dataBytes int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var h wavHeader
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return 0, 0, fmt.Errorf("wav header: %w", err)
	}
	if string(h.RiffID[:]) != "RIFF" || string(h.WaveID[:]) != "WAVE" {
		return 0, 0, errors.New("not a RIFF/WAVE file")
	}
	return int(h.SampleRate), int64(h.DataSize), nil
}
