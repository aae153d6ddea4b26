// Package storage files finished passes under the data root. Each pass gets
// its own directory holding the received packets, the audio recording moved
// in from the capture spool, and a YAML manifest describing the run.
//
//	<root>/passes/<satellite>_<aos>/
//	    manifest.yaml
//	    audio.wav
//	    packets/packet_0000.bin
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/large-farva/ground-station/internal/capture"
	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/telemetry"
)

// AudioFile is the recording's name inside a pass directory.
const AudioFile = "audio.wav"

const (
	manifestFile = "manifest.yaml"
	packetDir    = "packets"
)

// Manifest is written once per pass, after DONE.
type Manifest struct {
	Satellite      string        `yaml:"satellite"        json:"satellite"`
	AOS            time.Time     `yaml:"aos"              json:"aos"`
	LOS            time.Time     `yaml:"los"              json:"los"`
	MaxElevation   float64       `yaml:"max_elevation"    json:"max_elevation"`
	SampleInterval string        `yaml:"sample_interval"  json:"sample_interval"`
	NominalFreqHz  int64         `yaml:"nominal_freq_hz"  json:"nominal_freq_hz"`
	Steps          int           `yaml:"steps"            json:"steps"`
	DriftSteps     int           `yaml:"drift_steps"      json:"drift_steps"`
	RotatorErrors  int           `yaml:"rotator_errors"   json:"rotator_errors"`
	RadioErrors    int           `yaml:"radio_errors"     json:"radio_errors"`
	Packets        []PacketEntry `yaml:"packets"          json:"packets"`
	Audio          *AudioEntry   `yaml:"audio,omitempty"  json:"audio,omitempty"`
	Errors         []string      `yaml:"errors,omitempty" json:"errors,omitempty"`
	Completed      time.Time     `yaml:"completed"        json:"completed"`
}

type PacketEntry struct {
	Index int    `yaml:"index" json:"index"`
	Bytes int    `yaml:"bytes" json:"bytes"`
	File  string `yaml:"file"  json:"file"`
}

type AudioEntry struct {
	File       string `yaml:"file"        json:"file"`
	Bytes      int64  `yaml:"bytes"       json:"bytes"`
	SampleRate int    `yaml:"sample_rate" json:"sample_rate"`
}

// Store writes pass artefacts below root.
type Store struct {
	root string
	log  telemetry.Logger
}

func New(root string, log telemetry.Logger) *Store {
	return &Store{root: filepath.Join(root, "passes"), log: log.With("storage")}
}

// Dir is where everything for p is kept. The name sorts by AOS within one
// satellite.
func (s *Store) Dir(p pass.Profile) string {
	name := sanitize(p.Satellite)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.root, name+"_"+p.AOS.UTC().Format("20060102T150405Z"))
}

// StorePacket writes packet idx of pass p as raw bytes.
func (s *Store) StorePacket(p pass.Profile, idx int, data []byte) error {
	dir := filepath.Join(s.Dir(p), packetDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("packet dir: %w", err)
	}
	path := filepath.Join(dir, packetName(idx))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write packet %d: %w", idx, err)
	}
	s.log.Debugf("stored packet %d (%d bytes) -> %s", idx, len(data), path)
	return nil
}

// StoreAudio moves a spooled recording into the pass directory. The spool
// may sit on another filesystem, in which case the file is copied and the
// original removed.
func (s *Store) StoreAudio(p pass.Profile, a capture.Audio) error {
	if a.Path == "" {
		return errors.New("store audio: recording has no path")
	}
	dir := s.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pass dir: %w", err)
	}
	dst := filepath.Join(dir, AudioFile)
	if err := os.Rename(a.Path, dst); err != nil {
		if err := copyFile(a.Path, dst); err != nil {
			return fmt.Errorf("store audio: %w", err)
		}
		if err := os.Remove(a.Path); err != nil {
			s.log.Warnf("could not remove spooled audio %s: %v", a.Path, err)
		}
	}
	s.log.Infof("stored audio (%d bytes) -> %s", a.Bytes, dst)
	return nil
}

// AudioPath is where StoreAudio puts the recording for p.
func (s *Store) AudioPath(p pass.Profile) string {
	return filepath.Join(s.Dir(p), AudioFile)
}

// WriteManifest serialises m as YAML into the pass directory.
func (s *Store) WriteManifest(p pass.Profile, m Manifest) error {
	dir := s.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pass dir: %w", err)
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, manifestFile))
}

// ReadManifest loads the manifest stored in a pass directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode %s: %w", dir, err)
	}
	return m, nil
}

// History returns the manifests of every stored pass, newest AOS first.
// Directories without a readable manifest are skipped.
func (s *Store) History() ([]Manifest, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := ReadManifest(filepath.Join(s.root, e.Name()))
		if err != nil {
			s.log.Debugf("skipping %s: %v", e.Name(), err)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AOS.After(out[j].AOS) })
	return out, nil
}

func packetName(idx int) string {
	return fmt.Sprintf("packet_%04d.bin", idx)
}

// PacketFile is the manifest-relative path of packet idx.
func PacketFile(idx int) string {
	return packetDir + "/" + packetName(idx)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
