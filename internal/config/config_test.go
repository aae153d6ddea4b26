package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadLayersOnDefaults(t *testing.T) {
	path := writeConfig(t, `
[satellite]
name = "ISS"
norad_id = 25544
downlink_hz = 145800000

[rotator]
model = "gs232b"
device = "/dev/ttyUSB0"
calibration_path = "/etc/ground-station/rotator.cal"

[transceiver]
model = "ic9100"
device = "/dev/ttyUSB1"
address = "0x7C"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Rotator.Baud != 9600 {
		t.Errorf("rotator.baud = %d, want default 9600", cfg.Rotator.Baud)
	}
	if cfg.Predict.StepSeconds != 5 {
		t.Errorf("predict.step_seconds = %d, want 5", cfg.Predict.StepSeconds)
	}
	if cfg.Transceiver.BandALowHz != 144000000 || cfg.Transceiver.BandBHighHz != 450000000 {
		t.Errorf("band defaults not applied: %+v", cfg.Transceiver)
	}
	addr, err := cfg.Transceiver.CIVAddress()
	if err != nil || addr != 0x7C {
		t.Errorf("CIVAddress = %#x, %v; want 0x7c", addr, err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no satellite",
			body: ``,
			want: "satellite.name",
		},
		{
			name: "unknown rotator",
			body: "[satellite]\nname = \"X\"\n[rotator]\nmodel = \"spid\"\n",
			want: "rotator.model",
		},
		{
			name: "physical rotator without calibration",
			body: "[satellite]\nname = \"X\"\n[rotator]\nmodel = \"rot2prog\"\ndevice = \"/dev/ttyUSB0\"\n",
			want: "rotator.calibration_path",
		},
		{
			name: "bad civ address",
			body: "[satellite]\nname = \"X\"\n[transceiver]\nmodel = \"ic9100\"\ndevice = \"/dev/ttyUSB1\"\naddress = \"zz\"\n",
			want: "transceiver.address",
		},
		{
			name: "indices without list",
			body: "[satellite]\nname = \"X\"\n[schedule]\nmode = \"indices\"\n",
			want: "schedule.indices",
		},
		{
			name: "inverted band",
			body: "[satellite]\nname = \"X\"\n[transceiver]\nband_a_low_hz = 150000000\n",
			want: "band ranges",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("Load succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("Load of a missing file should fail")
	}
}
