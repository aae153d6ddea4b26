package pass

import (
	"strings"
	"testing"
	"time"
)

func sample() Profile {
	aos := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Profile{
		Satellite:      "ISS",
		AOS:            aos,
		LOS:            aos.Add(15 * time.Second),
		SampleInterval: 5 * time.Second,
		NominalFreqHz:  145800000,
		Azimuth:        []float64{10, 20, 359.7},
		Elevation:      []float64{-0.2, 15.4, 30.5},
		DopplerFreqHz:  []int64{145803000, 145800000, 145797000},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Profile)
		want   string
	}{
		{"valid", func(*Profile) {}, ""},
		{"los before aos", func(p *Profile) { p.LOS = p.AOS }, "not before LOS"},
		{"zero interval", func(p *Profile) { p.SampleInterval = 0 }, "sample interval"},
		{"empty", func(p *Profile) { p.Azimuth, p.Elevation, p.DopplerFreqHz = nil, nil, nil }, "no steps"},
		{"ragged", func(p *Profile) { p.DopplerFreqHz = p.DopplerFreqHz[:2] }, "lengths differ"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := sample()
			tc.mutate(&p)
			err := p.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestPointRoundsAndWraps(t *testing.T) {
	p := sample()
	want := [][2]int{{10, 0}, {20, 15}, {0, 31}}
	for i, w := range want {
		az, el := p.Point(i)
		if az != w[0] || el != w[1] {
			t.Errorf("Point(%d) = (%d,%d), want (%d,%d)", i, az, el, w[0], w[1])
		}
	}
}

func TestPointRoundsNegativeAzimuth(t *testing.T) {
	tests := []struct {
		az, el         float64
		wantAz, wantEl int
	}{
		{-1.7, -0.4, 358, 0},
		{-0.5, 2.5, 359, 3},
		{359.6, 89.5, 0, 90},
	}
	for _, tt := range tests {
		p := Profile{Azimuth: []float64{tt.az}, Elevation: []float64{tt.el}, DopplerFreqHz: []int64{1}}
		if az, el := p.Point(0); az != tt.wantAz || el != tt.wantEl {
			t.Errorf("Point(az=%v, el=%v) = (%d,%d), want (%d,%d)", tt.az, tt.el, az, el, tt.wantAz, tt.wantEl)
		}
	}
}

func TestTiming(t *testing.T) {
	p := sample()
	if p.Duration() != 15*time.Second {
		t.Fatalf("Duration = %s", p.Duration())
	}
	if got := p.StepTime(2); !got.Equal(p.AOS.Add(10 * time.Second)) {
		t.Fatalf("StepTime(2) = %s", got)
	}
}
