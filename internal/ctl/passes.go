package ctl

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// PassesOptions controls the passes command output.
type PassesOptions struct {
	Count   int
	Refresh bool
	JSON    bool
}

type passRow struct {
	Index     int     `json:"index"`
	Satellite string  `json:"satellite"`
	AOS       string  `json:"aos"`
	LOS       string  `json:"los"`
	MaxElev   float64 `json:"max_elev"`
	DurationS int     `json:"duration_s"`
	Steps     int     `json:"steps"`
	StartAz   int     `json:"start_az"`
	EndAz     int     `json:"end_az"`
}

type passesResponse struct {
	Passes  []passRow `json:"passes"`
	Station struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	} `json:"station"`
}

func fetchPasses(baseURL string, count int, refresh bool) (passesResponse, error) {
	params := url.Values{}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}
	if refresh {
		params.Set("refresh", "1")
	}
	path := "/api/passes"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp passesResponse
	err := getJSON(slowClient, baseURL, path, &resp)
	return resp, err
}

// Passes lists the predicted passes. The # column is the index that
// schedule.indices selects by.
func Passes(baseURL string, opts PassesOptions) error {
	resp, err := fetchPasses(baseURL, opts.Count, opts.Refresh)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  UPCOMING PASSES"))
	fmt.Fprintf(stdout, "  %s %.4f, %.4f, %.0fm\n",
		colorize(dim, "Station:"),
		resp.Station.Lat, resp.Station.Lon, resp.Station.Alt,
	)
	rule(82)

	if len(resp.Passes) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  No upcoming passes found."))
		fmt.Fprintln(stdout)
		return nil
	}

	fmt.Fprintf(stdout, "  %-4s %-24s %-24s %6s %9s %6s  %s\n",
		"#", "AOS", "LOS", "Elev", "Az", "Steps", "Duration")
	rule(82)
	for _, p := range resp.Passes {
		fmt.Fprintf(stdout, "  %-4d %-24s %-24s %5.1f° %4d→%-4d %6d  %s\n",
			p.Index,
			formatTime(p.AOS),
			formatTime(p.LOS),
			p.MaxElev,
			p.StartAz, p.EndAz,
			p.Steps,
			formatDuration(time.Duration(p.DurationS)*time.Second),
		)
	}
	fmt.Fprintln(stdout)
	return nil
}

// NextPass shows the first predicted pass with a countdown to AOS.
func NextPass(baseURL string, jsonOutput bool) error {
	resp, err := fetchPasses(baseURL, 1, false)
	if err != nil {
		return err
	}
	var p *passRow
	if len(resp.Passes) > 0 {
		p = &resp.Passes[0]
	}
	if jsonOutput {
		return printJSON(map[string]any{"pass": p})
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  NEXT PASS"))
	rule(42)
	if p == nil {
		fmt.Fprintln(stdout, "  No upcoming passes found.")
		fmt.Fprintln(stdout)
		return nil
	}

	fmt.Fprintf(stdout, "  Satellite:  %s\n", p.Satellite)
	fmt.Fprintf(stdout, "  AOS:        %s\n", formatTime(p.AOS))
	fmt.Fprintf(stdout, "  LOS:        %s\n", formatTime(p.LOS))
	fmt.Fprintf(stdout, "  Max elev:   %.1f°\n", p.MaxElev)
	fmt.Fprintf(stdout, "  Azimuth:    %d° → %d°\n", p.StartAz, p.EndAz)
	fmt.Fprintf(stdout, "  Duration:   %s\n", formatDuration(time.Duration(p.DurationS)*time.Second))
	if aos, err := time.Parse(time.RFC3339, p.AOS); err == nil {
		if until := time.Until(aos); until > 0 {
			fmt.Fprintf(stdout, "  Countdown:  %s\n", formatDuration(until))
		} else {
			fmt.Fprintf(stdout, "  Status:     %s\n", colorize(green, "NOW"))
		}
	}
	fmt.Fprintln(stdout)
	return nil
}
