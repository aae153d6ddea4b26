package ctl

import (
	"fmt"
	"strconv"
	"time"
)

// HistoryOptions controls the history command.
type HistoryOptions struct {
	Limit int
	JSON  bool
}

type historyEntry struct {
	Satellite     string    `json:"satellite"`
	AOS           time.Time `json:"aos"`
	LOS           time.Time `json:"los"`
	MaxElevation  float64   `json:"max_elevation"`
	Steps         int       `json:"steps"`
	DriftSteps    int       `json:"drift_steps"`
	RotatorErrors int       `json:"rotator_errors"`
	RadioErrors   int       `json:"radio_errors"`
	Packets       []struct {
		Bytes int `json:"bytes"`
	} `json:"packets"`
	Audio *struct {
		Bytes int64 `json:"bytes"`
	} `json:"audio,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// History lists archived passes, newest first.
func History(baseURL string, opts HistoryOptions) error {
	path := "/api/history"
	if opts.Limit > 0 {
		path += "?limit=" + strconv.Itoa(opts.Limit)
	}
	var resp struct {
		Passes []historyEntry `json:"passes"`
	}
	if err := getJSON(httpClient, baseURL, path, &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  PASS HISTORY"))
	rule(76)
	if len(resp.Passes) == 0 {
		fmt.Fprintln(stdout, colorize(dim, "  No passes archived yet."))
		fmt.Fprintln(stdout)
		return nil
	}

	fmt.Fprintf(stdout, "  %-24s %-12s %6s %7s %7s %9s  %s\n",
		"AOS", "Satellite", "Elev", "Steps", "Drift", "Audio", "Packets")
	rule(76)
	for _, h := range resp.Passes {
		audio := "-"
		if h.Audio != nil {
			audio = formatBytes(h.Audio.Bytes)
		}
		status := ""
		if n := h.RotatorErrors + h.RadioErrors + len(h.Errors); n > 0 {
			status = colorize(yellow, fmt.Sprintf("  %d errors", n))
		}
		fmt.Fprintf(stdout, "  %-24s %-12s %5.1f° %7d %7d %9s  %d%s\n",
			h.AOS.Local().Format("2006-01-02 15:04:05 MST"),
			h.Satellite,
			h.MaxElevation,
			h.Steps,
			h.DriftSteps,
			audio,
			len(h.Packets),
			status,
		)
	}
	fmt.Fprintln(stdout)
	return nil
}
