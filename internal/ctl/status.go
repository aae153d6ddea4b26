package ctl

import (
	"fmt"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Satellite     string `json:"satellite"`
	ScheduleMode  string `json:"schedule_mode"`
	Rotator       string `json:"rotator"`
	Transceiver   string `json:"transceiver"`
	DataRoot      string `json:"data_root"`
	Paused        bool   `json:"paused"`
	PlanFinished  bool   `json:"plan_finished"`
	WSClients     int64  `json:"ws_clients"`
	CurrentPass   *struct {
		Satellite string    `json:"satellite"`
		AOS       time.Time `json:"aos"`
		LOS       time.Time `json:"los"`
		MaxElev   float64   `json:"max_elev"`
		Steps     int       `json:"steps"`
		Index     int       `json:"index"`
	} `json:"current_pass,omitempty"`
	Disk *struct {
		TotalBytes     uint64 `json:"total_bytes"`
		AvailableBytes uint64 `json:"available_bytes"`
	} `json:"disk,omitempty"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	var s StatusResponse
	if err := getJSON(httpClient, baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	scheduling := s.ScheduleMode
	switch {
	case s.Paused:
		scheduling += colorize(yellow, " (paused)")
	case s.PlanFinished:
		scheduling += colorize(dim, " (plan finished)")
	}

	line := func(label, value string) {
		fmt.Fprintf(stdout, "  %-14s %s\n", colorize(dim, label), value)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  GROUND STATION STATUS"))
	rule(40)
	line("Daemon:", s.Name)
	line("State:", colorize(stateColor(s.State), s.State))
	line("Uptime:", formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	line("Satellite:", s.Satellite)
	line("Scheduling:", scheduling)
	line("Rotator:", s.Rotator)
	line("Transceiver:", s.Transceiver)
	line("Data:", s.DataRoot)
	if s.Disk != nil {
		line("Disk free:", formatBytes(int64(s.Disk.AvailableBytes))+" of "+formatBytes(int64(s.Disk.TotalBytes)))
	}
	line("Watchers:", fmt.Sprint(s.WSClients))

	if p := s.CurrentPass; p != nil {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, header("  CURRENT PASS"))
		rule(40)
		line("Pass:", fmt.Sprintf("#%d %s", p.Index, p.Satellite))
		line("AOS:", p.AOS.Local().Format("2006-01-02 15:04:05 MST"))
		line("LOS:", p.LOS.Local().Format("2006-01-02 15:04:05 MST"))
		line("Max elev:", fmt.Sprintf("%.1f°", p.MaxElev))
		line("Steps:", fmt.Sprint(p.Steps))
		if until := time.Until(p.AOS); until > 0 {
			line("AOS in:", formatDuration(until))
		}
	}
	fmt.Fprintln(stdout)
	return nil
}
