package ctl

import (
	"fmt"
	"net/http"
)

// Pause stops the daemon planning new passes.
func Pause(baseURL string, jsonOutput bool) error {
	return runnerCommand(baseURL, "/api/scheduler/pause", "PAUSED", jsonOutput)
}

// Resume lets the daemon plan passes again.
func Resume(baseURL string, jsonOutput bool) error {
	return runnerCommand(baseURL, "/api/scheduler/resume", "RESUMED", jsonOutput)
}

// Skip drops the pass the daemon is waiting for. A pass already tracking
// cannot be skipped.
func Skip(baseURL string, jsonOutput bool) error {
	return runnerCommand(baseURL, "/api/scheduler/skip", "SKIPPED", jsonOutput)
}

// TLERefresh makes the daemon fetch fresh element sets.
func TLERefresh(baseURL string, jsonOutput bool) error {
	return runnerCommand(baseURL, "/api/tle/refresh", "REFRESHED", jsonOutput)
}

func runnerCommand(baseURL, path, label string, jsonOutput bool) error {
	result, status, err := postCommand(baseURL, path)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}

	switch {
	case status == http.StatusAccepted:
		fmt.Fprintf(stdout, "\n  %s  %s\n\n", colorize(yellow, "QUEUED"), result.Message)
	case result.OK:
		fmt.Fprintf(stdout, "\n  %s  %s\n\n", colorize(green, label), result.Message)
	default:
		fmt.Fprintf(stdout, "\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
	return nil
}
