package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type healthResponse struct {
	Healthy bool                      `json:"healthy"`
	Checks  map[string]map[string]any `json:"checks"`
}

// Health asks the daemon for its component checks via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		// An older daemon only answers plain text.
		h.Healthy = status == 200
	}
	if jsonOutput {
		return printJSON(h)
	}

	fmt.Fprintln(stdout)
	if h.Healthy {
		fmt.Fprintf(stdout, "  %s  stationd is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(stdout, "  %s  stationd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := h.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := check["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		detail := ""
		if e, ok := check["error"].(string); ok {
			detail = e
		} else if age, ok := check["age_s"].(float64); ok {
			detail = "age " + formatDuration(time.Duration(age)*time.Second)
		}
		fmt.Fprintf(stdout, "    %s %s %s\n", mark, padRight(name, 10), colorize(dim, detail))
	}
	fmt.Fprintln(stdout)
	return nil
}
