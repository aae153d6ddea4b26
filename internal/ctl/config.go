package ctl

import (
	"fmt"
	"sort"
)

// configSections is the order sections appear in stationd.toml.
var configSections = []string{
	"data", "logging", "server", "station", "satellite", "predict",
	"rotator", "transceiver", "modem", "recorder", "schedule", "tracing",
}

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	var cfg map[string]map[string]any
	if err := getJSON(httpClient, baseURL, "/api/config", &cfg); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cfg)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  DAEMON CONFIGURATION"))
	rule(50)

	for _, name := range configSections {
		fields, ok := cfg[name]
		if !ok {
			continue
		}
		fmt.Fprintf(stdout, "\n  %s\n", colorize(bold, "["+name+"]"))
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(stdout, "    %-22s %v\n", colorize(dim, k+":"), fields[k])
		}
	}
	fmt.Fprintln(stdout)
	return nil
}
