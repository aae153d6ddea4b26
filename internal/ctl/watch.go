package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// wsURL maps the daemon's HTTP base URL onto its /ws endpoint.
func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// Watch streams the daemon's WebSocket events to the terminal until ctx is
// cancelled or the daemon closes the connection.
func Watch(ctx context.Context, baseURL string, opts WatchOptions) error {
	target, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "  %s %s\n", colorize(green, "connected"), colorize(dim, target))
		if len(opts.Filter) > 0 {
			fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		rule(50)
		fmt.Fprintln(stdout)
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if len(filterSet) > 0 {
				var ev struct {
					Type string `json:"type"`
				}
				if err := json.Unmarshal(msg, &ev); err == nil && !filterSet[ev.Type] {
					continue
				}
			}
			if opts.JSON {
				fmt.Fprintln(stdout, string(msg))
			} else {
				renderEvent(msg)
			}
		}
	}()

	select {
	case <-ctx.Done():
		if !opts.JSON {
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// renderEvent prints one event in a human-friendly format. Unknown event
// types are dumped as indented JSON.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Fprintf(stdout, "  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := colorize(dim, formatEventTime(ev))
	str := func(k string) string { s, _ := ev[k].(string); return s }
	num := func(k string) float64 { f, _ := ev[k].(float64); return f }

	switch evType {
	case "heartbeat":
		state := str("state")
		fmt.Fprintf(stdout, "  %s %s  %s  up %s\n",
			ts,
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, formatDuration(time.Duration(num("uptime_seconds"))*time.Second)),
		)

	case "state":
		from, to := str("from"), str("to")
		fmt.Fprintf(stdout, "  %s %s  %s %s %s\n",
			ts,
			colorize(bold, "STATE"),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)

	case "log":
		src := ""
		if c := str("component"); c != "" {
			src = colorize(dim, "["+c+"] ")
		}
		fmt.Fprintf(stdout, "  %s %s  %s%s\n", ts, formatLogLevel(str("level")), src, str("message"))

	case "progress":
		pct := num("percent")
		fmt.Fprintf(stdout, "  %s %s  [%s] %3.0f%%  %s\n",
			ts,
			colorize(cyan, padRight(str("stage"), 10)),
			progressBar(int(pct), 20),
			pct,
			colorize(dim, str("detail")),
		)

	case "pass_step":
		flags := ""
		if ev["drift"] == true {
			flags += colorize(yellow, " drift")
		}
		if ev["rotator_ok"] == false {
			flags += colorize(red, " rotator")
		}
		if ev["radio_ok"] == false {
			flags += colorize(red, " radio")
		}
		fmt.Fprintf(stdout, "  %s %s  %4d/%-4d az %3d el %2d  %.6f MHz  %4dms%s\n",
			ts,
			colorize(blue, "step"),
			int(num("index"))+1, int(num("total")),
			int(num("azimuth")), int(num("elevation")),
			num("freq_hz")/1e6,
			int(num("elapsed_ms")),
			flags,
		)

	case "packet":
		fmt.Fprintf(stdout, "  %s %s  #%d %s  %s\n",
			ts,
			colorize(green, "packet"),
			int(num("index")),
			formatBytes(int64(num("bytes"))),
			colorize(dim, str("hex")),
		)

	case "pass_done":
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "  %s %s\n", ts, header("PASS COMPLETE"))
		fmt.Fprintf(stdout, "    %-14s %s\n", colorize(dim, "Satellite:"), colorize(bold, str("satellite")))
		fmt.Fprintf(stdout, "    %-14s %d (%d drifted)\n", colorize(dim, "Steps:"), int(num("steps")), int(num("drift_steps")))
		fmt.Fprintf(stdout, "    %-14s %d\n", colorize(dim, "Packets:"), int(num("packets")))
		if p := str("audio_path"); p != "" {
			fmt.Fprintf(stdout, "    %-14s %s (%s)\n", colorize(dim, "Audio:"), p, formatBytes(int64(num("audio_bytes"))))
		}
		fmt.Fprintln(stdout)

	default:
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Fprintf(stdout, "  %s\n", string(raw))
			return
		}
		fmt.Fprintf(stdout, "  %s\n", string(pretty))
	}
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "        "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return tsRaw
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return colorize(dim, "DEBUG")
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
