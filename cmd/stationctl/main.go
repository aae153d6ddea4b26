// Stationctl is the command-line client for a running stationd. It queries
// status and predictions over HTTP, sends runner commands, and streams live
// events over WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/large-farva/ground-station/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Station daemon URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,pass_step)")
	)

	// Stop at the command name so subcommand flags like --count reach the
	// subcommand's own flag set.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "passes":
		opts := ctl.PassesOptions{JSON: *jsonOut}
		passFlags := pflag.NewFlagSet("passes", pflag.ContinueOnError)
		passFlags.IntVar(&opts.Count, "count", 0, "Limit number of passes shown")
		passFlags.BoolVar(&opts.Refresh, "refresh", false, "Predict again instead of showing the cached plan")
		_ = passFlags.Parse(subArgs)
		err = ctl.Passes(*host, opts)

	case "next-pass":
		err = ctl.NextPass(*host, *jsonOut)

	case "history":
		opts := ctl.HistoryOptions{JSON: *jsonOut}
		histFlags := pflag.NewFlagSet("history", pflag.ContinueOnError)
		histFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of passes shown")
		_ = histFlags.Parse(subArgs)
		err = ctl.History(*host, opts)

	// ── Control commands ──────────────────────────────────────────
	case "tle-refresh":
		err = ctl.TLERefresh(*host, *jsonOut)

	case "pause":
		err = ctl.Pause(*host, *jsonOut)

	case "resume":
		err = ctl.Resume(*host, *jsonOut)

	case "skip":
		err = ctl.Skip(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = ctl.Watch(ctx, *host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})
		stop()

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  stationctl, ground station control CLI

  USAGE
    stationctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, uptime, and the pass being worked
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    passes          List predicted passes with their schedule indices
    next-pass       Show the next predicted pass
    history         List archived passes

  COMMANDS (control)
    tle-refresh     Fetch fresh element sets from the network
    pause           Stop planning new passes
    resume          Resume pass planning
    skip            Skip the pass the daemon is waiting for

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    passes:
        --count N           Limit number of passes shown
        --refresh           Predict again instead of showing the cached plan

    history:
        --limit N           Limit number of passes shown

  EXAMPLES
    stationctl status
    stationctl --json status
    stationctl --host http://192.168.8.1:8080 watch
    stationctl passes --count 5
    stationctl history --limit 10
    stationctl pause
    stationctl watch --filter state,pass_step,packet

`)
}
