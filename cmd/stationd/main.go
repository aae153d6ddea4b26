// Stationd is the ground station daemon. It predicts passes of the configured
// satellite, points the rotator and tunes the transceiver through each one,
// and archives the recorded audio and decoded packets.
//
// Shutdown on SIGINT or SIGTERM waits for a pass that is already tracking.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/ground-station/internal/app"
	"github.com/large-farva/ground-station/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/ground-station/stationd.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := log.New(os.Stdout, "stationd ", log.LstdFlags|log.Lmicroseconds)

	a, err := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})
	if err != nil {
		logger.Fatalf("stationd setup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("stationd failed: %v", err)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
