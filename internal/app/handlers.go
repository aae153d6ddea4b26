package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/large-farva/ground-station/internal/pass"
	"github.com/large-farva/ground-station/internal/predict"
	"github.com/large-farva/ground-station/internal/scheduler"
)

// commandWait bounds how long an HTTP request waits for the runner. During a
// pass the runner reads no commands; they stay queued until DONE.
var commandWait = 10 * time.Second

func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/passes", a.handlePasses)
	mux.HandleFunc("/api/history", a.handleHistory)
	mux.HandleFunc("/api/tle/refresh", a.commandHandler(scheduler.CmdTLERefresh))
	mux.HandleFunc("/api/scheduler/pause", a.commandHandler(scheduler.CmdPause))
	mux.HandleFunc("/api/scheduler/resume", a.commandHandler(scheduler.CmdResume))
	mux.HandleFunc("/api/scheduler/skip", a.commandHandler(scheduler.CmdSkip))
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/ws", a.hub.Handler())
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true
	fail := func(name string, detail map[string]any) {
		detail["ok"] = false
		checks[name] = detail
		allOK = false
	}

	root := a.cfg.Data.Root
	probe := filepath.Join(root, ".healthcheck")
	if err := os.MkdirAll(root, 0o755); err != nil {
		fail("data_dir", map[string]any{"error": err.Error()})
	} else if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		fail("data_dir", map[string]any{"error": err.Error()})
	} else {
		os.Remove(probe)
		checks["data_dir"] = map[string]any{"ok": true, "path": root}
	}

	if a.cfg.Satellite.TLEPath != "" {
		if _, err := os.Stat(a.cfg.Satellite.TLEPath); err != nil {
			fail("tle", map[string]any{"error": err.Error()})
		} else {
			checks["tle"] = map[string]any{"ok": true, "source": a.cfg.Satellite.TLEPath}
		}
	} else if info, err := os.Stat(filepath.Join(root, "tle_cache.txt")); err != nil {
		fail("tle", map[string]any{"error": "cache file not found"})
	} else {
		age := time.Since(info.ModTime())
		fresh := age < time.Duration(a.cfg.Predict.TLERefreshHours)*time.Hour
		if !fresh {
			allOK = false
		}
		checks["tle"] = map[string]any{"ok": fresh, "age_s": int(age.Seconds())}
	}

	if a.cfg.Modem.Enabled {
		exe := a.cfg.Modem.Executable
		if a.cfg.Modem.Dir != "" {
			exe = filepath.Join(a.cfg.Modem.Dir, exe)
		}
		if _, err := exec.LookPath(exe); err != nil {
			fail("modem", map[string]any{"error": err.Error()})
		} else {
			checks["modem"] = map[string]any{"ok": true, "path": exe}
		}
	}

	if a.cfg.Recorder.Model == "arecord" {
		if _, err := exec.LookPath("arecord"); err != nil {
			fail("recorder", map[string]any{"error": "arecord not found in PATH"})
		} else {
			checks["recorder"] = map[string]any{"ok": true}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "ground-station",
		"state":          a.state.Load().(string),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"satellite":      a.cfg.Satellite.Name,
		"schedule_mode":  a.cfg.Schedule.Mode,
		"rotator":        a.cfg.Rotator.Model,
		"transceiver":    a.cfg.Transceiver.Model,
		"data_root":      a.cfg.Data.Root,
		"config_path":    a.configPath,
		"paused":         a.runner.IsPaused(),
		"plan_finished":  a.runner.Finished(),
		"ws_clients":     a.hub.Clients(),
	}
	if pi := a.runner.Current(); pi != nil {
		resp["current_pass"] = pi
	}
	if du := diskUsage(a.cfg.Data.Root); du != nil {
		resp["disk"] = du
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

// passJSON is one row of the upcoming-pass table. Index is what
// schedule.indices refers to.
type passJSON struct {
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

// handlePasses serves the last prediction. ?refresh=1 predicts again first,
// which may fetch element sets from the network.
func (a *App) handlePasses(w http.ResponseWriter, r *http.Request) {
	passes := a.tracker.Cached()
	if r.URL.Query().Get("refresh") != "" || passes == nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
		defer cancel()
		var err error
		passes, err = a.tracker.UpcomingPasses(ctx, predict.SatelliteFromConfig(a.cfg.Satellite))
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if n, err := strconv.Atoi(r.URL.Query().Get("count")); err == nil && n > 0 && n < len(passes) {
		passes = passes[:n]
	}

	loc := a.tracker.Location(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"passes":  passesToJSON(passes),
		"station": loc,
	})
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.store.History()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < len(history) {
		history = history[:n]
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": history})
}

// commandHandler forwards a POST to the runner as a command.
func (a *App) commandHandler(cmdType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		reply := make(chan scheduler.CommandResult, 1)
		timer := time.NewTimer(commandWait)
		defer timer.Stop()

		select {
		case a.runner.Commands <- scheduler.Command{Type: cmdType, Reply: reply}:
		case <-timer.C:
			jsonError(w, "runner command queue is full", http.StatusServiceUnavailable)
			return
		}

		select {
		case res := <-reply:
			writeCommandResult(w, res)
		case <-timer.C:
			writeJSON(w, http.StatusAccepted, scheduler.CommandResult{
				OK:      true,
				Message: "a pass is in progress; " + cmdType + " will run once it is done",
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

func writeCommandResult(w http.ResponseWriter, result scheduler.CommandResult) {
	code := http.StatusOK
	if !result.OK {
		code = http.StatusConflict
	}
	writeJSON(w, code, result)
}

func passesToJSON(passes []pass.Profile) []passJSON {
	out := make([]passJSON, len(passes))
	for i, p := range passes {
		row := passJSON{
			Index:     i,
			Satellite: p.Satellite,
			AOS:       p.AOS.Format(time.RFC3339),
			LOS:       p.LOS.Format(time.RFC3339),
			MaxElev:   p.MaxElevation,
			DurationS: int(p.Duration().Seconds()),
			Steps:     p.Steps(),
		}
		if n := p.Steps(); n > 0 {
			row.StartAz, _ = p.Point(0)
			row.EndAz, _ = p.Point(n - 1)
		}
		out[i] = row
	}
	return out
}
