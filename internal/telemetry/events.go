// Package telemetry defines the typed event structs that flow over the
// WebSocket connection between stationd and its clients, and the Logger every
// component is handed at construction. Log lines go both to the process log
// and out to connected clients as "log" events.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventPassStep  EventType = "pass_step"
	EventPacket    EventType = "packet"
	EventPassDone  EventType = "pass_done"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEvent stamps an envelope for the given component.
func NewEvent(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the pass scheduler moves between
// states (e.g. WAIT_AOS -> TRACKING).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// Progress reports incremental completion of a long-running phase like
// tracking or waiting for AOS.
type Progress struct {
	Event
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Detail  string  `json:"detail"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// PassStep reports one tracking step: where the antenna was sent, what the
// radio was tuned to, and how long the instruments took.
type PassStep struct {
	Event
	Index     int     `json:"index"`
	Total     int     `json:"total"`
	Azimuth   int     `json:"azimuth"`
	Elevation int     `json:"elevation"`
	FreqHz    int64   `json:"freq_hz"`
	ElapsedMS int64   `json:"elapsed_ms"`
	Drift     bool    `json:"drift"`
	RotatorOK bool    `json:"rotator_ok"`
	RadioOK   bool    `json:"radio_ok"`
	Percent   float64 `json:"percent"`
}

// Packet announces one burst received from the modem.
type Packet struct {
	Event
	Index int    `json:"index"`
	Bytes int    `json:"bytes"`
	Hex   string `json:"hex"`
}

// PassDone summarises a finished pass.
type PassDone struct {
	Event
	Satellite  string `json:"satellite"`
	Steps      int    `json:"steps"`
	DriftSteps int    `json:"drift_steps"`
	Packets    int    `json:"packets"`
	AudioPath  string `json:"audio_path,omitempty"`
	AudioBytes int64  `json:"audio_bytes"`
}
