// Package metrics exposes Prometheus collectors for pass execution: how many
// passes ran, how the tracking steps went, what the modem decoded, and which
// instrument commands failed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States reported by the state gauge, in the order the scheduler walks them.
var States = []string{"IDLE", "WAIT_SETUP", "SETUP", "WAIT_AOS", "TRACKING", "DONE"}

// Collector holds every station metric. A nil *Collector is valid and
// records nothing, so components can be built without metrics in tests.
type Collector struct {
	reg *prometheus.Registry

	Passes         *prometheus.CounterVec
	Steps          prometheus.Counter
	DriftSteps     prometheus.Counter
	StepDuration   prometheus.Histogram
	Packets        prometheus.Counter
	PacketBytes    prometheus.Counter
	InstrumentErrs *prometheus.CounterVec
	State          *prometheus.GaugeVec
}

// New registers the station collectors on a private registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "station_passes_total",
			Help: "Passes run by the scheduler, by outcome.",
		}, []string{"outcome"}),
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_tracking_steps_total",
			Help: "Tracking steps executed.",
		}),
		DriftSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_tracking_drift_steps_total",
			Help: "Tracking steps whose instrument commands overran the sample interval.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "station_tracking_step_duration_seconds",
			Help:    "Time spent moving the rotator and tuning the radio per step.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		Packets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_packets_total",
			Help: "Packets received from the modem.",
		}),
		PacketBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "station_packet_bytes_total",
			Help: "Bytes received from the modem.",
		}),
		InstrumentErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "station_instrument_errors_total",
			Help: "Failed instrument commands during tracking.",
		}, []string{"instrument"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "station_scheduler_state",
			Help: "1 for the scheduler's current state, 0 otherwise.",
		}, []string{"state"}),
	}
	c.reg.MustRegister(
		c.Passes, c.Steps, c.DriftSteps, c.StepDuration,
		c.Packets, c.PacketBytes, c.InstrumentErrs, c.State,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) PassFinished(outcome string) {
	if c == nil {
		return
	}
	c.Passes.WithLabelValues(outcome).Inc()
}

// Step records one tracking step.
func (c *Collector) Step(seconds float64, drift bool) {
	if c == nil {
		return
	}
	c.Steps.Inc()
	c.StepDuration.Observe(seconds)
	if drift {
		c.DriftSteps.Inc()
	}
}

func (c *Collector) Packet(n int) {
	if c == nil {
		return
	}
	c.Packets.Inc()
	c.PacketBytes.Add(float64(n))
}

// InstrumentError counts a failed command; instrument is "rotator" or
// "transceiver".
func (c *Collector) InstrumentError(instrument string) {
	if c == nil {
		return
	}
	c.InstrumentErrs.WithLabelValues(instrument).Inc()
}

// SetState raises the gauge for state and lowers every other one.
func (c *Collector) SetState(state string) {
	if c == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.State.WithLabelValues(s).Set(v)
	}
}
