// Package metrics provides Prometheus metrics for the expander service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"expander-service/internal/types"
)

const namespace = "expander"

var playbackModes = []types.PlaybackMode{types.ModeIdle, types.ModeBackground, types.ModeTrack}

// Collector holds all Prometheus metrics. Its methods satisfy the observer
// interfaces of the input, audio, osc and events packages.
type Collector struct {
	// Serial metrics
	SerialLines   *prometheus.CounterVec
	MotorFeedback *prometheus.CounterVec

	// Input metrics
	InputPublishes *prometheus.CounterVec
	EdgesDebounced *prometheus.CounterVec

	// Command metrics
	Commands *prometheus.CounterVec

	// Outbound event metrics
	EventsSent *prometheus.CounterVec

	// Audio metrics
	BackgroundTracks prometheus.Counter
	PlaybackMode     *prometheus.GaugeVec
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		SerialLines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serial_lines_total",
				Help:      "Serial lines received by decoded kind",
			},
			[]string{"kind"},
		),
		MotorFeedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "motor_feedback_total",
				Help:      "Motor feedback reports by state",
			},
			[]string{"state"},
		),
		InputPublishes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_publishes_total",
				Help:      "Input changes published per channel",
			},
			[]string{"channel"},
		),
		EdgesDebounced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_edges_debounced_total",
				Help:      "Input edges discarded inside the debounce window",
			},
			[]string{"channel"},
		),
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Inbound commands by route and result",
			},
			[]string{"route", "result"},
		),
		EventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_sent_total",
				Help:      "Outbound events by address and result",
			},
			[]string{"address", "result"},
		),
		BackgroundTracks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "background_tracks_started_total",
				Help:      "Background playlist tracks started",
			},
		),
		PlaybackMode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "playback_mode",
				Help:      "Current playback mode (1 for the active mode)",
			},
			[]string{"mode"},
		),
	}
	c.ModeChanged(types.ModeIdle)
	return c
}

func (c *Collector) SerialLine(kind string) {
	c.SerialLines.WithLabelValues(kind).Inc()
}

func (c *Collector) MotorFeedbackReceived(state types.MotorState) {
	c.MotorFeedback.WithLabelValues(state.String()).Inc()
}

func (c *Collector) InputPublished(channel int) {
	c.InputPublishes.WithLabelValues(channelLabel(channel)).Inc()
}

func (c *Collector) EdgeDebounced(channel int) {
	c.EdgesDebounced.WithLabelValues(channelLabel(channel)).Inc()
}

func (c *Collector) CommandHandled(route, result string) {
	c.Commands.WithLabelValues(route, result).Inc()
}

func (c *Collector) EventPublished(address string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.EventsSent.WithLabelValues(address, result).Inc()
}

func (c *Collector) BackgroundTrackStarted(string) {
	c.BackgroundTracks.Inc()
}

func (c *Collector) ModeChanged(mode types.PlaybackMode) {
	for _, m := range playbackModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		c.PlaybackMode.WithLabelValues(string(m)).Set(v)
	}
}

func channelLabel(channel int) string {
	return strconv.Itoa(channel)
}
