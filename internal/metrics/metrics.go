// Package metrics exposes session activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/dispatch"
)

const namespace = "plugrpc"

var allStates = []dispatch.State{
	dispatch.StateAwaitingRequest,
	dispatch.StateDecoding,
	dispatch.StateResolving,
	dispatch.StateInvoking,
	dispatch.StateEncoding,
	dispatch.StateSending,
	dispatch.StateClosed,
}

// Recorder owns a private registry and implements dispatch.Observer.
type Recorder struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	malformed prometheus.Counter
	state     *prometheus.GaugeVec
	buildInfo *prometheus.GaugeVec
}

var _ dispatch.Observer = (*Recorder)(nil)

// New creates a Recorder and registers its collectors, plus the Go runtime
// and process collectors.
func New(plugin, version string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled, by bare method name and outcome.",
			},
			[]string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from decoded request to encoded response.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Frames dropped because they did not decode as a request.",
		}),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "1 for the state the session is currently in, 0 otherwise.",
			},
			[]string{"state"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information for the plugin.",
			},
			[]string{"plugin", "version"},
		),
	}

	r.registry.MustRegister(
		r.requests, r.duration, r.malformed, r.state, r.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.buildInfo.WithLabelValues(plugin, version).Set(1)
	for _, s := range allStates {
		r.state.WithLabelValues(s.String()).Set(0)
	}
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) StateChanged(state dispatch.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(s.String()).Set(v)
	}
}

func (r *Recorder) RequestHandled(method string, outcome capability.OutcomeKind, elapsed time.Duration) {
	r.requests.WithLabelValues(method, outcome.String()).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (r *Recorder) MalformedFrame() {
	r.malformed.Inc()
}
