// Package metrics exposes vmctl's own Prometheus counters: roster polls,
// telemetry ticks, lifecycle dispatches and simulator requests.
//
// A nil *Recorder is valid and records nothing, so components can take one
// as an optional dependency.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the poll and tick counters.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomeDiscard  = "discarded"
)

// Recorder owns a registry and the counters registered on it.
type Recorder struct {
	registry *prometheus.Registry

	rosterPolls    *prometheus.CounterVec
	rosterSize     prometheus.Gauge
	telemetryTicks *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	simRequests    *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rosterPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmctl_roster_polls_total",
				Help: "Roster fetches by outcome",
			},
			[]string{"outcome"},
		),
		rosterSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vmctl_roster_vms",
				Help: "Number of VMs in the last published roster",
			},
		),
		telemetryTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmctl_telemetry_ticks_total",
				Help: "Telemetry session ticks by outcome",
			},
			[]string{"outcome"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmctl_dispatches_total",
				Help: "Lifecycle commands dispatched, by verb and result kind",
			},
			[]string{"verb", "result"},
		),
		simRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmctl_simulator_requests_total",
				Help: "Requests served by the simulated control plane",
			},
			[]string{"method", "path", "status"},
		),
	}

	r.registry.MustRegister(
		r.rosterPolls,
		r.rosterSize,
		r.telemetryTicks,
		r.dispatches,
		r.simRequests,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RosterPoll records one roster fetch. size is ignored on failure.
func (r *Recorder) RosterPoll(ok bool, size int) {
	if r == nil {
		return
	}
	if !ok {
		r.rosterPolls.WithLabelValues(OutcomeError).Inc()
		return
	}
	r.rosterPolls.WithLabelValues(OutcomeOK).Inc()
	r.rosterSize.Set(float64(size))
}

// TelemetryTick records one session tick outcome.
func (r *Recorder) TelemetryTick(outcome string) {
	if r == nil {
		return
	}
	r.telemetryTicks.WithLabelValues(outcome).Inc()
}

// Dispatch records one lifecycle command result.
func (r *Recorder) Dispatch(verb, result string) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(verb, result).Inc()
}

// SimRequest records one request served by the simulator.
func (r *Recorder) SimRequest(method, path string, status int) {
	if r == nil {
		return
	}
	r.simRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// Serve exposes the registry at /metrics on addr until ctx ends.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener, which it closes.
func (r *Recorder) ServeListener(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
