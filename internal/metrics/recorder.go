// Package metrics exposes lamp toggles and faults as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

const namespace = "lamp"

// Recorder observes toggles and records them in a Prometheus registry.
// It implements lamp.Observer. A nil *Recorder is a no-op.
type Recorder struct {
	toggles       *prom.CounterVec
	driveFaults   *prom.CounterVec
	persistFaults *prom.CounterVec
	energized     *prom.GaugeVec
	duration      prom.Histogram

	mu      sync.Mutex
	lastSeq uint64
}

// NewRecorder constructs the lamp metrics and registers them on reg.
// A nil reg gets a fresh private registry.
func NewRecorder(reg prom.Registerer) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	r := &Recorder{
		toggles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Lamp toggles by channel and resulting state",
		}, []string{"channel", "state"}),
		driveFaults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "drive_faults_total",
			Help:      "Output drive attempts that failed or timed out",
		}, []string{"channel"}),
		persistFaults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persist_faults_total",
			Help:      "Record commits that failed or timed out, by toggled channel",
		}, []string{"channel"}),
		energized: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "energized",
			Help:      "1 if the lamp is logically on",
		}, []string{"channel"}),
		duration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "toggle_duration_seconds",
			Help:      "Time spent driving and persisting one toggle",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	reg.MustRegister(r.toggles, r.driveFaults, r.persistFaults, r.energized, r.duration)

	// Pre-create series so dashboards show zeros before the first toggle.
	for _, c := range lamp.Channels {
		r.driveFaults.WithLabelValues(c.Slug())
		r.persistFaults.WithLabelValues(c.Slug())
		r.energized.WithLabelValues(c.Slug())
	}

	return r
}

// Seed sets the energized gauges from the state loaded at startup.
func (r *Recorder) Seed(snap lamp.Snapshot) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setEnergized(snap)
}

// setEnergized must be called with mu held.
func (r *Recorder) setEnergized(snap lamp.Snapshot) {
	for _, c := range lamp.Channels {
		r.energized.WithLabelValues(c.Slug()).Set(boolValue(snap.Energized(c)))
	}
}

// Toggled implements lamp.Observer. The energized gauges follow the newest
// event seen; an event that arrives after a newer one only counts.
func (r *Recorder) Toggled(_ context.Context, ev lamp.Event) {
	if r == nil {
		return
	}

	r.mu.Lock()
	if ev.Seq > r.lastSeq {
		r.lastSeq = ev.Seq
		r.setEnergized(ev.Snapshot)
	}
	r.mu.Unlock()

	ch := ev.Channel.Slug()
	r.toggles.WithLabelValues(ch, string(lamp.StateOf(ev.Energized))).Inc()
	r.duration.Observe(ev.Duration.Seconds())

	if ev.DriveErr != nil {
		r.driveFaults.WithLabelValues(ch).Inc()
	}
	if ev.PersistErr != nil {
		r.persistFaults.WithLabelValues(ch).Inc()
	}
}

// HTTPHandler serves the metrics gathered by g.
func HTTPHandler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
