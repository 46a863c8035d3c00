package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
)

// Exporter publishes roster and remediation state on a dedicated
// registry so the default one stays free of Go runtime collectors the
// dashboard does not need.
type Exporter struct {
	registry *prometheus.Registry

	jailed       *prometheus.GaugeVec
	active       *prometheus.GaugeVec
	stake        *prometheus.GaugeVec
	recentBlocks *prometheus.GaugeVec
	phase        *prometheus.GaugeVec

	totalValidators  prometheus.Gauge
	jailedValidators prometheus.Gauge

	attempts      prometheus.Counter
	fetchFailures prometheus.Counter
	heartbeat     prometheus.Gauge
}

func NewExporter(chain string) *Exporter {
	labels := prometheus.Labels{"chain": chain}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		jailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hls_validator_jailed",
			Help:        "Whether the validator is jailed (1) or not (0).",
			ConstLabels: labels,
		}, []string{"validator", "name"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hls_validator_active",
			Help:        "Whether the validator is in the active set.",
			ConstLabels: labels,
		}, []string{"validator", "name"}),
		stake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hls_validator_stake",
			Help:        "Validator stake as reported by the info endpoint.",
			ConstLabels: labels,
		}, []string{"validator", "name"}),
		recentBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hls_validator_recent_blocks",
			Help:        "Blocks produced in the recent window.",
			ConstLabels: labels,
		}, []string{"validator", "name"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "hls_validator_phase",
			Help:        "Monitor phase: 0 healthy, 1 jailed, 2 remediation, 3 exhausted.",
			ConstLabels: labels,
		}, []string{"validator"}),
		totalValidators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "hls_roster_total",
			Help:        "Total validators on the roster.",
			ConstLabels: labels,
		}),
		jailedValidators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "hls_roster_jailed",
			Help:        "Jailed validators on the roster.",
			ConstLabels: labels,
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hls_unjail_attempts_total",
			Help:        "Unjail actions submitted since startup.",
			ConstLabels: labels,
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hls_roster_fetch_failures_total",
			Help:        "Roster fetches that failed after retries.",
			ConstLabels: labels,
		}),
		heartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "hls_last_poll_timestamp_seconds",
			Help:        "Unix time of the last poll tick, successful or not.",
			ConstLabels: labels,
		}),
	}
	e.registry.MustRegister(
		e.jailed, e.active, e.stake, e.recentBlocks, e.phase,
		e.totalValidators, e.jailedValidators,
		e.attempts, e.fetchFailures, e.heartbeat,
	)
	return e
}

// Update replaces the per-validator series with the current roster.
// Reset before set keeps removed validators from lingering as stale
// series.
func (e *Exporter) Update(roster *hlapi.Roster, states map[string]detector.StateView) {
	e.jailed.Reset()
	e.active.Reset()
	e.stake.Reset()
	e.recentBlocks.Reset()
	e.phase.Reset()

	jailedCount := 0
	for _, v := range roster.Validators {
		labels := prometheus.Labels{"validator": v.Validator, "name": v.Name}
		e.jailed.With(labels).Set(boolGauge(v.IsJailed))
		e.active.With(labels).Set(boolGauge(v.IsActive))
		if f, err := strconv.ParseFloat(v.Stake.String(), 64); err == nil {
			e.stake.With(labels).Set(f)
		}
		e.recentBlocks.With(labels).Set(float64(v.NRecentBlocks))
		if v.IsJailed {
			jailedCount++
		}
	}
	for addr, st := range states {
		e.phase.WithLabelValues(addr).Set(phaseValue(st.Phase))
	}
	e.totalValidators.Set(float64(len(roster.Validators)))
	e.jailedValidators.Set(float64(jailedCount))
}

// RecordTick marks the poll loop alive. Called at the top of every tick
// so an upstream outage does not make the loop look dead.
func (e *Exporter) RecordTick() {
	e.heartbeat.Set(float64(time.Now().Unix()))
}

// RecordAttempt counts one submitted unjail action.
func (e *Exporter) RecordAttempt() { e.attempts.Inc() }

// RecordFetchFailure counts one roster fetch that exhausted retries.
func (e *Exporter) RecordFetchFailure() { e.fetchFailures.Inc() }

// Handler serves the registry in Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func phaseValue(phase string) float64 {
	switch phase {
	case "jailed":
		return 1
	case "remediation_in_flight":
		return 2
	case "remediation_exhausted":
		return 3
	}
	return 0
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
