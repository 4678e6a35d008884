package observability

import (
	"math/big"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"humanebanque/core/events"
)

type lendingMetrics struct {
	events        *prometheus.CounterVec
	clearingRate  *prometheus.GaugeVec
	matchedVolume *prometheus.CounterVec
	closedLoans   *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// Lending returns the registry fed by lending engine events. It implements
// events.Emitter so it can be chained behind the engine with events.Multi.
func Lending() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "humanebanque",
				Subsystem: "lending",
				Name:      "events_total",
				Help:      "Lending events segmented by type.",
			}, []string{"type"}),
			clearingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "humanebanque",
				Subsystem: "lending",
				Name:      "clearing_rate_bps",
				Help:      "Clearing rate of the most recent auction per maturity.",
			}, []string{"maturity"}),
			matchedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "humanebanque",
				Subsystem: "lending",
				Name:      "matched_volume_total",
				Help:      "Quote asset base units matched by auctions per maturity.",
			}, []string{"maturity"}),
			closedLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "humanebanque",
				Subsystem: "lending",
				Name:      "closed_loans_total",
				Help:      "Loans reaching a terminal status.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			lendingRegistry.events,
			lendingRegistry.clearingRate,
			lendingRegistry.matchedVolume,
			lendingRegistry.closedLoans,
		)
	})
	return lendingRegistry
}

// Emit implements events.Emitter.
func (m *lendingMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
	payload := events.Flatten(evt)
	if payload == nil {
		return
	}
	attrs := payload.Attributes
	switch evt.EventType() {
	case "lending.auction.executed":
		maturity := attrs["maturity"]
		if rate, err := strconv.ParseFloat(attrs["clearingRateBps"], 64); err == nil {
			m.clearingRate.WithLabelValues(maturity).Set(rate)
		}
		if volume, ok := new(big.Float).SetString(attrs["matchedVolume"]); ok {
			v, _ := volume.Float64()
			m.matchedVolume.WithLabelValues(maturity).Add(v)
		}
	case "lending.loan.repaid", "lending.loan.defaulted", "lending.loan.liquidated", "lending.loan.expired":
		m.closedLoans.WithLabelValues(attrs["status"]).Inc()
	}
}
