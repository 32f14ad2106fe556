package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"kisx/core/events"
)

// MarketMetrics aggregates the counters and gauges exposed by the market
// engine. Events increment per-type counters; the pending gauge is set from
// the engine's pending index snapshot.
type MarketMetrics struct {
	eventsEmitted *prometheus.CounterVec
	rpcRequests   *prometheus.CounterVec
	pendingLots   prometheus.Gauge
	poolBalance   prometheus.Gauge
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide market metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_events_emitted_total",
				Help: "Count of engine events emitted by type.",
			}, []string{"type"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_rpc_requests_total",
				Help: "Count of JSON-RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
			pendingLots: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_pending_lots",
				Help: "Number of lots currently for sale.",
			}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_pool_balance_wei",
				Help: "Accrued pooled balance awaiting withdrawal.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.eventsEmitted,
			marketRegistry.rpcRequests,
			marketRegistry.pendingLots,
			marketRegistry.poolBalance,
		)
	})
	return marketRegistry
}

// ObserveEvent increments the counter for the event type.
func (m *MarketMetrics) ObserveEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// ObserveRPC records a handled JSON-RPC request.
func (m *MarketMetrics) ObserveRPC(method, outcome string) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}

// SetPendingLots records the current pending index size.
func (m *MarketMetrics) SetPendingLots(n int) {
	if m == nil {
		return
	}
	m.pendingLots.Set(float64(n))
}

// SetPoolBalance records the pooled balance as a float approximation.
func (m *MarketMetrics) SetPoolBalance(wei float64) {
	if m == nil {
		return
	}
	m.poolBalance.Set(wei)
}

// Emitter adapts the metrics registry to the events.Emitter interface so the
// engine's event stream drives the counters.
type Emitter struct {
	metrics *MarketMetrics
}

// NewEmitter returns an events.Emitter that counts emitted events.
func NewEmitter() *Emitter {
	return &Emitter{metrics: Market()}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.metrics.ObserveEvent(evt.EventType())
}
