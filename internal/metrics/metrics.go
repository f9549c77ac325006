// Package metrics exposes Prometheus instrumentation for the streaming
// sessions, broker calls, and order flow. Collectors are registered in init()
// and served at /metrics by the HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strikestream_active_sessions",
			Help: "Number of websocket sessions currently streaming",
		},
	)

	chainPushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strikestream_chain_pushes_total",
			Help: "Full chain snapshots pushed to clients",
		},
	)

	spotPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strikestream_spot_price",
			Help: "Last observed underlying spot price",
		},
		[]string{"conid"},
	)

	brokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strikestream_broker_errors_total",
			Help: "Broker API call failures",
		},
		[]string{"endpoint"},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strikestream_orders_total",
			Help: "Order legs by side and final placement status",
		},
		[]string{"side", "status"}, // BUY|SELL, Confirmed|Filled|Rejected|Cancelled
	)

	confirmRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strikestream_confirm_rounds",
			Help:    "Confirmation round-trips needed before a leg was accepted",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(activeSessions, chainPushes, spotPrice)
	prometheus.MustRegister(brokerErrors, ordersPlaced, confirmRounds)
}

// SessionOpened records a new websocket session.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed records a session teardown.
func SessionClosed() { activeSessions.Dec() }

// IncChainPush counts one full-chain snapshot pushed to a client.
func IncChainPush() { chainPushes.Inc() }

// SetSpot records the latest underlying price for a contract.
func SetSpot(conid string, v float64) { spotPrice.WithLabelValues(conid).Set(v) }

// IncBrokerError counts a failed gateway call by endpoint.
func IncBrokerError(endpoint string) { brokerErrors.WithLabelValues(endpoint).Inc() }

// IncOrder counts an order placement outcome by side and status.
func IncOrder(side, status string) { ordersPlaced.WithLabelValues(side, status).Inc() }

// ObserveConfirmRounds records how many confirmation round-trips a leg took.
func ObserveConfirmRounds(n int) { confirmRounds.Observe(float64(n)) }
