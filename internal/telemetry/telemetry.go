// Package telemetry exposes the bot's operational counters over a
// Prometheus /metrics endpoint.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every instrument the bot updates at runtime.
type Metrics struct {
	TicksTotal      prometheus.Counter
	TickErrors      prometheus.Counter
	TickDuration    prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec
	TradesSubmitted *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	TradesClosed    *prometheus.CounterVec
	OpenPositions   *prometheus.GaugeVec
	Balance         prometheus.Gauge
	Equity          prometheus.Gauge
}

// NewMetrics registers all instruments with the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry
// so repeated construction does not panic on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Number of scheduler ticks processed.",
		}),
		TickErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bot_tick_errors_total",
			Help: "Number of ticks skipped due to data fetch errors.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_tick_duration_seconds",
			Help:    "Wall time of one full scheduler tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Entry signals produced, by strategy and side.",
		}, []string{"strategy", "side"}),
		TradesSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_submitted_total",
			Help: "Market orders accepted by the gateway, by strategy.",
		}, []string{"strategy"}),
		TradesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_rejected_total",
			Help: "Orders rejected by validation or the gateway, by strategy.",
		}, []string{"strategy"}),
		TradesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_closed_total",
			Help: "Closed positions, by strategy and close reason.",
		}, []string{"strategy", "reason"}),
		OpenPositions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open positions currently held, by strategy.",
		}, []string{"strategy"}),
		Balance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_account_balance",
			Help: "Account balance from the latest snapshot.",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_account_equity",
			Help: "Account equity from the latest snapshot.",
		}),
	}
}

// Serve starts the /metrics listener in the background. An empty addr
// disables telemetry and returns nil.
func Serve(addr string, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	return srv
}
