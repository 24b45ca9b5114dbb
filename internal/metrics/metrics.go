// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shipsavings"

// Metrics собирает метрики леджера, синхронизации кошелька и HTTP.
type Metrics struct {
	registry *prometheus.Registry

	deposits        *prometheus.CounterVec
	depositedISK    *prometheus.CounterVec
	interestISK     prometheus.Counter
	postings        prometheus.Counter
	transitions     *prometheus.CounterVec
	accrualFailures prometheus.Counter
	walletSyncs     *prometheus.CounterVec
	walletTx        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New создаёт метрики в собственном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deposits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposits_total",
				Help:      "Number of recorded deposits by source",
			},
			[]string{"source"},
		),
		depositedISK: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deposited_isk_total",
				Help:      "Deposited ISK by source",
			},
			[]string{"source"},
		),
		interestISK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interest_isk_total",
			Help:      "Interest credited in ISK",
		}),
		postings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interest_postings_total",
			Help:      "Number of interest postings",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Order status transitions",
			},
			[]string{"from", "to"},
		),
		accrualFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_failures_total",
			Help:      "Orders that failed during an accrual run",
		}),
		walletSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_syncs_total",
				Help:      "Wallet sync runs by result",
			},
			[]string{"result"},
		),
		walletTx: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_transactions_total",
				Help:      "Wallet transactions stored by resolution",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.deposits, m.depositedISK, m.interestISK, m.postings, m.transitions,
		m.accrualFailures, m.walletSyncs, m.walletTx, m.httpRequests, m.httpLatency,
	)
	return m
}

// Handler возвращает обработчик /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Все методы записи безопасны для nil-получателя: сервис может работать без метрик.

func (m *Metrics) DepositRecorded(source string, amount int64) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(source).Inc()
	m.depositedISK.WithLabelValues(source).Add(float64(amount))
}

func (m *Metrics) InterestPosted(amount int64) {
	if m == nil {
		return
	}
	m.postings.Inc()
	m.interestISK.Add(float64(amount))
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) AccrualFailed() {
	if m == nil {
		return
	}
	m.accrualFailures.Inc()
}

func (m *Metrics) WalletSync(ok bool, matched, unmatched int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.walletSyncs.WithLabelValues(result).Inc()
	m.walletTx.WithLabelValues("matched").Add(float64(matched))
	m.walletTx.WithLabelValues("unmatched").Add(float64(unmatched))
}

func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
