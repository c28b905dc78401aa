// Package metrics 提供账本服务的 Prometheus 指标
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "ledger"

// 操作结果标签
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数与耗时
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 账本操作计数与耗时，operation: transfer/buy/sell
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	// 并发冲突导致的整事务重试
	OperationRetries *prometheus.CounterVec

	// 聚合量
	CommissionPool    prometheus.Gauge
	CirculatingSupply prometheus.Gauge
	Price             prometheus.Gauge
	SupplyDrift       prometheus.Gauge
}

// New 创建指标实例，subsystem 通常是服务名
func New(subsystem string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Ledger operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, lock waits included",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		OperationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_retries_total",
			Help:      "Unit-of-work retries caused by lock conflicts",
		}, []string{"operation"}),
		CommissionPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commission_pool_total",
			Help:      "Token collected as fees",
		}),
		CirculatingSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circulating_supply_total",
			Help:      "Token held outside the treasury",
		}),
		Price: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "price",
			Help:      "Fiat per token derived from treasury reserves",
		}),
		SupplyDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "supply_drift",
			Help:      "Tracked minus recomputed circulating supply at the last reconciliation",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OperationsTotal,
		m.OperationDuration,
		m.OperationRetries,
		m.CommissionPool,
		m.CirculatingSupply,
		m.Price,
		m.SupplyDrift,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation 记录一次账本操作
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRetry 记录一次重试
func (m *Metrics) ObserveRetry(operation string) {
	m.OperationRetries.WithLabelValues(operation).Inc()
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// SetAggregates 更新聚合量
func (m *Metrics) SetAggregates(pool, supply, price decimal.Decimal) {
	m.CommissionPool.Set(pool.InexactFloat64())
	m.CirculatingSupply.Set(supply.InexactFloat64())
	m.Price.Set(price.InexactFloat64())
}

// SetDrift 更新对账偏差
func (m *Metrics) SetDrift(drift decimal.Decimal) {
	m.SupplyDrift.Set(drift.InexactFloat64())
}

// Handler 返回 /metrics 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
