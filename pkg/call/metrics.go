package call

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig конфигурация метрик сессии вызовов
type MetricsConfig struct {
	// Namespace префикс для Prometheus метрик
	Namespace string

	// Subsystem подсистема для Prometheus метрик
	Subsystem string

	// Registerer реестр Prometheus. nil отключает экспорт,
	// атомарные счетчики продолжают работать.
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "voice",
		Subsystem: "call",
	}
}

// Metrics собирает метрики менеджера сессии: счетчики вызовов,
// гистограмму длительности и количество срезов статистики.
// Атомарные счетчики дублируют Prometheus для fast path диагностики.
// Методы безопасны на nil получателе.
type Metrics struct {
	exportEnabled bool

	callsStarted prometheus.Counter
	callsFailed  prometheus.Counter
	callsActive  prometheus.Gauge
	callDuration prometheus.Histogram
	snapshots    prometheus.Counter

	totalStarted   int64
	totalFailed    int64
	totalSnapshots int64
}

// NewMetrics создает сборщик метрик. С nil Registerer экспорт в
// Prometheus отключен.
func NewMetrics(config MetricsConfig) *Metrics {
	m := &Metrics{}
	if config.Registerer == nil {
		return m
	}

	factory := promauto.With(config.Registerer)
	m.exportEnabled = true
	m.callsStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "calls_started_total",
		Help:      "Количество попыток вызова",
	})
	m.callsFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "calls_failed_total",
		Help:      "Количество вызовов, завершившихся ошибкой",
	})
	m.callsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "calls_active",
		Help:      "Вызовы в состоянии connecting/active",
	})
	m.callDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "call_duration_seconds",
		Help:      "Длительность завершенных вызовов",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
	m.snapshots = factory.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "stats_snapshots_total",
		Help:      "Количество срезов статистики",
	})
	return m
}

// CallStarted учитывает новую попытку вызова
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.totalStarted, 1)
	if m.exportEnabled {
		m.callsStarted.Inc()
		m.callsActive.Inc()
	}
}

// CallFailed учитывает вызов, завершившийся ошибкой
func (m *Metrics) CallFailed() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.totalFailed, 1)
	if m.exportEnabled {
		m.callsFailed.Inc()
	}
}

// CallEnded учитывает завершение вызова любой причины
func (m *Metrics) CallEnded(duration time.Duration) {
	if m == nil {
		return
	}
	if m.exportEnabled {
		m.callsActive.Dec()
		m.callDuration.Observe(duration.Seconds())
	}
}

// SnapshotObserved учитывает полученный срез статистики
func (m *Metrics) SnapshotObserved() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.totalSnapshots, 1)
	if m.exportEnabled {
		m.snapshots.Inc()
	}
}

// Counters возвращает атомарные счетчики для диагностики
func (m *Metrics) Counters() map[string]int64 {
	if m == nil {
		return nil
	}
	return map[string]int64{
		"calls_started":   atomic.LoadInt64(&m.totalStarted),
		"calls_failed":    atomic.LoadInt64(&m.totalFailed),
		"stats_snapshots": atomic.LoadInt64(&m.totalSnapshots),
	}
}
