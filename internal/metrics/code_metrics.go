package metrics

import "github.com/prometheus/client_golang/prometheus"

// CodeMetrics содержит метрики генератора кодов заказов.
type CodeMetrics struct {
	collisions prometheus.Counter
	exhausted  prometheus.Counter
	generated  prometheus.Counter
	// attempts: сколько проверок уникальности потребовалось на один код.
	attempts prometheus.Histogram
}

// NewCodeMetrics регистрирует метрики в DefaultRegisterer.
func NewCodeMetrics() *CodeMetrics {
	return NewCodeMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCodeMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCodeMetricsWithRegisterer(registerer prometheus.Registerer) *CodeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CodeMetrics{
		collisions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_order_code_collisions_total",
			Help: "Total number of generated order codes that already existed",
		}),
		exhausted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_order_code_exhausted_total",
			Help: "Total number of order code generations that ran out of attempts",
		}),
		generated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_order_code_generated_total",
			Help: "Total number of unique order codes handed out",
		}),
		attempts: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_code_attempts",
			Help:    "Uniqueness checks needed to obtain an order code",
			Buckets: []float64{1, 2, 3, 5, 10, 25},
		}),
	}
}

// RecordCollision увеличивает счётчик коллизий.
func (m *CodeMetrics) RecordCollision() {
	if m == nil {
		return
	}
	m.collisions.Inc()
}

// RecordExhausted фиксирует исчерпание попыток.
func (m *CodeMetrics) RecordExhausted(attempts int) {
	if m == nil {
		return
	}
	m.exhausted.Inc()
	m.attempts.Observe(float64(attempts))
}

// RecordGenerated фиксирует успешную выдачу кода.
func (m *CodeMetrics) RecordGenerated(attempts int) {
	if m == nil {
		return
	}
	m.generated.Inc()
	m.attempts.Observe(float64(attempts))
}
